package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists conversation history as one JSON document per
// (character, user) pair.
//
// The canonical layout is {root}/{displayId:05d}_{characterUUID}/{userUUID}.json
// so operators can find a character's folder by its display ID. Early
// builds wrote {root}/{characterUUID}/{userUUID}.json; that legacy path
// is still read as a fallback and deleted after the next canonical write.
//
// Storage failures are logged and swallowed: the in-memory session stays
// authoritative and the next write gets another chance.
type Store struct {
	root      string
	displayID func(uuid.UUID) int
	logger    *slog.Logger
}

// NewStore creates a store rooted at root. displayID resolves a
// character's display ID for directory naming and may return 0 when the
// character is unknown; a nil func is treated the same way.
func NewStore(root string, displayID func(uuid.UUID) int, logger *slog.Logger) *Store {
	if displayID == nil {
		displayID = func(uuid.UUID) int { return 0 }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:      root,
		displayID: displayID,
		logger:    logger.With("component", "store"),
	}
}

// Snapshot is the durable state of one session.
type Snapshot struct {
	Turns            []Turn
	Variables        map[string]string
	WelcomeDelivered bool
}

// turnRecord is the on-disk spelling of a Turn.
type turnRecord struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// storedConversation is the enriched document format. Bare arrays of
// turnRecord are also accepted on read for files written before the
// wrapper existed.
type storedConversation struct {
	Messages         []turnRecord      `json:"messages"`
	PromptVariables  map[string]string `json:"promptVariables,omitempty"`
	WelcomeDelivered bool              `json:"welcomeDelivered,omitempty"`
}

// Load reads the stored snapshot for a pair. A missing or empty file
// yields an empty snapshot, never an error; read failures are logged
// and also yield an empty snapshot.
func (st *Store) Load(userID, characterID uuid.UUID) Snapshot {
	path := st.file(userID, characterID)
	legacy := st.legacyFile(userID, characterID)
	if _, err := os.Stat(path); err != nil {
		if _, lerr := os.Stat(legacy); lerr == nil {
			path = legacy
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			st.logger.Warn("read conversation history failed", "path", path, "error", err)
		}
		return Snapshot{}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Snapshot{}
	}

	if trimmed[0] == '[' {
		var records []turnRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			st.logger.Warn("parse conversation history failed", "path", path, "error", err)
			return Snapshot{}
		}
		return Snapshot{Turns: st.toTurns(records)}
	}

	var stored storedConversation
	if err := json.Unmarshal(trimmed, &stored); err != nil {
		st.logger.Warn("parse conversation history failed", "path", path, "error", err)
		return Snapshot{}
	}
	return Snapshot{
		Turns:            st.toTurns(stored.Messages),
		Variables:        stored.PromptVariables,
		WelcomeDelivered: stored.WelcomeDelivered,
	}
}

func (st *Store) toTurns(records []turnRecord) []Turn {
	turns := make([]Turn, 0, len(records))
	for _, rec := range records {
		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			// Compatibility shim: a mangled timestamp should not drop
			// the turn.
			ts = time.Now().UTC().Truncate(time.Second)
		}
		turns = append(turns, Turn{
			Role:      ParseRole(rec.Role),
			Content:   rec.Content,
			Timestamp: ts.UTC(),
		})
	}
	return turns
}

// Save writes the full session state to the canonical path, then
// removes the legacy file (and its directory, if emptied) so the
// migration converges. Failures are logged, never returned.
func (st *Store) Save(s *Session) {
	path := st.file(s.UserID, s.CharacterID)

	stored := storedConversation{
		Messages:         make([]turnRecord, 0, s.Len()),
		WelcomeDelivered: s.WelcomeDelivered(),
	}
	for _, t := range s.Turns() {
		stored.Messages = append(stored.Messages, turnRecord{
			Role:      t.Role.String(),
			Content:   t.Content,
			Timestamp: t.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	if vars := s.Variables(); len(vars) > 0 {
		stored.PromptVariables = vars
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		st.logger.Warn("encode conversation history failed", "path", path, "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		st.logger.Warn("create conversation directory failed", "path", path, "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		st.logger.Warn("write conversation history failed", "path", path, "error", err)
		return
	}

	if legacy := st.legacyFile(s.UserID, s.CharacterID); legacy != path {
		st.removeWithEmptyParent(legacy)
	}
}

// Clear deletes the stored history for a pair, reporting whether
// anything existed. Both the canonical and legacy locations are removed.
func (st *Store) Clear(userID, characterID uuid.UUID) bool {
	deleted := st.removeWithEmptyParent(st.file(userID, characterID))
	if legacy := st.legacyFile(userID, characterID); legacy != st.file(userID, characterID) {
		if st.removeWithEmptyParent(legacy) {
			deleted = true
		}
	}
	return deleted
}

// removeWithEmptyParent deletes path and prunes its parent directory if
// that left it empty. Reports whether the file existed.
func (st *Store) removeWithEmptyParent(path string) bool {
	err := os.Remove(path)
	if err != nil {
		if !os.IsNotExist(err) {
			st.logger.Warn("delete conversation history failed", "path", path, "error", err)
		}
		return false
	}
	parent := filepath.Dir(path)
	if entries, err := os.ReadDir(parent); err == nil && len(entries) == 0 {
		if err := os.Remove(parent); err != nil {
			st.logger.Warn("prune conversation directory failed", "path", parent, "error", err)
		}
	}
	return true
}

// ClearAll removes every stored conversation for a character: the
// canonical directory, plus any directory under the root whose name
// merely contains the character's UUID (legacy layouts). Directories
// are deleted deepest-first.
func (st *Store) ClearAll(characterID uuid.UUID) {
	seen := map[string]bool{}
	dirs := []string{st.dir(characterID)}

	entries, err := os.ReadDir(st.root)
	if err != nil {
		if !os.IsNotExist(err) {
			st.logger.Warn("scan conversation root failed", "path", st.root, "error", err)
		}
	} else {
		for _, e := range entries {
			if e.IsDir() && strings.Contains(e.Name(), characterID.String()) {
				dirs = append(dirs, filepath.Join(st.root, e.Name()))
			}
		}
	}

	for _, dir := range dirs {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		st.removeTree(dir)
	}
}

// removeTree deletes a directory subtree bottom-up, logging (but not
// aborting on) individual failures.
func (st *Store) removeTree(dir string) {
	if _, err := os.Stat(dir); err != nil {
		return
	}
	var paths []string
	err := filepath.Walk(dir, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		st.logger.Warn("walk conversation directory failed", "path", dir, "error", err)
		return
	}
	sort.Slice(paths, func(i, j int) bool { return len(paths[i]) > len(paths[j]) })
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			st.logger.Warn("delete conversation path failed", "path", p, "error", err)
		}
	}
}

// dir returns the canonical directory for a character. Characters with
// a known display ID get the browsable {displayId:05d}_{uuid} form; the
// bare UUID is used otherwise.
func (st *Store) dir(characterID uuid.UUID) string {
	if id := st.displayID(characterID); id > 0 {
		return filepath.Join(st.root, fmt.Sprintf("%05d_%s", id, characterID))
	}
	return filepath.Join(st.root, characterID.String())
}

func (st *Store) file(userID, characterID uuid.UUID) string {
	return filepath.Join(st.dir(characterID), userID.String()+".json")
}

func (st *Store) legacyFile(userID, characterID uuid.UUID) string {
	return filepath.Join(st.root, characterID.String(), userID.String()+".json")
}
