package character

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Registry loads and indexes character profiles from a directory of
// JSON files, one file per profile. It assigns display IDs to profiles
// that lack one and re-saves the affected files so the IDs stay stable
// across restarts.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu       sync.RWMutex
	profiles map[uuid.UUID]*Profile
	files    map[uuid.UUID]string
	idIndex  map[int]uuid.UUID
	nextID   int
}

// NewRegistry creates a registry rooted at dir. Call Load before use.
func NewRegistry(dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dir:      dir,
		logger:   logger.With("component", "characters"),
		profiles: map[uuid.UUID]*Profile{},
		files:    map[uuid.UUID]string{},
		idIndex:  map[int]uuid.UUID{},
		nextID:   1,
	}
}

// Load reads every *.json profile in the registry directory. Files that
// fail to parse are logged and skipped. Profiles missing a display ID
// get one assigned and are re-saved.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiles = map[uuid.UUID]*Profile{}
	r.files = map[uuid.UUID]string{}
	r.idIndex = map[int]uuid.UUID{}
	r.nextID = 1

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create character directory: %w", err)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read character directory: %w", err)
	}

	needsResave := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		if r.readProfile(path) {
			needsResave = true
		}
	}

	r.logger.Info("loaded character profiles", "count", len(r.profiles))

	if needsResave {
		r.logger.Info("assigned missing display IDs, re-saving profiles")
		r.saveAllLocked()
	}
	return nil
}

// readProfile parses one profile file. Returns true if the profile was
// assigned a fresh display ID and needs re-saving.
func (r *Registry) readProfile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("read character profile failed", "path", path, "error", err)
		return false
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		r.logger.Warn("parse character profile failed", "path", path, "error", err)
		return false
	}
	if p.ID == uuid.Nil {
		r.logger.Warn("character profile has no id, skipping", "path", path)
		return false
	}
	assigned := r.ensureDisplayID(&p)
	r.profiles[p.ID] = &p
	r.files[p.ID] = path
	r.idIndex[p.DisplayID] = p.ID
	return assigned
}

// ensureDisplayID assigns the next free display ID when the profile has
// none, or when its claimed ID collides with another profile. Returns
// true when an assignment happened.
func (r *Registry) ensureDisplayID(p *Profile) bool {
	if p.DisplayID > 0 {
		existing, taken := r.idIndex[p.DisplayID]
		if !taken || existing == p.ID {
			r.idIndex[p.DisplayID] = p.ID
			if p.DisplayID >= r.nextID {
				r.nextID = p.DisplayID + 1
			}
			return false
		}
	}

	for {
		if _, taken := r.idIndex[r.nextID]; !taken {
			break
		}
		r.nextID++
	}
	p.DisplayID = r.nextID
	r.idIndex[r.nextID] = p.ID
	r.nextID++
	return true
}

// Get returns the profile for id.
func (r *Registry) Get(id uuid.UUID) (*Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

// GetByDisplayID returns the profile carrying the given display ID.
func (r *Registry) GetByDisplayID(displayID int) (*Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.idIndex[displayID]
	if !ok {
		return nil, false
	}
	p, ok := r.profiles[id]
	return p, ok
}

// DisplayID returns the display ID for a character, or 0 when unknown.
// The conversation store uses this to build browsable directory names.
func (r *Registry) DisplayID(id uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[id]; ok {
		return p.DisplayID
	}
	return 0
}

// All returns every profile sorted by display ID.
func (r *Registry) All() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayID < out[j].DisplayID })
	return out
}

// FindByName returns profiles whose name contains keyword, case-insensitively.
func (r *Registry) FindByName(keyword string) []*Profile {
	lower := strings.ToLower(keyword)
	var out []*Profile
	for _, p := range r.All() {
		if strings.Contains(strings.ToLower(p.Name), lower) {
			out = append(out, p)
		}
	}
	return out
}

// Register adds or replaces a profile and persists it.
func (r *Registry) Register(p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == nil || p.ID == uuid.Nil {
		return fmt.Errorf("profile must carry an id")
	}
	if prev, ok := r.profiles[p.ID]; ok {
		delete(r.idIndex, prev.DisplayID)
	}
	r.ensureDisplayID(p)
	r.profiles[p.ID] = p
	return r.saveLocked(p)
}

// Remove deletes a profile and its backing file.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if ok {
		delete(r.idIndex, p.DisplayID)
	}
	delete(r.profiles, id)
	path, ok := r.files[id]
	delete(r.files, id)
	if !ok {
		path = filepath.Join(r.dir, id.String()+".json")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("delete character profile failed", "path", path, "error", err)
	}
}

func (r *Registry) saveAllLocked() {
	for _, p := range r.profiles {
		if err := r.saveLocked(p); err != nil {
			r.logger.Warn("save character profile failed", "character", p.ID, "error", err)
		}
	}
}

func (r *Registry) saveLocked(p *Profile) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create character directory: %w", err)
	}
	target := filepath.Join(r.dir, profileFileName(p))
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.ID, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write profile %s: %w", p.ID, err)
	}
	// A rename (new display ID or name) leaves the old file behind.
	if prev, ok := r.files[p.ID]; ok && prev != target {
		if err := os.Remove(prev); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("delete stale profile file failed", "path", prev, "error", err)
		}
	}
	r.files[p.ID] = target
	return nil
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9-_]+`)

// Slugify reduces a character name to a filesystem-safe token: lowered,
// non-alphanumerics collapsed to single underscores, capped at 32 runes.
// Empty input yields "character".
func Slugify(name string) string {
	base := strings.ToLower(strings.TrimSpace(name))
	base = slugUnsafe.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")
	for strings.Contains(base, "__") {
		base = strings.ReplaceAll(base, "__", "_")
	}
	if len(base) > 32 {
		base = base[:32]
	}
	if base == "" {
		base = "character"
	}
	return base
}

func profileFileName(p *Profile) string {
	return fmt.Sprintf("%05d_%s.json", p.DisplayID, Slugify(p.Name))
}
