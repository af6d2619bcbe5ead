package conversation

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type sessionKey struct {
	user      uuid.UUID
	character uuid.UUID
}

// Manager owns the in-memory session cache and the "which character is
// this user talking to" pointer. Sessions load from the Store at most
// once and stay pinned until explicitly ended or cleared; every mutation
// is written through immediately.
type Manager struct {
	store  *Store
	window int
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	active   map[uuid.UUID]uuid.UUID
}

// NewManager creates a manager backed by store. window is the number of
// recent turns offered to prompt assembly; values below 1 fall back to 1.
func NewManager(store *Store, window int, logger *slog.Logger) *Manager {
	if window < 1 {
		window = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		window:   window,
		logger:   logger.With("component", "sessions"),
		sessions: map[sessionKey]*Session{},
		active:   map[uuid.UUID]uuid.UUID{},
	}
}

// GetOrCreate returns the cached session for the pair, loading durable
// state on first access. It also marks the character as the user's
// active conversation partner, replacing any previous one.
func (m *Manager) GetOrCreate(userID, characterID uuid.UUID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active[userID] = characterID

	key := sessionKey{user: userID, character: characterID}
	if s, ok := m.sessions[key]; ok {
		return s
	}

	s := NewSession(userID, characterID)
	s.restore(m.store.Load(userID, characterID))
	m.sessions[key] = s
	if s.Len() > 0 {
		m.logger.Debug("restored conversation history",
			"user", userID, "character", characterID, "turns", s.Len())
	}
	return s
}

// Peek returns the cached session without loading or creating one.
func (m *Manager) Peek(userID, characterID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey{user: userID, character: characterID}]
	return s, ok
}

// ActiveCharacter returns the character the user is currently talking
// to, if any.
func (m *Manager) ActiveCharacter(userID uuid.UUID) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[userID]
	return id, ok
}

// EndForUser drops the user's active session from memory and reports
// whether one was active. The durable history is kept, so walking back
// up to the character resumes where the conversation left off.
func (m *Manager) EndForUser(userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	characterID, ok := m.active[userID]
	if !ok {
		return false
	}
	delete(m.active, userID)
	delete(m.sessions, sessionKey{user: userID, character: characterID})
	return true
}

// ClearForUser erases the user's conversation with a character from
// both memory and durable storage. Reports whether anything existed in
// either place. Dropping the cached session means the next conversation
// starts fresh, prompt variables included.
func (m *Manager) ClearForUser(userID, characterID uuid.UUID) bool {
	m.mu.Lock()
	key := sessionKey{user: userID, character: characterID}
	_, existed := m.sessions[key]
	delete(m.sessions, key)
	if m.active[userID] == characterID {
		delete(m.active, userID)
	}
	m.mu.Unlock()

	if m.store.Clear(userID, characterID) {
		existed = true
	}
	return existed
}

// ClearAllForCharacter erases every user's conversation with a
// character, in memory and on disk.
func (m *Manager) ClearAllForCharacter(characterID uuid.UUID) {
	m.mu.Lock()
	for key := range m.sessions {
		if key.character == characterID {
			delete(m.sessions, key)
		}
	}
	for user, char := range m.active {
		if char == characterID {
			delete(m.active, user)
		}
	}
	m.mu.Unlock()

	m.store.ClearAll(characterID)
}

// Save writes a session through to durable storage.
func (m *Manager) Save(s *Session) {
	m.store.Save(s)
}

// WindowedTurns returns the most recent turns of the session, at most
// the configured window, in chronological order.
func (m *Manager) WindowedTurns(s *Session) []Turn {
	turns := s.Turns()
	if len(turns) > m.window {
		turns = turns[len(turns)-m.window:]
	}
	return turns
}

// Window returns the configured memory window size.
func (m *Manager) Window() int {
	return m.window
}

// Shutdown flushes every cached session to storage.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.store.Save(s)
	}
	if len(sessions) > 0 {
		m.logger.Info("flushed sessions on shutdown", "count", len(sessions))
	}
}
