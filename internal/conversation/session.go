package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Session is the cached, mutable conversation state for one
// (user, character) pair. It is not safe for concurrent use; the
// Manager and the chat service's completion loop are the only writers,
// and the per-user pending claim keeps them from overlapping.
type Session struct {
	UserID      uuid.UUID
	CharacterID uuid.UUID

	turns            []Turn
	variables        map[string]string
	welcomeDelivered bool
}

// NewSession creates an empty session for the given pair.
func NewSession(userID, characterID uuid.UUID) *Session {
	return &Session{
		UserID:      userID,
		CharacterID: characterID,
		variables:   map[string]string{},
	}
}

// Append adds a turn stamped with the current time and returns it.
// Timestamps are truncated to whole seconds, matching the precision of
// the durable format.
func (s *Session) Append(role Role, content string) Turn {
	t := Turn{Role: role, Content: content, Timestamp: time.Now().UTC().Truncate(time.Second)}
	s.turns = append(s.turns, t)
	return t
}

// Turns returns a copy of the turn history in append order.
func (s *Session) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns.
func (s *Session) Len() int {
	return len(s.turns)
}

// ClearTurns discards the history and the welcome flag. Resolved prompt
// variables survive a clear; they are fixed for the session's lifetime.
func (s *Session) ClearTurns() {
	s.turns = nil
	s.welcomeDelivered = false
}

// SetVariable records a resolved prompt variable. First write wins:
// an already-present key is never overwritten, which is what makes
// randomized candidate resolution one-shot.
func (s *Session) SetVariable(key, value string) {
	if key == "" {
		return
	}
	if _, ok := s.variables[key]; ok {
		return
	}
	s.variables[key] = value
}

// Variable returns the resolved value for key.
func (s *Session) Variable(key string) (string, bool) {
	v, ok := s.variables[key]
	return v, ok
}

// HasVariable reports whether key has been resolved.
func (s *Session) HasVariable(key string) bool {
	_, ok := s.variables[key]
	return ok
}

// Variables returns a copy of the resolved variable map.
func (s *Session) Variables() map[string]string {
	out := make(map[string]string, len(s.variables))
	for k, v := range s.variables {
		out[k] = v
	}
	return out
}

// WelcomeDelivered reports whether the character's welcome message has
// been shown for this session.
func (s *Session) WelcomeDelivered() bool {
	return s.welcomeDelivered
}

// SetWelcomeDelivered marks the welcome message as shown.
func (s *Session) SetWelcomeDelivered(v bool) {
	s.welcomeDelivered = v
}

// restore replaces the session's state from a durable snapshot.
func (s *Session) restore(snap Snapshot) {
	s.turns = append([]Turn(nil), snap.Turns...)
	s.variables = map[string]string{}
	for k, v := range snap.Variables {
		s.variables[k] = v
	}
	s.welcomeDelivered = snap.WelcomeDelivered
}
