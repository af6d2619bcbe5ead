// Package conversation owns per-(user, character) chat state: the
// append-only turn history, session-scoped prompt variables, the
// in-memory session cache, and the durable JSON store behind it.
package conversation

import "time"

// Role identifies the author of a turn.
type Role int

const (
	RoleSystem Role = iota
	RoleUser
	RoleAssistant
)

// String returns the storage spelling of the role (uppercase).
func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "SYSTEM"
	case RoleUser:
		return "USER"
	default:
		return "ASSISTANT"
	}
}

// Wire returns the role as LLM APIs expect it (lowercase).
func (r Role) Wire() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	default:
		return "assistant"
	}
}

// ParseRole maps a stored role string back to a Role. Unrecognized
// values fall back to RoleAssistant so history files written by older
// builds still load. Matching is case-insensitive.
func ParseRole(s string) Role {
	switch s {
	case "SYSTEM", "system":
		return RoleSystem
	case "USER", "user":
		return RoleUser
	default:
		return RoleAssistant
	}
}

// Turn is one role-tagged message within a session. Turns are immutable
// once appended.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}
