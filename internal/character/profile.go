// Package character defines NPC persona profiles and their on-disk registry.
//
// A profile describes one roleplay character: who it is, how its system
// prompt is customized, and what happens when the player completes its
// task. Profiles are stored as one JSON file each and are read-only to
// the conversation engine.
package character

import (
	"strings"

	"github.com/google/uuid"
)

// Profile is one configured NPC persona.
type Profile struct {
	// ID is the stable unique identity of the character.
	ID uuid.UUID `json:"id"`
	// DisplayID is a small positive integer assigned by the registry,
	// used for human-browsable file names and command arguments.
	DisplayID int `json:"displayId"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Persona     string `json:"persona,omitempty"`

	// ModelOverride replaces the provider's configured model for this
	// character only.
	ModelOverride string `json:"modelOverride,omitempty"`
	// ProviderOverride routes this character to a named provider
	// instead of the default.
	ProviderOverride string `json:"providerOverride,omitempty"`

	// FreezeAI marks the character as non-conversational (display only).
	FreezeAI bool `json:"freezeAi,omitempty"`

	Prompt *PromptOverride `json:"promptOverride,omitempty"`
}

// Success returns the character's success behavior, or nil when none is
// configured. Nil-safe on a nil profile.
func (p *Profile) Success() *SuccessBehavior {
	if p == nil || p.Prompt == nil {
		return nil
	}
	return p.Prompt.Success
}

// PromptOverride holds optional per-character prompt customizations.
type PromptOverride struct {
	// SystemTemplate replaces the global system prompt template.
	SystemTemplate string `json:"systemTemplate,omitempty"`
	// WelcomeMessage is a template shown once per session when the
	// conversation opens. Blank means no welcome.
	WelcomeMessage string `json:"welcomeMessage,omitempty"`
	// ExtraNotes are appended after any inherited global notes.
	ExtraNotes []string `json:"extraNotes,omitempty"`
	// Variables are static substitution values for {key} tokens.
	Variables map[string]string `json:"variables,omitempty"`
	// InheritDefaultNotes controls whether global notes are included.
	// Absent means true.
	InheritDefaultNotes *bool `json:"inheritDefaultNotes,omitempty"`
	// VariableCandidates maps a variable name to a list of candidate
	// values. One is drawn at random the first time a session needs it
	// and the choice sticks for the life of the session.
	VariableCandidates map[string][]string `json:"variableCandidates,omitempty"`

	Success *SuccessBehavior `json:"success,omitempty"`
}

// HasTemplate reports whether a non-blank system template override exists.
func (o *PromptOverride) HasTemplate() bool {
	return o != nil && strings.TrimSpace(o.SystemTemplate) != ""
}

// InheritsDefaultNotes reports whether global notes should be appended.
func (o *PromptOverride) InheritsDefaultNotes() bool {
	return o == nil || o.InheritDefaultNotes == nil || *o.InheritDefaultNotes
}

// SuccessBehavior describes how a character reacts when the player
// completes its task.
type SuccessBehavior struct {
	// Triggers are literal reply strings that signal completion. When
	// empty, the engine falls back to its built-in trigger.
	Triggers []string `json:"triggers,omitempty"`
	// Message is shown (and persisted) in place of the raw trigger reply.
	Message string `json:"message,omitempty"`
	// ContinueConversation keeps the session alive after success.
	ContinueConversation *bool `json:"continueConversation,omitempty"`
	// ResetConversation is the legacy spelling, honored only when
	// ContinueConversation is absent.
	ResetConversation *bool `json:"resetConversation,omitempty"`

	RewardPool []RewardOption `json:"rewardPool,omitempty"`
}

// ShouldReset reports whether the session is cleared after success.
// ContinueConversation wins when present; otherwise the legacy
// ResetConversation flag applies; the default is to reset.
func (s *SuccessBehavior) ShouldReset() bool {
	if s == nil {
		return true
	}
	if s.ContinueConversation != nil {
		return !*s.ContinueConversation
	}
	if s.ResetConversation != nil {
		return *s.ResetConversation
	}
	return true
}

// HasRewards reports whether a non-empty reward pool is configured.
func (s *SuccessBehavior) HasRewards() bool {
	return s != nil && len(s.RewardPool) > 0
}

// RewardOption is one candidate reward grantable on success. Commands
// and messages are templates carrying {player}, {villager}, and {uuid}
// tokens that are substituted at grant time.
type RewardOption struct {
	Name     string   `json:"name,omitempty"`
	Commands []string `json:"commands,omitempty"`
	Messages []string `json:"messages,omitempty"`
	Weight   float64  `json:"weight,omitempty"`
}

// Actionable reports whether granting this option would do anything.
func (r RewardOption) Actionable() bool {
	return len(r.Commands) > 0 || len(r.Messages) > 0
}
