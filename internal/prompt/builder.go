// Package prompt assembles system prompts for character conversations:
// template resolution, {key} token substitution, note stitching, and
// one-shot resolution of randomized prompt variables.
package prompt

import (
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/arceus/mrp/internal/character"
	"github.com/arceus/mrp/internal/conversation"
)

// fallbackTemplate is used when neither the character nor the global
// config supplies a system template.
const fallbackTemplate = "You are roleplaying as {name}, talking with the player {user}. Character background: {description}"

const notesHeader = "Additional notes:"

// Settings are the globally configured prompt defaults.
type Settings struct {
	// SystemTemplate is the global system prompt template. Blank means
	// fall back to the built-in template.
	SystemTemplate string
	// ExtraNotes are appended to every character's prompt unless the
	// character opts out of inheritance.
	ExtraNotes []string
}

// Builder renders system prompts from a profile, a session, and the
// global settings.
type Builder struct {
	settings Settings
}

// NewBuilder creates a builder with the given global settings.
func NewBuilder(settings Settings) *Builder {
	return &Builder{settings: settings}
}

// BuildSystemPrompt renders the full system prompt for one exchange:
// the resolved template with all tokens substituted, followed by the
// note block when any notes apply.
func (b *Builder) BuildSystemPrompt(profile *character.Profile, session *conversation.Session, userName string) string {
	var override *character.PromptOverride
	if profile != nil {
		override = profile.Prompt
	}

	template := ""
	if override.HasTemplate() {
		template = override.SystemTemplate
	}
	if strings.TrimSpace(template) == "" {
		template = b.settings.SystemTemplate
	}
	if strings.TrimSpace(template) == "" {
		template = fallbackTemplate
	}

	replacements := b.buildReplacements(profile, session, userName)
	rendered := applyReplacements(template, replacements)

	var notes []string
	if len(b.settings.ExtraNotes) > 0 && override.InheritsDefaultNotes() {
		for _, note := range b.settings.ExtraNotes {
			notes = append(notes, applyReplacements(note, replacements))
		}
	}
	if override != nil {
		for _, note := range override.ExtraNotes {
			notes = append(notes, applyReplacements(note, replacements))
		}
	}
	if len(notes) > 0 {
		rendered += "\n" + notesHeader + "\n" + strings.Join(notes, "\n")
	}
	return rendered
}

// RenderTemplate substitutes the standard replacement set into an
// arbitrary template, for things like welcome messages. Blank input
// renders to the empty string.
func (b *Builder) RenderTemplate(template string, profile *character.Profile, session *conversation.Session, userName string) string {
	if strings.TrimSpace(template) == "" {
		return ""
	}
	return applyReplacements(template, b.buildReplacements(profile, session, userName))
}

// replacement is one {key} substitution pair. Pairs are applied in
// order, so a value inserted by an earlier pass can still contain
// tokens that later passes expand.
type replacement struct {
	key   string
	value string
}

// buildReplacements assembles the substitution list. Insertion order is
// built-ins, then the character's static variables, then the session's
// resolved variables; a later source overrides the value of a shared
// key without moving it forward in the pass order.
func (b *Builder) buildReplacements(profile *character.Profile, session *conversation.Session, userName string) []replacement {
	name := "the character"
	description := "This character has no background yet."
	persona := ""
	if profile != nil {
		if profile.Name != "" {
			name = profile.Name
		}
		if profile.Description != "" {
			description = profile.Description
		}
		persona = profile.Persona
	}
	if userName == "" {
		userName = "the player"
	}

	ordered := []replacement{
		{"name", name},
		{"user", userName},
		{"description", description},
		{"persona", persona},
	}
	index := map[string]int{"name": 0, "user": 1, "description": 2, "persona": 3}
	add := func(k, v string) {
		if i, ok := index[k]; ok {
			ordered[i].value = v
			return
		}
		index[k] = len(ordered)
		ordered = append(ordered, replacement{k, v})
	}
	if profile != nil && profile.Prompt != nil {
		for _, k := range sortedKeys(profile.Prompt.Variables) {
			add(k, profile.Prompt.Variables[k])
		}
	}
	if session != nil {
		vars := session.Variables()
		for _, k := range sortedKeys(vars) {
			add(k, vars[k])
		}
	}
	return ordered
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applyReplacements performs literal {key} substitution, one pass per
// pair in order. Tokens with no matching key are left verbatim.
func applyReplacements(template string, replacements []replacement) string {
	result := template
	for _, r := range replacements {
		result = strings.ReplaceAll(result, "{"+r.key+"}", r.value)
	}
	return result
}

// ResolveVariables draws values for the character's randomized variable
// candidates and memoizes them in the session. Each variable is drawn
// at most once per session: an already-resolved key is skipped, so the
// choice sticks for the session's lifetime. Blank candidates are
// filtered before drawing.
func ResolveVariables(profile *character.Profile, session *conversation.Session) {
	if profile == nil || profile.Prompt == nil || session == nil {
		return
	}
	for key, candidates := range profile.Prompt.VariableCandidates {
		if key == "" || session.HasVariable(key) {
			continue
		}
		pool := make([]string, 0, len(candidates))
		for _, c := range candidates {
			if strings.TrimSpace(c) != "" {
				pool = append(pool, c)
			}
		}
		if len(pool) == 0 {
			continue
		}
		session.SetVariable(key, pool[rand.IntN(len(pool))])
	}
}
