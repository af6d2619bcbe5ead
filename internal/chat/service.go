// Package chat orchestrates one exchange between a user and a
// character: claim, prompt assembly, provider dispatch, and success
// handling, with a strict single-writer rule for session state.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/arceus/mrp/internal/character"
	"github.com/arceus/mrp/internal/config"
	"github.com/arceus/mrp/internal/conversation"
	"github.com/arceus/mrp/internal/prompt"
	"github.com/arceus/mrp/internal/provider"
	"github.com/arceus/mrp/internal/usage"
)

// Sentinel errors for the pre-dispatch rejection paths. All of them
// fire before any session or storage mutation.
var (
	ErrBusy       = errors.New("a reply for this user is already in flight")
	ErrNoProvider = errors.New("no provider is configured")
	ErrNoProfile  = errors.New("character profile not found")
	ErrFrozen     = errors.New("character does not converse")
)

const (
	// silenceReply replaces a blank provider reply so an empty turn is
	// never persisted.
	silenceReply = "(silence)"
	// defaultSuccessReply is used when a character signals success but
	// configures no message of its own.
	defaultSuccessReply = "Congratulations, you got it right!"
)

var defaultTriggers = []string{"SUCCESS"}

// Result is the outcome of one exchange. Exactly one of Text or Err is
// meaningful; Reward rides along on successful task completion.
type Result struct {
	Text   string
	Reward *Reward
	Err    error
}

// Providers is the provider registry surface the service needs.
type Providers interface {
	Default() (provider.Provider, bool)
	Get(name string) (provider.Provider, bool)
	Config(name string) (config.ProviderConfig, bool)
}

// Profiles is the character registry surface the service needs.
type Profiles interface {
	Get(id uuid.UUID) (*character.Profile, bool)
}

// Transcript receives conversation lines for the per-character
// transcript files.
type Transcript interface {
	Log(characterID uuid.UUID, characterName string, userID uuid.UUID, userName string, role conversation.Role, content string)
}

// UsageRecorder receives token accounting after each generation.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// completion is one finished provider call, handed to the run loop.
// The run loop is the only completion-path mutator of session state.
type completion struct {
	userID   uuid.UUID
	userName string
	profile  *character.Profile
	session  *conversation.Session
	provider string
	model    string
	resp     *provider.Response
	err      error
	ch       chan Result
}

// Service runs the chat pipeline. At most one exchange per user is in
// flight at a time.
type Service struct {
	logger     *slog.Logger
	profiles   Profiles
	providers  Providers
	sessions   *conversation.Manager
	builder    *prompt.Builder
	transcript Transcript    // optional
	usage      UsageRecorder // optional
	maxTokens  int

	pendingMu sync.Mutex
	pending   map[uuid.UUID]struct{}

	completions chan completion
	done        chan struct{}
	stopped     chan struct{}
}

// Options carries the optional service collaborators.
type Options struct {
	Transcript Transcript
	Usage      UsageRecorder
	// MaxResponseTokens caps generated reply length. Zero falls back to
	// the package default.
	MaxResponseTokens int
}

// NewService wires the chat pipeline and starts its completion loop.
func NewService(profiles Profiles, providers Providers, sessions *conversation.Manager, builder *prompt.Builder, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	maxTokens := opts.MaxResponseTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultResponseTokens
	}
	s := &Service{
		logger:      logger.With("component", "chat"),
		profiles:    profiles,
		providers:   providers,
		sessions:    sessions,
		builder:     builder,
		transcript:  opts.Transcript,
		usage:       opts.Usage,
		maxTokens:   maxTokens,
		pending:     map[uuid.UUID]struct{}{},
		completions: make(chan completion),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go s.run()
	return s
}

// IsProcessing reports whether the user has an exchange in flight.
func (s *Service) IsProcessing(userID uuid.UUID) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	_, ok := s.pending[userID]
	return ok
}

// claim marks the user as pending. Reports whether the claim was won.
func (s *Service) claim(userID uuid.UUID) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if _, ok := s.pending[userID]; ok {
		return false
	}
	s.pending[userID] = struct{}{}
	return true
}

func (s *Service) release(userID uuid.UUID) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	delete(s.pending, userID)
}

// Send runs one exchange. The returned channel delivers exactly one
// Result. Rejections (busy, missing provider or profile) are delivered
// immediately and leave all state untouched; otherwise the user's turn
// is appended durably before dispatch and survives provider failure.
func (s *Service) Send(ctx context.Context, userID uuid.UUID, userName string, characterID uuid.UUID, input string) <-chan Result {
	ch := make(chan Result, 1)

	if !s.claim(userID) {
		ch <- Result{Err: ErrBusy}
		return ch
	}

	profile, ok := s.profiles.Get(characterID)
	if !ok {
		s.release(userID)
		ch <- Result{Err: ErrNoProfile}
		return ch
	}
	if profile.FreezeAI {
		s.release(userID)
		ch <- Result{Err: ErrFrozen}
		return ch
	}

	prov, ok := s.resolveProvider(profile)
	if !ok {
		s.release(userID)
		ch <- Result{Err: ErrNoProvider}
		return ch
	}

	session := s.sessions.GetOrCreate(userID, characterID)
	prompt.ResolveVariables(profile, session)

	session.Append(conversation.RoleUser, input)
	s.sessions.Save(session)
	s.logTranscript(profile, userID, userName, conversation.RoleUser, input)

	systemPrompt := s.builder.BuildSystemPrompt(profile, session, userName)

	windowed := s.sessions.WindowedTurns(session)
	messages := make([]provider.Message, 0, len(windowed)+1)
	messages = append(messages, provider.Message{Role: conversation.RoleSystem.Wire(), Content: systemPrompt})
	for _, t := range windowed {
		messages = append(messages, provider.Message{Role: t.Role.Wire(), Content: t.Content})
	}

	temperature := config.DefaultTemperature
	// Usage rows carry the model actually used, so a character without
	// an override is attributed to the provider's configured model.
	model := profile.ModelOverride
	if cfg, ok := s.providers.Config(prov.Name()); ok {
		temperature = cfg.Temperature
		if model == "" {
			model = cfg.Model
		}
	}

	req := provider.Request{
		Messages:    messages,
		MaxTokens:   s.maxTokens,
		Temperature: temperature,
		Model:       profile.ModelOverride,
	}

	s.logger.Debug("dispatching exchange",
		"user", userID, "character", profile.Name,
		"provider", prov.Name(), "turns", len(windowed))

	go func() {
		resp, err := prov.Generate(ctx, req)
		c := completion{
			userID:   userID,
			userName: userName,
			profile:  profile,
			session:  session,
			provider: prov.Name(),
			model:    model,
			resp:     resp,
			err:      err,
			ch:       ch,
		}
		select {
		case s.completions <- c:
		case <-s.done:
			s.release(userID)
			ch <- Result{Err: errors.New("chat service shut down")}
		}
	}()

	return ch
}

// resolveProvider picks the character's provider override when present,
// falling back to the default.
func (s *Service) resolveProvider(profile *character.Profile) (provider.Provider, bool) {
	if profile.ProviderOverride != "" {
		if p, ok := s.providers.Get(profile.ProviderOverride); ok {
			return p, true
		}
		s.logger.Warn("provider override not found, using default",
			"character", profile.Name, "provider", profile.ProviderOverride)
	}
	return s.providers.Default()
}

// run drains completions serially. This goroutine is the only
// completion-path writer of session state, which is what makes the
// post-generation sequence safe without per-session locks.
func (s *Service) run() {
	defer close(s.stopped)
	for {
		select {
		case c := <-s.completions:
			s.finish(c)
		case <-s.done:
			return
		}
	}
}

// finish handles one completed generation. The claim is released only
// after every session mutation for this exchange is done, so the next
// exchange the user starts can never interleave with this one's writes.
func (s *Service) finish(c completion) {
	res := s.resolve(c)
	s.release(c.userID)
	c.ch <- res
}

// resolve classifies the reply and applies the exchange's terminal
// session mutations.
func (s *Service) resolve(c completion) Result {
	if c.err != nil {
		s.logger.Warn("generation failed",
			"user", c.userID, "character", c.profile.Name, "error", c.err)
		return Result{Err: fmt.Errorf("generate reply: %w", c.err)}
	}

	s.recordUsage(c)

	reply := strings.TrimSpace(c.resp.Content)
	if s.isSuccess(reply, c.profile.Success()) {
		return s.handleSuccess(c)
	}

	if reply == "" {
		reply = silenceReply
	}

	c.session.Append(conversation.RoleAssistant, reply)
	s.sessions.Save(c.session)
	s.logTranscript(c.profile, c.userID, c.userName, conversation.RoleAssistant, reply)

	return Result{Text: reply}
}

// isSuccess classifies a trimmed reply. The trigger list is checked
// first, then the configured success message; both comparisons are
// case-insensitive exact matches.
func (s *Service) isSuccess(reply string, sb *character.SuccessBehavior) bool {
	if reply == "" {
		return false
	}
	triggers := defaultTriggers
	if sb != nil && len(sb.Triggers) > 0 {
		triggers = sb.Triggers
	}
	for _, trigger := range triggers {
		if strings.EqualFold(reply, strings.TrimSpace(trigger)) {
			return true
		}
	}
	if sb == nil || sb.Message == "" {
		return false
	}
	return strings.EqualFold(reply, sb.Message)
}

// handleSuccess appends the success message, draws a reward, and clears
// the session unless the character asks to keep talking.
func (s *Service) handleSuccess(c completion) Result {
	sb := c.profile.Success()

	message := defaultSuccessReply
	if sb != nil && strings.TrimSpace(sb.Message) != "" {
		message = strings.TrimSpace(sb.Message)
	}

	c.session.Append(conversation.RoleAssistant, message)
	s.sessions.Save(c.session)
	s.logTranscript(c.profile, c.userID, c.userName, conversation.RoleAssistant, message)

	var reward *Reward
	if sb.HasRewards() {
		reward = selectReward(sb.RewardPool, c.userName, c.profile.Name, c.userID)
		if reward != nil {
			s.logger.Info("reward granted",
				"user", c.userID, "character", c.profile.Name, "reward", reward.Name)
		}
	}

	if sb.ShouldReset() {
		s.sessions.ClearForUser(c.userID, c.profile.ID)
	}

	s.logger.Info("task completed",
		"user", c.userID, "character", c.profile.Name, "reset", sb.ShouldReset())

	return Result{Text: message, Reward: reward}
}

// Welcome renders the character's welcome message the first time a
// session opens, marking it delivered so it shows once per session.
func (s *Service) Welcome(userID uuid.UUID, userName string, characterID uuid.UUID) (string, bool) {
	profile, ok := s.profiles.Get(characterID)
	if !ok || profile.Prompt == nil || strings.TrimSpace(profile.Prompt.WelcomeMessage) == "" {
		return "", false
	}

	session := s.sessions.GetOrCreate(userID, characterID)
	if session.WelcomeDelivered() {
		return "", false
	}

	prompt.ResolveVariables(profile, session)
	text := s.builder.RenderTemplate(profile.Prompt.WelcomeMessage, profile, session, userName)
	if strings.TrimSpace(text) == "" {
		return "", false
	}

	session.SetWelcomeDelivered(true)
	s.sessions.Save(session)
	s.logTranscript(profile, userID, userName, conversation.RoleAssistant, text)
	return text, true
}

func (s *Service) logTranscript(profile *character.Profile, userID uuid.UUID, userName string, role conversation.Role, content string) {
	if s.transcript == nil {
		return
	}
	s.transcript.Log(profile.ID, profile.Name, userID, userName, role, content)
}

func (s *Service) recordUsage(c completion) {
	if s.usage == nil || c.resp == nil {
		return
	}
	if c.resp.PromptTokens == 0 && c.resp.CompletionTokens == 0 {
		return
	}
	rec := usage.Record{
		UserID:           c.userID,
		CharacterID:      c.profile.ID,
		Provider:         c.provider,
		Model:            c.model,
		PromptTokens:     c.resp.PromptTokens,
		CompletionTokens: c.resp.CompletionTokens,
	}
	if err := s.usage.Record(context.Background(), rec); err != nil {
		s.logger.Warn("record usage failed", "error", err)
	}
}

// Close stops the completion loop. In-flight generations deliver a
// shutdown error to their callers.
func (s *Service) Close() {
	close(s.done)
	<-s.stopped
}
