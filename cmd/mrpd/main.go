// Mrpd is a roleplay conversation engine for NPC personas.
//
// Characters are JSON profiles with their own personas, prompt
// overrides, and task rules. Users converse with a character through an
// LLM provider; a reply matching the character's success trigger
// completes the task and may grant a reward. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	mrpd init [dir]          Write an example config and character
//	mrpd chat <character>    Talk to a character interactively
//	mrpd characters          List configured characters
//	mrpd providers           List configured providers
//	mrpd usage               Show token usage totals
//	mrpd version             Print version and build information
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/arceus/mrp/internal/buildinfo"
	"github.com/arceus/mrp/internal/character"
	"github.com/arceus/mrp/internal/chat"
	"github.com/arceus/mrp/internal/config"
	"github.com/arceus/mrp/internal/conversation"
	"github.com/arceus/mrp/internal/convlog"
	"github.com/arceus/mrp/internal/prompt"
	"github.com/arceus/mrp/internal/provider"
	"github.com/arceus/mrp/internal/usage"
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments and dispatches to a subcommand. Arguments are
// parsed by hand; the flag package's global state makes concurrent test
// invocations awkward and the surface here is tiny.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var userFlag string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-user" && i+1 < len(args):
			userFlag = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-user="):
			userFlag = strings.TrimPrefix(args[i], "-user=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "init":
		dir := ""
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "chat":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: mrpd chat <character id or name>")
		}
		return runChat(ctx, stdout, configPath, userFlag, strings.Join(cmdArgs, " "))
	case "characters":
		return runCharacters(stdout, configPath)
	case "providers":
		return runProviders(stdout, configPath)
	case "usage":
		return runUsage(ctx, stdout, configPath, userFlag)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "mrpd - NPC roleplay conversation engine")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: mrpd [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init [dir]        Write an example config and character")
	fmt.Fprintln(w, "  chat <character>  Talk to a character (by display ID or name)")
	fmt.Fprintln(w, "  characters        List configured characters")
	fmt.Fprintln(w, "  providers         List configured providers")
	fmt.Fprintln(w, "  usage             Show token usage totals")
	fmt.Fprintln(w, "  version           Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -user <uuid>      Act as this user ID (default: derived from OS user)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// newLogger builds the process logger. Trace-level payload logging gets
// its proper name via the ReplaceAttr hook.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// identity resolves the acting user. An explicit -user flag must be a
// UUID; otherwise a stable ID is derived from the OS username so the
// same person resumes the same conversations across runs.
func identity(userFlag string) (uuid.UUID, string, error) {
	if userFlag != "" {
		id, err := uuid.Parse(userFlag)
		if err != nil {
			return uuid.Nil, "", fmt.Errorf("invalid -user value %q: %w", userFlag, err)
		}
		return id, id.String()[:8], nil
	}

	name := "user"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("mrp-user:"+name)), name, nil
}

// engine bundles the constructed subsystems for command handlers.
type engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	characters *character.Registry
	sessions   *conversation.Manager
	providers  *provider.Registry
	service    *chat.Service
	transcript *convlog.Logger
	usage      *usage.Store
}

// buildEngine wires the full pipeline: config, registries, stores,
// prompt builder, chat service.
func buildEngine(stdout io.Writer, configPath string) (*engine, error) {
	logger := newLogger(stdout, slog.LevelInfo)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, err = config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
	}
	logger = newLogger(stdout, level)
	logger.Info("starting mrp", "version", buildinfo.Version, "config", cfgPath)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	characters := character.NewRegistry(cfg.CharactersDir(), logger)
	if err := characters.Load(); err != nil {
		return nil, fmt.Errorf("load characters: %w", err)
	}

	store := conversation.NewStore(cfg.ConversationsDir(), characters.DisplayID, logger)
	sessions := conversation.NewManager(store, cfg.Conversation.MemoryWindow, logger)

	providers := provider.NewRegistry(logger)
	providers.Initialize(cfg.Providers)

	usageStore, err := usage.Open(cfg.UsageDBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	transcript := convlog.New(cfg.TranscriptsDir(), logger)

	builder := prompt.NewBuilder(prompt.Settings{
		SystemTemplate: cfg.Prompt.SystemTemplate,
		ExtraNotes:     cfg.Prompt.ExtraNotes,
	})

	service := chat.NewService(characters, providers, sessions, builder, chat.Options{
		Transcript:        transcript,
		Usage:             usageStore,
		MaxResponseTokens: cfg.Conversation.MaxResponseTokens,
	}, logger)

	return &engine{
		cfg:        cfg,
		logger:     logger,
		characters: characters,
		sessions:   sessions,
		providers:  providers,
		service:    service,
		transcript: transcript,
		usage:      usageStore,
	}, nil
}

// close shuts the engine down in dependency order: stop accepting work,
// flush sessions and transcripts, then close the stores.
func (e *engine) close() {
	e.service.Close()
	e.sessions.Shutdown()
	e.providers.Close()
	e.transcript.Close()
	if err := e.usage.Close(); err != nil {
		e.logger.Warn("close usage store failed", "error", err)
	}
}

// findCharacter resolves a character argument: numeric display ID,
// UUID, or name substring.
func findCharacter(reg *character.Registry, arg string) (*character.Profile, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if p, ok := reg.GetByDisplayID(n); ok {
			return p, nil
		}
		return nil, fmt.Errorf("no character with display ID %d", n)
	}
	if id, err := uuid.Parse(arg); err == nil {
		if p, ok := reg.Get(id); ok {
			return p, nil
		}
		return nil, fmt.Errorf("no character with ID %s", id)
	}
	matches := reg.FindByName(arg)
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no character matching %q", arg)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, 0, len(matches))
		for _, p := range matches {
			names = append(names, fmt.Sprintf("%s (#%d)", p.Name, p.DisplayID))
		}
		return nil, fmt.Errorf("ambiguous character %q: %s", arg, strings.Join(names, ", "))
	}
}

// runChat is an interactive conversation loop against one character.
func runChat(ctx context.Context, stdout io.Writer, configPath, userFlag, characterArg string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := buildEngine(stdout, configPath)
	if err != nil {
		return err
	}
	defer eng.close()

	userID, userName, err := identity(userFlag)
	if err != nil {
		return err
	}

	profile, err := findCharacter(eng.characters, characterArg)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Talking to %s (#%d). /clear resets, /end leaves, /quit exits.\n", profile.Name, profile.DisplayID)
	if welcome, ok := eng.service.Welcome(userID, userName, profile.ID); ok {
		fmt.Fprintf(stdout, "%s: %s\n", profile.Name, welcome)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprintf(stdout, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			eng.sessions.EndForUser(userID)
			return scanner.Err()
		case "/end":
			if eng.sessions.EndForUser(userID) {
				fmt.Fprintf(stdout, "Conversation ended. History is kept for next time.\n")
			} else {
				fmt.Fprintf(stdout, "No conversation is active.\n")
			}
			continue
		case "/clear":
			if eng.sessions.ClearForUser(userID, profile.ID) {
				fmt.Fprintf(stdout, "Conversation with %s cleared.\n", profile.Name)
			} else {
				fmt.Fprintf(stdout, "Nothing to clear.\n")
			}
			continue
		}

		select {
		case res := <-eng.service.Send(ctx, userID, userName, profile.ID, line):
			if res.Err != nil {
				if errors.Is(res.Err, chat.ErrBusy) {
					fmt.Fprintf(stdout, "%s is still thinking.\n", profile.Name)
					continue
				}
				fmt.Fprintf(stdout, "error: %s\n", res.Err)
				continue
			}
			fmt.Fprintf(stdout, "%s: %s\n", profile.Name, res.Text)
			if res.Reward != nil {
				for _, msg := range res.Reward.Messages {
					fmt.Fprintln(stdout, msg)
				}
				for _, cmd := range res.Reward.Commands {
					eng.logger.Info("reward command", "command", cmd)
				}
			}
		case <-ctx.Done():
			fmt.Fprintln(stdout)
			return nil
		}
	}
	return scanner.Err()
}

func runCharacters(stdout io.Writer, configPath string) error {
	eng, err := buildEngine(stdout, configPath)
	if err != nil {
		return err
	}
	defer eng.close()

	profiles := eng.characters.All()
	if len(profiles) == 0 {
		fmt.Fprintln(stdout, "No characters configured.")
		return nil
	}
	for _, p := range profiles {
		flags := ""
		if p.FreezeAI {
			flags = " [frozen]"
		}
		fmt.Fprintf(stdout, "#%-5d %-24s %s%s\n", p.DisplayID, p.Name, p.ID, flags)
	}
	return nil
}

func runProviders(stdout io.Writer, configPath string) error {
	eng, err := buildEngine(stdout, configPath)
	if err != nil {
		return err
	}
	defer eng.close()

	names := eng.providers.Names()
	if len(names) == 0 {
		fmt.Fprintln(stdout, "No providers configured.")
		return nil
	}
	for i, name := range names {
		cfg, _ := eng.providers.Config(name)
		marker := " "
		if i == 0 {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %-16s type=%s model=%s base=%s\n", marker, name, cfg.Type, cfg.Model, cfg.APIBase)
	}
	return nil
}

func runUsage(ctx context.Context, stdout io.Writer, configPath, userFlag string) error {
	eng, err := buildEngine(stdout, configPath)
	if err != nil {
		return err
	}
	defer eng.close()

	var sum usage.Summary
	if userFlag != "" {
		userID, _, err := identity(userFlag)
		if err != nil {
			return err
		}
		sum, err = eng.usage.SummarizeUser(ctx, userID)
		if err != nil {
			return err
		}
	} else {
		sum, err = eng.usage.Summarize(ctx)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(stdout, "requests:          %d\n", sum.Requests)
	fmt.Fprintf(stdout, "prompt tokens:     %d\n", sum.PromptTokens)
	fmt.Fprintf(stdout, "completion tokens: %d\n", sum.CompletionTokens)
	return nil
}
