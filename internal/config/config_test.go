package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindConfigExplicit(t *testing.T) {
	path := writeConfig(t, "data_dir: /tmp/mrp\n")
	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q", path, got)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
providers:
  default: main
  list:
    main:
      api_key: sk-test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Conversation.MemoryWindow != DefaultMemoryWindow {
		t.Errorf("MemoryWindow = %d", cfg.Conversation.MemoryWindow)
	}
	if cfg.Conversation.MaxResponseTokens != DefaultResponseTokens {
		t.Errorf("MaxResponseTokens = %d", cfg.Conversation.MaxResponseTokens)
	}

	p, ok := cfg.Providers.Provider("main")
	if !ok {
		t.Fatal("provider main missing")
	}
	if p.Name != "main" {
		t.Errorf("Name = %q, should be filled from map key", p.Name)
	}
	if p.Type != "openai" {
		t.Errorf("Type = %q", p.Type)
	}
	if p.APIBase != DefaultAPIBase {
		t.Errorf("APIBase = %q", p.APIBase)
	}
	if p.Model != DefaultModel {
		t.Errorf("Model = %q", p.Model)
	}
	if p.Temperature != DefaultTemperature {
		t.Errorf("Temperature = %v", p.Temperature)
	}
	if p.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("TimeoutSeconds = %d", p.TimeoutSeconds)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("MRP_TEST_KEY", "sk-from-env")
	path := writeConfig(t, `
providers:
  default: main
  list:
    main:
      api_key: ${MRP_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, _ := cfg.Providers.Provider("main")
	if p.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, env var not expanded", p.APIKey)
	}
}

func TestLoadExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/mrp
conversation:
  memory_window: 20
  max_response_tokens: 1024
providers:
  default: local
  list:
    local:
      type: vllm
      api_base: http://localhost:8000/v1
      model: local-model
      temperature: 0.2
      timeout_seconds: 90
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/var/lib/mrp" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Conversation.MemoryWindow != 20 {
		t.Errorf("MemoryWindow = %d", cfg.Conversation.MemoryWindow)
	}
	p, _ := cfg.Providers.Provider("local")
	if p.Type != "vllm" || p.Model != "local-model" || p.Temperature != 0.2 || p.TimeoutSeconds != 90 {
		t.Errorf("provider = %+v", p)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "providers: [not a map\n")
	if _, err := Load(path); err == nil {
		t.Fatal("malformed YAML should error")
	}
}

func TestDataPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if got := cfg.ConversationsDir(); got != filepath.Join("/data", "conversations") {
		t.Errorf("ConversationsDir = %q", got)
	}
	if got := cfg.CharactersDir(); got != filepath.Join("/data", "characters") {
		t.Errorf("CharactersDir = %q", got)
	}
	if got := cfg.UsageDBPath(); got != filepath.Join("/data", "usage.db") {
		t.Errorf("UsageDBPath = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, s := range []string{"trace", "debug", "info", "", "warn", "warning", "error", "INFO"} {
		if _, err := ParseLogLevel(s); err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", s, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("unknown level should error")
	}
	if lvl, _ := ParseLogLevel("trace"); lvl != LevelTrace {
		t.Errorf("trace = %v", lvl)
	}
}
