package provider

import (
	"testing"

	"github.com/arceus/mrp/internal/config"
)

func settings(defaultName string, list map[string]config.ProviderConfig) config.ProviderSettings {
	for name, cfg := range list {
		cfg.Name = name
		list[name] = cfg
	}
	return config.ProviderSettings{Default: defaultName, List: list}
}

func TestRegistryAliasesToOpenAI(t *testing.T) {
	for _, typ := range []string{"openai", "openai-compatible", "doubao", "volcengine"} {
		r := NewRegistry(testLogger())
		r.Initialize(settings("main", map[string]config.ProviderConfig{
			"main": {Type: typ, APIKey: "sk-x", APIBase: "http://localhost:1", TimeoutSeconds: 5},
		}))
		p, ok := r.Get("main")
		if !ok {
			t.Fatalf("%s: provider missing", typ)
		}
		if _, isOpenAI := p.(*OpenAIProvider); !isOpenAI {
			t.Errorf("type %q built %T, want *OpenAIProvider", typ, p)
		}
		r.Close()
	}
}

func TestRegistryKeylessTypes(t *testing.T) {
	for _, typ := range []string{"vllm", "compatible"} {
		r := NewRegistry(testLogger())
		r.Initialize(settings("main", map[string]config.ProviderConfig{
			"main": {Type: typ, APIBase: "http://localhost:1", TimeoutSeconds: 5},
		}))
		p, _ := r.Get("main")
		if _, isOpenAI := p.(*OpenAIProvider); !isOpenAI {
			t.Errorf("keyless type %q built %T, want *OpenAIProvider", typ, p)
		}
		r.Close()
	}
}

func TestRegistryMissingKeyFallsBackToEcho(t *testing.T) {
	r := NewRegistry(testLogger())
	defer r.Close()
	r.Initialize(settings("main", map[string]config.ProviderConfig{
		"main": {Type: "openai", APIBase: "http://localhost:1"},
	}))
	p, _ := r.Get("main")
	if _, isEcho := p.(*EchoProvider); !isEcho {
		t.Errorf("keyless openai built %T, want *EchoProvider", p)
	}
}

func TestRegistryUnknownTypeFallsBackToEcho(t *testing.T) {
	r := NewRegistry(testLogger())
	defer r.Close()
	r.Initialize(settings("main", map[string]config.ProviderConfig{
		"main": {Type: "quantum", APIKey: "sk-x"},
	}))
	p, _ := r.Get("main")
	if _, isEcho := p.(*EchoProvider); !isEcho {
		t.Errorf("unknown type built %T, want *EchoProvider", p)
	}
}

func TestRegistryDefaultFallback(t *testing.T) {
	r := NewRegistry(testLogger())
	defer r.Close()
	r.Initialize(settings("nonexistent", map[string]config.ProviderConfig{
		"only": {Type: "vllm", APIBase: "http://localhost:1", TimeoutSeconds: 5},
	}))
	p, ok := r.Default()
	if !ok {
		t.Fatal("non-empty registry should always have a default")
	}
	if p.Name() != "only" {
		t.Errorf("default = %q, want only", p.Name())
	}
}

func TestRegistryEmptyHasNoDefault(t *testing.T) {
	r := NewRegistry(testLogger())
	defer r.Close()
	r.Initialize(settings("main", map[string]config.ProviderConfig{}))
	if _, ok := r.Default(); ok {
		t.Error("empty registry reported a default provider")
	}
}

func TestRegistryReinitializeSwapsWholesale(t *testing.T) {
	r := NewRegistry(testLogger())
	defer r.Close()

	r.Initialize(settings("a", map[string]config.ProviderConfig{
		"a": {Type: "vllm", APIBase: "http://localhost:1", TimeoutSeconds: 5},
	}))
	old, _ := r.Get("a")

	r.Initialize(settings("b", map[string]config.ProviderConfig{
		"b": {Type: "vllm", APIBase: "http://localhost:2", TimeoutSeconds: 5},
	}))

	if _, ok := r.Get("a"); ok {
		t.Error("old provider still visible after reinitialize")
	}
	if p, ok := r.Default(); !ok || p.Name() != "b" {
		t.Errorf("default after swap = %v", p)
	}

	// The old provider was closed; new work against it must fail, but
	// the call itself must not panic.
	if _, err := old.Generate(t.Context(), Request{}); err == nil {
		t.Error("closed provider accepted new work")
	}
}

func TestRegistryConfig(t *testing.T) {
	r := NewRegistry(testLogger())
	defer r.Close()
	r.Initialize(settings("main", map[string]config.ProviderConfig{
		"main": {Type: "vllm", APIBase: "http://localhost:1", Temperature: 0.3, TimeoutSeconds: 5},
	}))
	cfg, ok := r.Config("main")
	if !ok {
		t.Fatal("config missing")
	}
	if cfg.Temperature != 0.3 {
		t.Errorf("temperature = %v", cfg.Temperature)
	}
}
