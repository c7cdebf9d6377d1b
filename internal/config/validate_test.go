package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/core"
)

// stubModule is a basic module for testing.
type stubModule struct {
	id string
}

func (m *stubModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  core.ModuleID(m.id),
		New: func() core.Module { return &stubModule{id: m.id} },
	}
}

const (
	stubEmbedder      = "embedder.stub"
	stubOtherEmbedder = "embedder.stub_other"
	stubProvider      = "provider.stub"
)

var registerOnce sync.Once

// registerStubs registers the store, two embedders and a provider once per
// test binary.
func registerStubs(t *testing.T) {
	t.Helper()
	registerOnce.Do(func() {
		for _, id := range []string{StoreModule, stubEmbedder, stubOtherEmbedder, stubProvider} {
			core.RegisterModule(&stubModule{id: id})
		}
	})
}

func validConfig(extra ...string) *Config {
	cfg := Default()
	cfg.Modules = map[string]yaml.Node{StoreModule: {}, stubEmbedder: {}}
	for _, id := range extra {
		cfg.Modules[id] = yaml.Node{}
	}
	return cfg
}

func TestValidate(t *testing.T) {
	registerStubs(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{"valid", func(*Config) {}, nil},
		{"valid with provider", func(c *Config) { c.Modules[stubProvider] = yaml.Node{} }, nil},
		{"missing version", func(c *Config) { c.Version = "" }, []string{"version"}},
		{"unsupported version", func(c *Config) { c.Version = "99" }, []string{"unsupported"}},
		{"blank user", func(c *Config) { c.UserID = "  " }, []string{"user_id"}},
		{"no modules", func(c *Config) { c.Modules = nil }, []string{"at least one"}},
		{"unknown modules", func(c *Config) {
			c.Modules["bad.one"] = yaml.Node{}
			c.Modules["bad.two"] = yaml.Node{}
		}, []string{"bad.one", "bad.two"}},
		{"no embedder", func(c *Config) { delete(c.Modules, stubEmbedder) }, []string{"got none"}},
		{"two embedders", func(c *Config) { c.Modules[stubOtherEmbedder] = yaml.Node{} }, []string{stubOtherEmbedder}},
		{"no store", func(c *Config) { delete(c.Modules, StoreModule) }, []string{StoreModule}},
		{"bad settings", func(c *Config) { c.Memory.TopN = 0; c.Memory.Alpha = -1 }, []string{"topn", "alpha"}},
		{"bad threshold", func(c *Config) { c.Memory.Threshold = 1.5 }, []string{"similarity_threshold"}},
		{"negative cache", func(c *Config) { c.Memory.Cache.MaxBytes = -1 }, []string{"memory.cache"}},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, []string{"log.format"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q: %v", want, err)
				}
			}
		})
	}
}

func TestResolve_LoadOrder(t *testing.T) {
	t.Parallel()

	cfg := validConfig("provider.stub", "cron.scheduler", "gateway.http", "index.chromem")
	got := Resolve(cfg)
	want := []string{StoreModule, "index.chromem", stubEmbedder, "provider.stub", "cron.scheduler", "gateway.http"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Resolve() = %v, want %v", got, want)
	}
}

func TestParse_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
version: "1"
user_id: ayse
memory:
  topk: 8
  cache:
    disabled: true
assistant:
  auto_extract: true
modules:
  memory.sqlite: {}
  embedder.hashing:
    dimensions: 128
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	def := Default()
	if cfg.UserID != "ayse" || cfg.Assistant.UserID != "ayse" {
		t.Errorf("user = %q / %q, want ayse", cfg.UserID, cfg.Assistant.UserID)
	}
	if cfg.Memory.TopK != 8 {
		t.Errorf("topk = %d, want 8", cfg.Memory.TopK)
	}
	if cfg.Memory.TopN != def.Memory.TopN || cfg.Memory.Threshold != def.Memory.Threshold {
		t.Errorf("unset memory settings lost their defaults: %+v", cfg.Memory.Settings)
	}
	if !cfg.Memory.Cache.Disabled || !cfg.Assistant.AutoExtract {
		t.Error("nested booleans not decoded")
	}
	if cfg.Log.Format != LogText {
		t.Errorf("log format = %q, want default", cfg.Log.Format)
	}
	if len(cfg.Modules) != 2 {
		t.Errorf("modules = %d, want 2", len(cfg.Modules))
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("HAFIZA_TEST_USER", "mehmet")

	path := filepath.Join(t.TempDir(), "hafiza.yaml")
	data := "version: \"1\"\nuser_id: ${HAFIZA_TEST_USER}\nlog:\n  level: ${HAFIZA_TEST_LEVEL:-debug}\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserID != "mehmet" || cfg.Log.Level != "debug" {
		t.Errorf("got user %q level %q", cfg.UserID, cfg.Log.Level)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	unresolved := filepath.Join(dir, "unresolved.yaml")
	if err := os.WriteFile(unresolved, []byte("user_id: ${HAFIZA_SURELY_UNSET_VAR}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(unresolved); err == nil || !strings.Contains(err.Error(), "HAFIZA_SURELY_UNSET_VAR") {
		t.Errorf("unresolved variable: err = %v", err)
	}

	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("modules: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(broken); err == nil {
		t.Error("invalid YAML should fail")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("HAFIZA_EXPAND_A", "alpha")

	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"x: ${HAFIZA_EXPAND_A}", "x: alpha", false},
		{"x: ${HAFIZA_EXPAND_MISSING:-fallback}", "x: fallback", false},
		{"x: ${HAFIZA_EXPAND_MISSING:-}", "x: ", false},
		{"x: $HAFIZA_EXPAND_A", "x: $HAFIZA_EXPAND_A", false},
		{"x: ${HAFIZA_EXPAND_MISSING}", "x: ${HAFIZA_EXPAND_MISSING}", true},
	}
	for _, tt := range tests {
		got, err := expandEnv([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("expandEnv(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if string(got) != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
