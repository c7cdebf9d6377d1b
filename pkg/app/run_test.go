package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flemzord/hafiza/internal/assistant"
	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/provider"

	_ "github.com/flemzord/hafiza/modules/embedder/hashing"
	_ "github.com/flemzord/hafiza/modules/index/chromem"
	_ "github.com/flemzord/hafiza/modules/memory/sqlite"
	_ "github.com/flemzord/hafiza/modules/provider/openai_compatible"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hafiza.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

const minimalConfig = `version: "1"
user_id: u1
modules:
  memory.sqlite: {}
  embedder.hashing:
    dimensions: 128
`

func TestResolveConfigPath_XDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "hafiza")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgPath := filepath.Join(cfgDir, "hafiza.yaml")
	if err := os.WriteFile(cfgPath, []byte("version: \"1\""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfgPath {
		t.Errorf("got %q, want %q", got, cfgPath)
	}
}

func TestResolveConfigPath_NotFound(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/nonexistent/path")
	t.Chdir(t.TempDir())

	if _, err := ResolveConfigPath(); err == nil {
		t.Error("expected error when no config file found")
	}
}

func TestResolveConfigPath_WorkingDirectory(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/nonexistent/path")
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile("hafiza.yaml", []byte("version: \"1\""), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveConfigPath()
	if err != nil || got != "hafiza.yaml" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != "/custom/data/hafiza" {
		t.Errorf("got %q", got)
	}

	t.Setenv("XDG_DATA_HOME", "")
	home, _ := os.UserHomeDir()
	if got, want := DefaultDataDir(), filepath.Join(home, ".local", "share", "hafiza"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDefaultWorkspace(t *testing.T) {
	got := DefaultWorkspace()
	cwd, _ := os.Getwd()
	if got != cwd {
		t.Errorf("got %q, want %q", got, cwd)
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing file", "/nonexistent/config.yaml"},
		{"invalid yaml", writeConfig(t, "not: valid: yaml: [")},
		{"no version", writeConfig(t, "version: \"\"\nmodules:\n  foo: {}")},
		{"no embedder", writeConfig(t, "version: \"1\"\nmodules:\n  memory.sqlite: {}")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(Params{ConfigPath: tt.path, DataDir: t.TempDir()}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestOpen_WiresServices(t *testing.T) {
	a, err := Open(Params{
		ConfigPath: writeConfig(t, minimalConfig),
		DataDir:    t.TempDir(),
		LogWriter:  &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(a.Close)

	if a.UserID() != "u1" || a.Assistant.UserID() != "u1" {
		t.Errorf("user = %q / %q", a.UserID(), a.Assistant.UserID())
	}
	if _, ok := a.Provider.(provider.Echo); !ok {
		t.Errorf("provider = %T, want Echo without provider modules", a.Provider)
	}
	if _, err := core.LookupService[*memory.Engine](a.ctx, memory.ServiceEngine); err != nil {
		t.Error(err)
	}
	if _, err := core.LookupService[*assistant.Assistant](a.ctx, assistant.ServiceName); err != nil {
		t.Error(err)
	}

	ctx := context.Background()
	id, outcome, err := a.Engine.Remember(ctx, memory.NewMemory{
		UserID: "u1", Kind: memory.KindPreference, Text: "Kahvemi sütlü severim",
	}, nil)
	if err != nil || outcome != memory.OutcomeInserted {
		t.Fatalf("Remember: %d %s %v", id, outcome, err)
	}

	sess, err := a.Assistant.OpenSession(ctx, "", 0)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	res, err := a.Assistant.Turn(ctx, sess, "kahve nasıl içerim?")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if !strings.Contains(res.Reply, "kahve nasıl içerim?") {
		t.Errorf("echo reply = %q", res.Reply)
	}
	if len(res.MemoryLines) != 1 {
		t.Errorf("memory lines = %v, want the stored preference", res.MemoryLines)
	}
}

func TestOpen_RedactsProviderKey(t *testing.T) {
	const secret = "hafiza-test-secret-42"
	var logs bytes.Buffer
	a, err := Open(Params{
		ConfigPath: writeConfig(t, minimalConfig+`  provider.openai_compatible:
    base_url: http://127.0.0.1:1/v1
    model: local-model
    api_key: `+secret+"\n"),
		DataDir:   t.TempDir(),
		LogWriter: &logs,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(a.Close)

	if _, ok := a.Provider.(*provider.Chain); !ok {
		t.Errorf("provider = %T, want *provider.Chain", a.Provider)
	}
	a.Logger.Info("leak check", "key", secret)
	if strings.Contains(logs.String(), secret) {
		t.Errorf("secret leaked into logs:\n%s", logs.String())
	}
}
