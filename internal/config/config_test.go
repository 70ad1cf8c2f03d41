package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestExpandVerbosityFlags verifies -vvv expansion
func TestExpandVerbosityFlags(t *testing.T) {
	got := expandVerbosityFlags([]string{"-vvv", "-version", "host", "-v"})
	want := []string{"-v", "-v", "-v", "-version", "host", "-v"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

// TestLoadDefaults verifies defaults when nothing is configured
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"-config", filepath.Join(t.TempDir(), "none.toml"), "contexts"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Host.Port != 8000 {
		t.Errorf("Expected default port 8000, got %d", cfg.Host.Port)
	}
	if cfg.Host.Debounce.Duration() != 10*time.Millisecond {
		t.Errorf("Expected 10ms debounce, got %s", cfg.Host.Debounce)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Expected memory storage, got %q", cfg.Storage.Type)
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "contexts" {
		t.Errorf("Expected positional args [contexts], got %v", cfg.Args)
	}
}

// TestLoadPriority verifies CLI > env > TOML > defaults
func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codata.toml")
	content := `
[client]
url = "ws://toml/ws"
timeout = "5s"

[host]
port = 9000
debounce = "50ms"

[storage]
type = "sqlite"
path = "toml.db"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CODATA_PORT", "9100")
	t.Setenv("CODATA_STORAGE_PATH", "env.db")

	cfg, err := Load([]string{"-config", path, "-port", "9200", "-vv"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Client.URL != "ws://toml/ws" {
		t.Errorf("Expected TOML url, got %q", cfg.Client.URL)
	}
	if cfg.Client.Timeout.Duration() != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %s", cfg.Client.Timeout)
	}
	if cfg.Host.Port != 9200 {
		t.Errorf("Expected CLI port 9200, got %d", cfg.Host.Port)
	}
	if cfg.Host.Debounce.Duration() != 50*time.Millisecond {
		t.Errorf("Expected TOML debounce, got %s", cfg.Host.Debounce)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.Path != "env.db" {
		t.Errorf("Expected sqlite env.db, got %s %s", cfg.Storage.Type, cfg.Storage.Path)
	}
	if cfg.Verbosity() != 2 {
		t.Errorf("Expected verbosity 2, got %d", cfg.Verbosity())
	}
}

// TestSocketReplacesURL verifies --socket selects the packet transport
func TestSocketReplacesURL(t *testing.T) {
	cfg, err := Load([]string{"-config", filepath.Join(t.TempDir(), "none.toml"), "-socket", "/tmp/x.sock"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Client.URL != "" || cfg.Client.Socket != "/tmp/x.sock" {
		t.Errorf("Expected socket only, got url=%q socket=%q", cfg.Client.URL, cfg.Client.Socket)
	}
}

// TestBadEnv verifies malformed env values are reported
func TestBadEnv(t *testing.T) {
	t.Setenv("CODATA_TIMEOUT", "soon")
	if _, err := Load([]string{"-config", filepath.Join(t.TempDir(), "none.toml")}); err == nil {
		t.Error("Expected error for bad CODATA_TIMEOUT")
	}
}

// TestLogVerbosity verifies messages above the verbosity are dropped
func TestLogVerbosity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Verbosity = 1
	var buf bytes.Buffer
	cfg.SetLogOutput(&buf)

	cfg.Log(0, "always %d", 0)
	cfg.Log(1, "connections %d", 1)
	cfg.Log(2, "messages %d", 2)

	out := buf.String()
	if !strings.Contains(out, "always 0") || !strings.Contains(out, "connections 1") {
		t.Errorf("Missing expected lines: %q", out)
	}
	if strings.Contains(out, "messages 2") {
		t.Errorf("Level 2 should be suppressed: %q", out)
	}
}
