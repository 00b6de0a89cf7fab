package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dantte-lp/repld/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Listen != "0.0.0.0:9876" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, "0.0.0.0:9876")
	}
	if cfg.TimeMult != 1.0 {
		t.Errorf("TimeMult = %v, want 1.0", cfg.TimeMult)
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Errorf("MetricsAddr = %q, want %q", cfg.MetricsAddr, "127.0.0.1:9100")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
node_id: 7
listen: "0.0.0.0:7000"
offset_seconds: 3
time_mult: 2.5
verbosity: 2
metrics_addr: "127.0.0.1:9200"
key_file: "/tmp/repl.key"
peers_file: "/tmp/peers.yaml"
`
	path := writeTemp(t, "repld.yml", yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.NodeID != 7 {
		t.Errorf("NodeID = %d, want 7", cfg.NodeID)
	}
	if cfg.Listen != "0.0.0.0:7000" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, "0.0.0.0:7000")
	}
	if cfg.OffsetSeconds != 3 {
		t.Errorf("OffsetSeconds = %d, want 3", cfg.OffsetSeconds)
	}
	if cfg.TimeMult != 2.5 {
		t.Errorf("TimeMult = %v, want 2.5", cfg.TimeMult)
	}
	if cfg.Verbosity != 2 {
		t.Errorf("Verbosity = %d, want 2", cfg.Verbosity)
	}
	if cfg.MetricsAddr != "127.0.0.1:9200" {
		t.Errorf("MetricsAddr = %q, want %q", cfg.MetricsAddr, "127.0.0.1:9200")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
node_id: 3
listen: "0.0.0.0:5555"
`
	path := writeTemp(t, "repld.yml", yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Listen != "0.0.0.0:5555" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, "0.0.0.0:5555")
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Errorf("MetricsAddr = %q, want default %q", cfg.MetricsAddr, "127.0.0.1:9100")
	}
	if cfg.TimeMult != 1.0 {
		t.Errorf("TimeMult = %v, want default 1.0", cfg.TimeMult)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty listen addr",
			modify:  func(cfg *config.Config) { cfg.Listen = "" },
			wantErr: config.ErrEmptyListenAddr,
		},
		{
			name:    "zero time mult",
			modify:  func(cfg *config.Config) { cfg.TimeMult = 0 },
			wantErr: config.ErrInvalidTimeMult,
		},
		{
			name:    "negative time mult",
			modify:  func(cfg *config.Config) { cfg.TimeMult = -1 },
			wantErr: config.ErrInvalidTimeMult,
		},
		{
			name:    "empty metrics addr",
			modify:  func(cfg *config.Config) { cfg.MetricsAddr = "" },
			wantErr: config.ErrEmptyMetricsAddr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		verbosity int
		want      slog.Level
	}{
		{verbosity: 0, want: slog.LevelWarn},
		{verbosity: -1, want: slog.LevelWarn},
		{verbosity: 1, want: slog.LevelInfo},
		{verbosity: 2, want: slog.LevelDebug},
		{verbosity: 5, want: slog.LevelDebug},
	}

	for _, tt := range tests {
		got := config.ParseLogLevel(tt.verbosity)
		if got != tt.want {
			t.Errorf("ParseLogLevel(%d) = %v, want %v", tt.verbosity, got, tt.want)
		}
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load("/nonexistent/path/repld.yml"); err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Cannot be parallel: modifies process-wide environment state.

	yamlContent := `
node_id: 1
listen: "0.0.0.0:9876"
`
	path := writeTemp(t, "repld.yml", yamlContent)

	t.Setenv("REPLD_LISTEN", "0.0.0.0:6000")
	t.Setenv("REPLD_VERBOSITY", "2")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Listen != "0.0.0.0:6000" {
		t.Errorf("Listen = %q, want %q (from env)", cfg.Listen, "0.0.0.0:6000")
	}
	if cfg.Verbosity != 2 {
		t.Errorf("Verbosity = %d, want 2 (from env)", cfg.Verbosity)
	}
}

func TestLoadKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "repl.key")
	want := []byte("0123456789abcdef0123456789abcdef")
	if err := os.WriteFile(path, want, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	got, err := config.LoadKey(path)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("LoadKey = %q, want %q", got, want)
	}
}

func TestLoadKeyRejectsEmptyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "repl.key")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	if _, err := config.LoadKey(path); err == nil {
		t.Fatal("LoadKey: want error for empty key file")
	}
}

func TestLoadPeers(t *testing.T) {
	t.Parallel()

	yamlContent := `
peers:
  - node_id: 10
    addr: "10.0.0.10:9876"
  - node_id: 11
    addr: "10.0.0.11:9876"
`
	path := writeTemp(t, "peers.yaml", yamlContent)

	peers, err := config.LoadPeers(path)
	if err != nil {
		t.Fatalf("LoadPeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("got %d peers, want 2", len(peers))
	}
	if peers[0].NodeID != 10 || peers[0].Addr != "10.0.0.10:9876" {
		t.Errorf("peers[0] = %+v, want {10 10.0.0.10:9876}", peers[0])
	}
	if peers[1].NodeID != 11 || peers[1].Addr != "10.0.0.11:9876" {
		t.Errorf("peers[1] = %+v, want {11 10.0.0.11:9876}", peers[1])
	}
}

func TestLoadPeersRejectsDuplicateNodeID(t *testing.T) {
	t.Parallel()

	yamlContent := `
peers:
  - node_id: 10
    addr: "10.0.0.10:9876"
  - node_id: 10
    addr: "10.0.0.11:9876"
`
	path := writeTemp(t, "peers.yaml", yamlContent)

	if _, err := config.LoadPeers(path); !errors.Is(err, config.ErrDuplicatePeerNodeID) {
		t.Errorf("LoadPeers error = %v, want wrapping %v", err, config.ErrDuplicatePeerNodeID)
	}
}

func TestLoadPeersRejectsEmptyAddr(t *testing.T) {
	t.Parallel()

	yamlContent := `
peers:
  - node_id: 10
    addr: ""
`
	path := writeTemp(t, "peers.yaml", yamlContent)

	if _, err := config.LoadPeers(path); !errors.Is(err, config.ErrEmptyPeerAddr) {
		t.Errorf("LoadPeers error = %v, want wrapping %v", err, config.ErrEmptyPeerAddr)
	}
}

// writeTemp creates a temporary file with the given name and content and
// returns its path. Cleaned up automatically when the test finishes.
func writeTemp(t *testing.T, name, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
