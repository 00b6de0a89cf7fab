// Package config manages the repld daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and the key/peer files
// referenced from them.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete repld daemon configuration.
type Config struct {
	// NodeID is this node's identity, advertised in the SID frame of
	// every session this node initiates or accepts.
	NodeID uint32 `koanf:"node_id"`

	// Listen is the address the QueueManager binds its inbound socket to.
	Listen string `koanf:"listen"`

	// OffsetSeconds and TimeMult parameterize the Replicator's adjusted
	// clock: adjusted_now = (wall_now - start_time + offset) * time_mult.
	OffsetSeconds int64   `koanf:"offset_seconds"`
	TimeMult      float64 `koanf:"time_mult"`

	// Verbosity gates how chatty slog output is; see ParseLogLevel.
	Verbosity int `koanf:"verbosity"`

	// MetricsAddr is the HTTP listen address for the Prometheus endpoint.
	MetricsAddr string `koanf:"metrics_addr"`

	// KeyFile points at the opaque AES key blob shared with every peer.
	KeyFile string `koanf:"key_file"`

	// PeersFile points at the static peer list (node id + dial address).
	PeersFile string `koanf:"peers_file"`
}

// PeerEntry is one entry of the peers file: a node id and its dial
// address.
type PeerEntry struct {
	NodeID uint32 `koanf:"node_id" yaml:"node_id"`
	Addr   string `koanf:"addr" yaml:"addr"`
}

// PeerList is the parsed contents of a peers file.
type PeerList struct {
	Peers []PeerEntry `koanf:"peers" yaml:"peers"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "0.0.0.0:9876",
		OffsetSeconds: 0,
		TimeMult:      1.0,
		Verbosity:     1,
		MetricsAddr:   "127.0.0.1:9100",
		KeyFile:       "/etc/repld/repl.key",
		PeersFile:     "/etc/repld/peers.yaml",
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for repld configuration.
// Variables are named REPLD_<key>, e.g., REPLD_LISTEN, REPLD_NODE_ID.
const envPrefix = "REPLD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (REPLD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms REPLD_NODE_ID -> node_id, REPLD_METRICS_ADDR ->
// metrics_addr: strips the prefix and lowercases (config keys are already
// flat, single-level, so unlike gobfd's nested sections no "_" -> "."
// translation is needed here).
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	return strings.ToLower(s)
}

func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"node_id":        defaults.NodeID,
		"listen":         defaults.Listen,
		"offset_seconds": defaults.OffsetSeconds,
		"time_mult":      defaults.TimeMult,
		"verbosity":      defaults.Verbosity,
		"metrics_addr":   defaults.MetricsAddr,
		"key_file":       defaults.KeyFile,
		"peers_file":     defaults.PeersFile,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Key and peer file loading
// -------------------------------------------------------------------------

// LoadKey reads the opaque symmetric key blob from path. Its length is not
// inspected here — AES accepts 16, 24, or 32-byte keys, and the choice of
// key size is a deployment concern, not a parsing one.
func LoadKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("key file %s: %w", path, ErrEmptyKeyFile)
	}
	return key, nil
}

// LoadPeers reads and parses the static peer list from path.
func LoadPeers(path string) ([]PeerEntry, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load peers from %s: %w", path, err)
	}

	var list PeerList
	if err := k.Unmarshal("", &list); err != nil {
		return nil, fmt.Errorf("unmarshal peers from %s: %w", path, err)
	}

	if err := validatePeers(list.Peers); err != nil {
		return nil, fmt.Errorf("validate peers from %s: %w", path, err)
	}

	return list.Peers, nil
}

func validatePeers(peers []PeerEntry) error {
	seen := make(map[uint32]struct{}, len(peers))
	for i, p := range peers {
		if p.Addr == "" {
			return fmt.Errorf("peers[%d]: %w", i, ErrEmptyPeerAddr)
		}
		if _, dup := seen[p.NodeID]; dup {
			return fmt.Errorf("peers[%d] node_id %d: %w", i, p.NodeID, ErrDuplicatePeerNodeID)
		}
		seen[p.NodeID] = struct{}{}
	}
	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

var (
	ErrEmptyListenAddr     = errors.New("listen must not be empty")
	ErrInvalidTimeMult     = errors.New("time_mult must be > 0")
	ErrEmptyKeyFile        = errors.New("key_file path refers to an empty file")
	ErrEmptyPeerAddr       = errors.New("peer addr must not be empty")
	ErrDuplicatePeerNodeID = errors.New("duplicate peer node_id")
	ErrEmptyMetricsAddr    = errors.New("metrics_addr must not be empty")
)

// Validate checks the configuration for logical errors. Returns the first
// validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Listen == "" {
		return ErrEmptyListenAddr
	}
	if cfg.TimeMult <= 0 {
		return ErrInvalidTimeMult
	}
	if cfg.MetricsAddr == "" {
		return ErrEmptyMetricsAddr
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a verbosity level (0 = warn and above, 1 = info,
// 2+ = debug) to the corresponding slog.Level. This mirrors the source
// daemon's integer verbosity flag more closely than a named-level string
// would, since repld's config carries verbosity as a count, not a word.
func ParseLogLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
