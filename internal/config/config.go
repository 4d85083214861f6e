package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"proof-capture-app/internal/pairing"
)

// Config is the root configuration shared by the broker and proofctl.
type Config struct {
	Server    pairing.Endpoints `yaml:"server"`
	Broker    BrokerConfig      `yaml:"broker"`
	Agent     AgentConfig       `yaml:"agent"`
	Initiator InitiatorConfig   `yaml:"initiator"`
	Log       LogConfig         `yaml:"log"`
}

type BrokerConfig struct {
	Listen         string        `yaml:"listen"`
	UploadDir      string        `yaml:"upload_dir"`
	DBPath         string        `yaml:"db_path"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

type AgentConfig struct {
	MountLocationTimeout   time.Duration `yaml:"mount_location_timeout"`
	CaptureLocationTimeout time.Duration `yaml:"capture_location_timeout"`
	ConfirmationWindow     time.Duration `yaml:"confirmation_window"`
	UploadTimeout          time.Duration `yaml:"upload_timeout"` // 0 = rely on transport
}

type InitiatorConfig struct {
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls channel recovery. Disabled by default.
type ReconnectConfig struct {
	Enabled        bool          `yaml:"enabled"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxAttempts    int           `yaml:"max_attempts"` // 0 = unlimited
}

type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Environment variables applied on top of the file.
const (
	EnvServerIP     = "PROOF_SERVER_IP"
	EnvBackendPort  = "PROOF_BACKEND_PORT"
	EnvFrontendPort = "PROOF_FRONTEND_PORT"
	EnvAPIBaseURL   = "PROOF_API_BASE_URL"
	EnvLogLevel     = "PROOF_LOG_LEVEL"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "proof.yaml"

// Load reads path (missing file means defaults), a .env file if present,
// then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvServerIP); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv(EnvBackendPort); v != "" {
		cfg.Server.BackendPort = v
	}
	if v := os.Getenv(EnvFrontendPort); v != "" {
		cfg.Server.FrontendPort = v
	}
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		cfg.Server.APIBaseURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if c.Server.Host == "" || c.Server.BackendPort == "" || c.Server.FrontendPort == "" {
		return errors.New("server ip and ports are required")
	}
	if c.Server.APIBaseURL == "" {
		return errors.New("server api_base_url is required")
	}
	if c.Broker.SessionTTL <= 0 {
		return fmt.Errorf("broker session_ttl must be positive, got %s", c.Broker.SessionTTL)
	}
	if c.Broker.MaxUploadBytes <= 0 {
		return fmt.Errorf("broker max_upload_bytes must be positive, got %d", c.Broker.MaxUploadBytes)
	}
	if c.Agent.MountLocationTimeout <= 0 || c.Agent.CaptureLocationTimeout <= 0 {
		return errors.New("agent location timeouts must be positive")
	}
	if c.Initiator.Reconnect.Enabled && c.Initiator.Reconnect.InitialBackoff <= 0 {
		return errors.New("initiator reconnect initial_backoff must be positive when enabled")
	}
	return nil
}

// SlogLevel maps Log.Level onto slog; unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the text logger both binaries use.
func (c *Config) NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.SlogLevel()}))
}
