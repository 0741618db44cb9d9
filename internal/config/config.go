// Package config provides bridge configuration loaded from environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/epics-mcp-bridge/pkg/semver"
)

const logPrefix = "config:LoadConfig"

// Transports.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportNATS  = "nats"
)

// Channel Access backends.
const (
	BackendCLI = "cli"
	BackendSim = "sim"
)

// Config holds epics-mcp-bridge configuration.
type Config struct {
	Transport  string `envconfig:"BRIDGE_TRANSPORT" default:"stdio"`
	ServerName string `envconfig:"BRIDGE_SERVER_NAME" default:"mcp_epics_server"`
	Version    string `envconfig:"BRIDGE_VERSION" default:"0.1.0"`

	// HTTP surface for sse and nats transports
	HTTPAddr    string `envconfig:"BRIDGE_HTTP_ADDR" default:"127.0.0.1:8000"`
	PublicURL   string `envconfig:"BRIDGE_PUBLIC_URL"`
	SSEPath     string `envconfig:"BRIDGE_SSE_PATH" default:"/sse"`
	MessagePath string `envconfig:"BRIDGE_MESSAGE_PATH" default:"/messages/"`

	// Channel Access
	CABackend   string        `envconfig:"EPICS_CA_BACKEND" default:"cli"`
	CATimeout   time.Duration `envconfig:"EPICS_CA_TIMEOUT" default:"5s"`
	CABinDir    string        `envconfig:"EPICS_CA_BIN_DIR"`
	SimSeedFile string        `envconfig:"EPICS_SIM_SEED_FILE"`

	// COMMS: tool call subject and write events
	COMMSEnabled bool   `envconfig:"COMMS_ENABLED" default:"false"`
	COMMSURL     string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName    string `envconfig:"SERVICE_NAME" default:"epics-mcp-bridge"`
	ToolSubject  string `envconfig:"BRIDGE_TOOL_SUBJECT"`
	EventSubject string `envconfig:"BRIDGE_EVENT_SUBJECT"`

	// Tool calls handled concurrently per subscription; zero uses the default
	COMMSMaxInflight int `envconfig:"COMMS_MAX_INFLIGHT" default:"64"`

	// Audit journal; empty DATABASE_URL disables it
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads the .env file named by BRIDGE_ENV_FILE (or ./.env when
// present), then reads configuration from the environment. Variables already
// set in the environment win over the file.
func LoadConfig() (*Config, error) {
	if err := LoadEnvFile(os.Getenv("BRIDGE_ENV_FILE")); err != nil {
		return nil, err
	}

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

// LoadEnvFile loads path into the environment. An empty path loads ./.env
// if it exists; an explicit path must exist.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%s - failed to load env file %s: %w", logPrefix, path, err)
	}
	slog.Debug(fmt.Sprintf("%s - Loaded env file %s", logPrefix, path))
	return nil
}

// Validate checks the config needed to serve on any transport.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportSSE, TransportNATS:
	default:
		return fmt.Errorf("%s - BRIDGE_TRANSPORT must be stdio, sse or nats, got %q", logPrefix, c.Transport)
	}
	switch c.CABackend {
	case BackendCLI, BackendSim:
	default:
		return fmt.Errorf("%s - EPICS_CA_BACKEND must be cli or sim, got %q", logPrefix, c.CABackend)
	}
	if c.CATimeout <= 0 {
		return fmt.Errorf("%s - EPICS_CA_TIMEOUT must be positive", logPrefix)
	}
	if c.COMMSMaxInflight < 0 {
		return fmt.Errorf("%s - COMMS_MAX_INFLIGHT must not be negative", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if _, err := semver.MajorOf(c.Version); err != nil {
		return fmt.Errorf("%s - BRIDGE_VERSION: %w", logPrefix, err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Transport == TransportNATS && !c.COMMSEnabled {
		return fmt.Errorf("%s - BRIDGE_TRANSPORT=nats requires COMMS_ENABLED=true", logPrefix)
	}
	if c.Transport == TransportSSE && (!strings.HasPrefix(c.SSEPath, "/") || !strings.HasPrefix(c.MessagePath, "/")) {
		return fmt.Errorf("%s - BRIDGE_SSE_PATH and BRIDGE_MESSAGE_PATH must start with /", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// JournalEnabled reports whether tool calls are recorded in the database.
func (c *Config) JournalEnabled() bool {
	return c.DatabaseURL != ""
}

// BaseURL is the origin announced to SSE clients.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return "http://" + c.HTTPAddr
}

// ParseLogLevel maps LOG_LEVEL to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%s - unknown LOG_LEVEL %q", logPrefix, level)
	}
}
