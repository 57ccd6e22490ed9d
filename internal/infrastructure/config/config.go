package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration of the realtime core.
type Config struct {
	Endpoint     EndpointConfig     `toml:"endpoint"`
	Connection   ConnectionConfig   `toml:"connection"`
	Conversation ConversationConfig `toml:"conversation"`
	Outbox       OutboxConfig       `toml:"outbox"`
	Credential   CredentialConfig   `toml:"credential"`
	Logging      LogConfig          `toml:"logging"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// EndpointConfig holds the gateway origin and per-kind path templates.
type EndpointConfig struct {
	Origin       string `envconfig:"WS_ORIGIN" default:"ws://localhost:8000" toml:"origin"`
	ChatPath     string `envconfig:"WS_CHAT_PATH" default:"/ws/chat/{namespace}/{name}" toml:"chat_path"`
	AgentLogPath string `envconfig:"WS_AGENT_LOG_PATH" default:"/ws/agents/{namespace}/{name}/logs" toml:"agent_log_path"`
	NonePath     string `envconfig:"WS_NONE_PATH" default:"/ws/{namespace}" toml:"none_path"`
	ClientName   string `envconfig:"WS_CLIENT_NAME" default:"agentlink" toml:"client_name"`
}

// ConnectionConfig holds lifecycle timing.
type ConnectionConfig struct {
	Driver            string   `envconfig:"WS_DRIVER" default:"gorilla" toml:"driver"`
	BackoffBase       Duration `envconfig:"WS_BACKOFF_BASE" default:"1s" toml:"backoff_base"`
	BackoffCap        Duration `envconfig:"WS_BACKOFF_CAP" default:"30s" toml:"backoff_cap"`
	MaxAttempts       int      `envconfig:"WS_MAX_ATTEMPTS" default:"5" toml:"max_attempts"`
	HeartbeatInterval Duration `envconfig:"WS_HEARTBEAT_INTERVAL" default:"30s" toml:"heartbeat_interval"`
	GraceWindow       Duration `envconfig:"WS_GRACE_WINDOW" default:"30s" toml:"grace_window"`
	HandshakeTimeout  Duration `envconfig:"WS_HANDSHAKE_TIMEOUT" default:"10s" toml:"handshake_timeout"`
	WriteTimeout      Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s" toml:"write_timeout"`
}

// ConversationConfig holds the agent exchange policy.
type ConversationConfig struct {
	Timeout       Duration `envconfig:"CONVERSATION_TIMEOUT" default:"30s" toml:"timeout"`
	SweepInterval Duration `envconfig:"CONVERSATION_SWEEP_INTERVAL" default:"60s" toml:"sweep_interval"`
	Retention     Duration `envconfig:"CONVERSATION_RETENTION" default:"5m" toml:"retention"`
	SnapshotPath  string   `envconfig:"CONVERSATION_SNAPSHOT_PATH" toml:"snapshot_path"`
	// FailThinkingOnReconnect errors conversations still thinking when
	// their connection drops and comes back.
	FailThinkingOnReconnect bool `envconfig:"CONVERSATION_FAIL_ON_RECONNECT" default:"true" toml:"fail_thinking_on_reconnect"`
}

// OutboxConfig holds outbound reliability settings.
type OutboxConfig struct {
	MaxRetries int      `envconfig:"OUTBOX_MAX_RETRIES" default:"3" toml:"max_retries"`
	MaxAge     Duration `envconfig:"OUTBOX_MAX_AGE" default:"2m" toml:"max_age"`
	FlushRate  float64  `envconfig:"OUTBOX_FLUSH_RATE" default:"20" toml:"flush_rate"`
	FlushBurst int      `envconfig:"OUTBOX_FLUSH_BURST" default:"5" toml:"flush_burst"`
}

// CredentialConfig selects where the bearer token comes from.
type CredentialConfig struct {
	TokenEnv  string `envconfig:"TOKEN_ENV" default:"AGENTLINK_TOKEN" toml:"token_env"`
	TokenFile string `envconfig:"TOKEN_FILE" toml:"token_file"`
	// RequireJWT rejects tokens that are not structurally valid, unexpired JWTs.
	RequireJWT bool `envconfig:"TOKEN_REQUIRE_JWT" default:"false" toml:"require_jwt"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"development"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"true" toml:"enabled"`
	Namespace string `envconfig:"METRICS_NAMESPACE" default:"agentlink" toml:"namespace"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile loads the environment configuration and overlays a TOML
// profile on top of it. Keys absent from the profile keep their
// environment or default value. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the components rely on.
func (c *Config) Validate() error {
	switch {
	case c.Endpoint.Origin == "":
		return errors.New("config: endpoint origin is required")
	case c.Connection.BackoffBase.Duration <= 0:
		return errors.New("config: backoff base must be positive")
	case c.Connection.BackoffCap.Duration < c.Connection.BackoffBase.Duration:
		return errors.New("config: backoff cap must not be below base")
	case c.Connection.MaxAttempts < 0:
		return errors.New("config: max attempts must not be negative")
	case c.Connection.HeartbeatInterval.Duration <= 0:
		return errors.New("config: heartbeat interval must be positive")
	case c.Conversation.Timeout.Duration <= 0:
		return errors.New("config: conversation timeout must be positive")
	case c.Conversation.Retention.Duration <= 0:
		return errors.New("config: conversation retention must be positive")
	case c.Outbox.MaxRetries < 0:
		return errors.New("config: outbox max retries must not be negative")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			Origin:       "ws://localhost:8000",
			ChatPath:     "/ws/chat/{namespace}/{name}",
			AgentLogPath: "/ws/agents/{namespace}/{name}/logs",
			NonePath:     "/ws/{namespace}",
			ClientName:   "agentlink",
		},
		Connection: ConnectionConfig{
			Driver:            "gorilla",
			BackoffBase:       Duration{time.Second},
			BackoffCap:        Duration{30 * time.Second},
			MaxAttempts:       5,
			HeartbeatInterval: Duration{30 * time.Second},
			GraceWindow:       Duration{30 * time.Second},
			HandshakeTimeout:  Duration{10 * time.Second},
			WriteTimeout:      Duration{10 * time.Second},
		},
		Conversation: ConversationConfig{
			Timeout:                 Duration{30 * time.Second},
			SweepInterval:           Duration{60 * time.Second},
			Retention:               Duration{5 * time.Minute},
			FailThinkingOnReconnect: true,
		},
		Outbox: OutboxConfig{
			MaxRetries: 3,
			MaxAge:     Duration{2 * time.Minute},
			FlushRate:  20,
			FlushBurst: 5,
		},
		Credential: CredentialConfig{
			TokenEnv: "AGENTLINK_TOKEN",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "agentlink",
		},
	}
}
