package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/connection"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/conversation"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/credential"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/outbox"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/clock"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/transport"
)

// Options overrides the collaborators New would otherwise build from
// Config. Every field is optional.
type Options struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *monitoring.Metrics
	Credentials credential.Provider
	Dialer      transport.Dialer
	Clock       clock.Clock
	// Store persists conversations across restarts. Nil uses a FileStore
	// when Config.Conversation.SnapshotPath is set, and nothing otherwise.
	Store conversation.Store
}

// jwtLeeway tolerates clock skew when RequireJWT is set.
const jwtLeeway = 30 * time.Second

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.ForProfile(cfg.Logging.Level, cfg.Logging.Development))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Component("agentlink"), nil
}

// buildCredentials returns the provider and a close function for it.
func buildCredentials(cfg config.CredentialConfig, logger *zap.Logger) (credential.Provider, func() error, error) {
	var validator credential.Validator = credential.Opaque{}
	if cfg.RequireJWT {
		validator = credential.JWTValidator{Leeway: jwtLeeway}
	}

	if cfg.TokenFile != "" {
		p, err := credential.NewFileProvider(cfg.TokenFile, validator, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
	return credential.Env{Name: cfg.TokenEnv, Validator: validator}, func() error { return nil }, nil
}

func buildDialer(cfg config.ConnectionConfig) (transport.Dialer, error) {
	opts := transport.DefaultOptions()
	opts.HandshakeTimeout = cfg.HandshakeTimeout.Duration
	opts.WriteTimeout = cfg.WriteTimeout.Duration
	return transport.NewDialer(cfg.Driver, opts)
}

func endpoints(cfg config.EndpointConfig) protocol.Endpoints {
	return protocol.Endpoints{
		Origin:       cfg.Origin,
		ChatPath:     cfg.ChatPath,
		AgentLogPath: cfg.AgentLogPath,
		NonePath:     cfg.NonePath,
	}
}

func connectionSettings(cfg *config.Config) connection.Settings {
	c := cfg.Connection
	return connection.Settings{
		Endpoints:         endpoints(cfg.Endpoint),
		ClientName:        cfg.Endpoint.ClientName,
		BackoffBase:       c.BackoffBase.Duration,
		BackoffCap:        c.BackoffCap.Duration,
		MaxAttempts:       c.MaxAttempts,
		HeartbeatInterval: c.HeartbeatInterval.Duration,
		GraceWindow:       c.GraceWindow.Duration,
		DialTimeout:       c.HandshakeTimeout.Duration,
		WriteTimeout:      c.WriteTimeout.Duration,
	}
}

func conversationSettings(cfg config.ConversationConfig) conversation.Settings {
	return conversation.Settings{
		Timeout:       cfg.Timeout.Duration,
		SweepInterval: cfg.SweepInterval.Duration,
		Retention:     cfg.Retention.Duration,
	}
}

func outboxSettings(cfg config.OutboxConfig) outbox.Settings {
	return outbox.Settings{
		MaxRetries: cfg.MaxRetries,
		MaxAge:     cfg.MaxAge.Duration,
		FlushRate:  cfg.FlushRate,
		FlushBurst: cfg.FlushBurst,
	}
}
