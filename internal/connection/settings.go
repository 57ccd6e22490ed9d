package connection

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/credential"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/router"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/clock"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/transport"
)

// Settings wires a Manager.
type Settings struct {
	Endpoints   protocol.Endpoints
	Credentials credential.Provider
	Dialer      transport.Dialer
	Router      *router.Router

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *monitoring.Metrics

	// ClientName fills the from field of outbound frames that have none.
	ClientName string

	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	GraceWindow       time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultSettings returns the standard timings with no collaborators set.
func DefaultSettings() Settings {
	return Settings{
		ClientName:        "agentlink",
		BackoffBase:       time.Second,
		BackoffCap:        30 * time.Second,
		MaxAttempts:       5,
		HeartbeatInterval: 30 * time.Second,
		GraceWindow:       30 * time.Second,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Clock == nil {
		s.Clock = clock.Real()
	}
	s.Logger = logging.OrNop(s.Logger)
	if s.Router == nil {
		s.Router = router.New(s.Logger, s.Metrics)
	}
	if s.ClientName == "" {
		s.ClientName = d.ClientName
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = d.BackoffBase
	}
	if s.BackoffCap <= 0 {
		s.BackoffCap = d.BackoffCap
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = d.MaxAttempts
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = d.HeartbeatInterval
	}
	if s.GraceWindow <= 0 {
		s.GraceWindow = d.GraceWindow
	}
	if s.DialTimeout <= 0 {
		s.DialTimeout = d.DialTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = d.WriteTimeout
	}
	return s
}
