package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/credential"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

// Settings configures the gateway. Zero fields take DefaultSettings values.
type Settings struct {
	Endpoints protocol.Endpoints
	Validator credential.Validator
	// Name fills the from field of every frame the gateway writes.
	Name         string
	ChunkDelay   time.Duration
	WriteTimeout time.Duration
	// HistoryLimit caps stored room and log lines per key.
	HistoryLimit int
	CORS         CORSConfig
	RateLimit    RateLimitConfig
	Logger       *zap.Logger
}

func DefaultSettings() Settings {
	return Settings{
		Endpoints:    protocol.DefaultEndpoints(""),
		Validator:    credential.Opaque{},
		Name:         "gateway",
		WriteTimeout: 10 * time.Second,
		HistoryLimit: 500,
		CORS:         DefaultCORSConfig(),
		RateLimit:    DefaultRateLimitConfig(),
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Endpoints.ChatPath == "" {
		s.Endpoints.ChatPath = d.Endpoints.ChatPath
	}
	if s.Endpoints.AgentLogPath == "" {
		s.Endpoints.AgentLogPath = d.Endpoints.AgentLogPath
	}
	if s.Endpoints.NonePath == "" {
		s.Endpoints.NonePath = d.Endpoints.NonePath
	}
	if s.Validator == nil {
		s.Validator = d.Validator
	}
	if s.Name == "" {
		s.Name = d.Name
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = d.WriteTimeout
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = d.HistoryLimit
	}
	if len(s.CORS.AllowOrigins) == 0 {
		s.CORS = d.CORS
	}
	return s
}

// Server is a development gateway.
type Server struct {
	settings Settings
	engine   *gin.Engine
	hub      *hub
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
	peers  map[*peer]struct{}
}

// NewServer builds the gateway routes.
func NewServer(settings Settings) (*Server, error) {
	settings = settings.withDefaults()

	chat, err := route(settings.Endpoints.ChatPath, true)
	if err != nil {
		return nil, err
	}
	agent, err := route(settings.Endpoints.AgentLogPath, true)
	if err != nil {
		return nil, err
	}
	none, err := route(settings.Endpoints.NonePath, false)
	if err != nil {
		return nil, err
	}

	s := &Server{
		settings: settings,
		hub:      newHub(settings.HistoryLimit),
		logger:   logging.OrNop(settings.Logger).Named("gateway"),
		peers:    make(map[*peer]struct{}),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(s.logger), corsMiddleware(settings.CORS))
	engine.GET("/health", s.health)

	ws := engine.Group("")
	if settings.RateLimit.RequestsPerSecond > 0 {
		ws.Use(rateLimit(settings.RateLimit))
	}
	ws.Use(requireToken(settings.Validator))
	ws.GET(chat, s.serveChat)
	ws.GET(agent, s.serveAgent)
	ws.GET(none, s.serveNamespace)

	s.engine = engine
	return s, nil
}

// route turns an endpoint template into a gin path.
func route(tmpl string, needName bool) (string, error) {
	if !strings.Contains(tmpl, "{namespace}") || (needName && !strings.Contains(tmpl, "{name}")) {
		return "", fmt.Errorf("gateway: endpoint template %q lacks placeholders", tmpl)
	}
	return strings.NewReplacer("{namespace}", ":namespace", "{name}", ":name").Replace(tmpl), nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then closes every peer.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return err
}

// Close disconnects every peer and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

// Peers returns the number of connected clients.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) track(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.peers[p] = struct{}{}
	return true
}

func (s *Server) untrack(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "peers": s.Peers()})
}
