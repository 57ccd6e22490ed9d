package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/connection"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/conversation"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/credential"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/outbox"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/router"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/clock"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/id"
)

var ErrClosed = errors.New("session closed")

// flushTimeout bounds one outbox flush after a connection opens.
const flushTimeout = 30 * time.Second

// Outbox metadata keys.
const (
	metaTarget       = "target"
	metaConversation = "conversationId"
)

// reasonInterrupted is recorded on exchanges failed by a reconnect.
const reasonInterrupted = "connection interrupted"

// Stats summarizes a session.
type Stats struct {
	Connections   connection.Stats
	Conversations int
	Outbound      int
	LastSaved     *time.Time
	LastRestored  *time.Time
}

// binding holds the session's own listeners and outbox for one key.
type binding struct {
	registrations []registration
	stateID       router.ListenerID
	outbox        *outbox.Outbox
	// droppedAt is when the connection last left open; zero when unset.
	droppedAt time.Time
}

type registration struct {
	event string
	id    router.ListenerID
}

// Session is the facade host applications talk to.
type Session struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	clock      clock.Clock
	closeCreds func() error
	router     *router.Router
	manager    *connection.Manager
	tracker    *conversation.Tracker
	store      conversation.Store
	unwatch    func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	bindings     map[protocol.ConnectionKey]*binding
	lastSaved    *time.Time
	lastRestored *time.Time
}

// New builds a session and restores persisted conversations.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = buildLogger(cfg); err != nil {
			return nil, err
		}
	}

	metrics := opts.Metrics
	if metrics == nil && cfg.Metrics.Enabled {
		metrics = monitoring.NewMetrics(cfg.Metrics.Namespace)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	creds, closeCreds := opts.Credentials, func() error { return nil }
	if creds == nil {
		var err error
		if creds, closeCreds, err = buildCredentials(cfg.Credential, logger); err != nil {
			return nil, fmt.Errorf("build credential provider: %w", err)
		}
	}

	dialer := opts.Dialer
	if dialer == nil {
		var err error
		if dialer, err = buildDialer(cfg.Connection); err != nil {
			_ = closeCreds()
			return nil, err
		}
	}

	r := router.New(logger, metrics)

	cs := connectionSettings(cfg)
	cs.Credentials = creds
	cs.Dialer = dialer
	cs.Router = r
	cs.Clock = clk
	cs.Logger = logger
	cs.Metrics = metrics
	manager, err := connection.NewManager(cs)
	if err != nil {
		_ = closeCreds()
		return nil, err
	}

	ts := conversationSettings(cfg.Conversation)
	ts.Clock = clk
	ts.Logger = logger
	ts.Metrics = metrics
	tracker := conversation.NewTracker(ts)

	store := opts.Store
	if store == nil && cfg.Conversation.SnapshotPath != "" {
		store = conversation.NewFileStore(cfg.Conversation.SnapshotPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		logger:     logger.Named("session"),
		metrics:    metrics,
		clock:      clk,
		closeCreds: closeCreds,
		router:     r,
		manager:    manager,
		tracker:    tracker,
		store:      store,
		ctx:        ctx,
		cancel:     cancel,
		bindings:   make(map[protocol.ConnectionKey]*binding),
	}
	s.unwatch = tracker.Subscribe(s.onConversation)
	s.restore()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		tracker.Run(ctx)
	}()

	s.logger.Info("session started",
		zap.String("origin", cfg.Endpoint.Origin),
		zap.String("driver", cfg.Connection.Driver),
		zap.Bool("persistent", store != nil),
	)
	return s, nil
}

// NewSubscriberID returns a fresh subscriber id for hosts without their own.
func NewSubscriberID() string {
	return id.NewSubscriberID().String()
}

func (s *Session) restore() {
	if s.store == nil {
		return
	}
	data, err := s.store.Load()
	if errors.Is(err, conversation.ErrNoSnapshot) {
		return
	}
	if err != nil {
		s.logger.Warn("load conversation snapshot", zap.Error(err))
		return
	}
	if _, err := s.tracker.Restore(data); err != nil {
		s.logger.Warn("restore conversation snapshot", zap.Error(err))
		return
	}
	now := s.clock.Now()
	s.mu.Lock()
	s.lastRestored = &now
	s.mu.Unlock()
}

// Connect attaches subscriberID to key and waits for the connection to
// open.
func (s *Session) Connect(ctx context.Context, key protocol.ConnectionKey, subscriberID string) (*connection.Handle, error) {
	if _, err := s.bind(key); err != nil {
		return nil, err
	}
	return s.manager.Acquire(ctx, key, subscriberID)
}

// Release detaches subscriberID from key.
func (s *Session) Release(key protocol.ConnectionKey, subscriberID string) {
	s.manager.Release(key, subscriberID)
}

// Disconnect closes key immediately and for good.
func (s *Session) Disconnect(key protocol.ConnectionKey) {
	s.manager.Disconnect(key)
}

// State returns the connectivity state of key.
func (s *Session) State(key protocol.ConnectionKey) connection.State {
	return s.manager.State(key)
}

// bind registers the session's listeners for key once.
func (s *Session) bind(key protocol.ConnectionKey) (*binding, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if b, ok := s.bindings[key]; ok {
		return b, nil
	}

	ob := outboxSettings(s.cfg.Outbox)
	ob.Clock = s.clock
	ob.Logger = s.logger
	ob.Metrics = s.metrics
	b := &binding{outbox: outbox.New(ob)}

	on := func(event string, fn router.Listener) {
		b.registrations = append(b.registrations, registration{event: event, id: s.router.On(key, event, fn)})
	}
	on(protocol.TypeAgentThinkingStream, s.onThinking)
	on(protocol.TypeAgentReply, s.onReply)
	on(protocol.TypeConversationStatusUpdate, s.onStatus)
	on(protocol.TypeMessageAck, b.onAck)
	on(protocol.TypeChatMessage, b.onChatEcho)
	b.stateID = s.router.OnState(key, s.onState(key, b))

	s.bindings[key] = b
	return b, nil
}

func (s *Session) onState(key protocol.ConnectionKey, b *binding) router.StateListener {
	return func(ev router.StateEvent) {
		switch connection.State(ev.State) {
		case connection.StateClosing:
			s.mu.Lock()
			b.droppedAt = s.clock.Now()
			s.mu.Unlock()

		case connection.StateOpen:
			s.mu.Lock()
			cutoff := b.droppedAt
			b.droppedAt = time.Time{}
			s.mu.Unlock()

			if ev.Reconnected && !cutoff.IsZero() && s.cfg.Conversation.FailThinkingOnReconnect {
				if n := s.tracker.FailThinking(key.Name, key.Namespace, reasonInterrupted, cutoff); n > 0 {
					s.logger.Info("interrupted conversations failed",
						zap.String("key", key.String()),
						zap.Int("count", n),
					)
				}
			}
			s.flushAsync(key, b)

		case connection.StateFailed:
			s.logger.Warn("connection failed", zap.String("key", key.String()), zap.Error(ev.Err))
		}
	}
}

func (s *Session) flushAsync(key protocol.ConnectionKey, b *binding) {
	if b.outbox.Len() == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, flushTimeout)
		defer cancel()
		n, err := b.outbox.Flush(ctx, func(msg outbox.PendingMessage) error {
			if !s.awaitingReply(msg) {
				return outbox.ErrDiscard
			}
			return s.sendPending(ctx, key, msg)
		})
		if err != nil {
			s.logger.Warn("outbox flush interrupted", zap.String("key", key.String()), zap.Int("sent", n), zap.Error(err))
			return
		}
		s.logger.Debug("outbox flushed", zap.String("key", key.String()), zap.Int("sent", n))
	}()
}

// onConversation drops the queued prompt of an exchange once it ends.
func (s *Session) onConversation(rec conversation.Record) {
	if rec.Status.Terminal() {
		s.dropPrompt(rec.ID)
	}
}

func (s *Session) dropPrompt(conversationID string) {
	s.mu.Lock()
	bindings := make([]*binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		bindings = append(bindings, b)
	}
	s.mu.Unlock()

	for _, b := range bindings {
		dropped := b.outbox.Drop(func(msg outbox.PendingMessage) bool {
			return msg.Meta[metaConversation] == conversationID
		})
		if len(dropped) > 0 {
			s.logger.Debug("queued prompt dropped", zap.String("conversation_id", conversationID))
		}
	}
}

// awaitingReply reports whether msg is plain chat or belongs to a
// conversation still thinking.
func (s *Session) awaitingReply(msg outbox.PendingMessage) bool {
	conversationID := msg.Meta[metaConversation]
	if conversationID == "" {
		return true
	}
	rec, ok := s.tracker.Get(conversationID)
	return ok && !rec.Status.Terminal()
}

// Close disposes every connection, waits for background work, persists
// conversations and stops watching credentials.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	var errs []error
	if err := s.manager.DisposeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispose connections: %w", err))
	}
	s.wg.Wait()

	s.unwatch()
	if err := s.Save(); err != nil {
		errs = append(errs, err)
	}
	if err := s.closeCreds(); err != nil {
		errs = append(errs, fmt.Errorf("close credential provider: %w", err))
	}

	s.mu.Lock()
	s.bindings = make(map[protocol.ConnectionKey]*binding)
	s.mu.Unlock()

	s.logger.Info("session closed")
	return errors.Join(errs...)
}

// Save persists the conversation snapshot, if a store is configured.
func (s *Session) Save() error {
	if s.store == nil {
		return nil
	}
	data, err := s.tracker.Snapshot()
	if err != nil {
		return err
	}
	if err := s.store.Save(data); err != nil {
		return fmt.Errorf("save conversation snapshot: %w", err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.lastSaved = &now
	s.mu.Unlock()
	return nil
}

// Metrics returns the session's metrics, nil when disabled.
func (s *Session) Metrics() *monitoring.Metrics {
	return s.metrics
}

// Stats returns a summary of the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	outbound := 0
	for _, b := range s.bindings {
		outbound += b.outbox.Len()
	}
	st := Stats{
		Outbound:     outbound,
		LastSaved:    s.lastSaved,
		LastRestored: s.lastRestored,
	}
	s.mu.Unlock()

	st.Connections = s.manager.Stats()
	st.Conversations = len(s.tracker.List())
	return st
}

// IsCredentialError reports whether err came from the credential check.
func IsCredentialError(err error) bool {
	return credential.IsCredentialError(err)
}
