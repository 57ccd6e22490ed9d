package connection

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/credential"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/router"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/clock"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/transport"
)

var ErrEmptySubscriber = errors.New("empty subscriber id")

// disposeConcurrency bounds parallel socket closes in DisposeAll.
const disposeConcurrency = 8

// Manager is the single owner of connection records.
type Manager struct {
	settings Settings
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	router   *router.Router
	clock    clock.Clock

	mu      sync.Mutex
	records map[protocol.ConnectionKey]*record

	// wg tracks dial and read goroutines.
	wg sync.WaitGroup
}

// NewManager creates a manager. A Dialer is required.
func NewManager(settings Settings) (*Manager, error) {
	if settings.Dialer == nil {
		return nil, errors.New("connection manager: dialer is required")
	}
	settings = settings.withDefaults()

	return &Manager{
		settings: settings,
		logger:   settings.Logger.Named("connection"),
		metrics:  settings.Metrics,
		router:   settings.Router,
		clock:    settings.Clock,
		records:  make(map[protocol.ConnectionKey]*record),
	}, nil
}

// Router returns the router frames are dispatched on.
func (m *Manager) Router() *router.Router {
	return m.router
}

// Acquire attaches subscriberID to the connection for key, creating and
// dialing it if needed, and waits until the connection has opened once.
// Equal keys always share one record. On failure the subscriber is
// detached again.
func (m *Manager) Acquire(ctx context.Context, key protocol.ConnectionKey, subscriberID string) (*Handle, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if subscriberID == "" {
		return nil, ErrEmptySubscriber
	}
	if _, err := credential.Resolve(m.settings.Credentials); err != nil {
		m.logger.Warn("acquire refused",
			zap.String("key", key.String()),
			zap.String("subscriber", subscriberID),
			zap.Error(err),
		)
		return nil, err
	}

	m.mu.Lock()
	rec, events := m.attachLocked(key, subscriberID)
	l := rec.life
	m.mu.Unlock()
	m.publish(events)

	handle := &Handle{Key: key, SubscriberID: subscriberID, m: m}

	select {
	case <-l.opened:
		return handle, nil
	case <-l.done:
		select {
		case <-l.opened:
			return handle, nil
		default:
		}
		m.Release(key, subscriberID)
		return nil, l.err
	case <-ctx.Done():
		m.Release(key, subscriberID)
		return nil, ctx.Err()
	}
}

func (m *Manager) attachLocked(key protocol.ConnectionKey, subscriberID string) (*record, []router.StateEvent) {
	var events []router.StateEvent

	rec, ok := m.records[key]
	switch {
	case !ok:
		rec = m.newRecord(key)
		m.records[key] = rec
		m.logger.Info("connection created", zap.String("key", key.String()))
		events = append(events, m.startLocked(rec))
	case rec.state == StateFailed:
		rec.backoff.Reset()
		rec.life = newLife()
		m.logger.Info("connection restarted", zap.String("key", key.String()))
		events = append(events, m.startLocked(rec))
	}

	if rec.teardown != nil {
		m.logger.Debug("teardown cancelled", zap.String("key", key.String()))
	}
	rec.stopTeardown()

	if _, dup := rec.subscribers[subscriberID]; !dup {
		rec.subscribers[subscriberID] = struct{}{}
		m.metrics.AddSubscribers(1)
	}
	return rec, events
}

func (m *Manager) newRecord(key protocol.ConnectionKey) *record {
	ctx, cancel := context.WithCancel(context.Background())
	return &record{
		key:    key,
		ctx:    ctx,
		cancel: cancel,
		backoff: resilience.NewBackoff(key.String(), resilience.Settings{
			Base:        m.settings.BackoffBase,
			Cap:         m.settings.BackoffCap,
			MaxAttempts: m.settings.MaxAttempts,
			OnExhausted: m.exhausted,
		}),
		subscribers: make(map[string]struct{}),
		commands:    make(map[string]PendingCommand),
		life:        newLife(),
	}
}

func (m *Manager) exhausted(name string, attempts int) {
	m.metrics.RecordExhausted()
	m.logger.Warn("reconnect budget exhausted", zap.String("key", name), zap.Int("attempts", attempts))
}

// Release detaches subscriberID. When the last subscriber leaves, the
// record is torn down after the grace window unless it is acquired again
// in the meantime.
func (m *Manager) Release(key protocol.ConnectionKey, subscriberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return
	}
	if _, ok := rec.subscribers[subscriberID]; !ok {
		return
	}
	delete(rec.subscribers, subscriberID)
	m.metrics.AddSubscribers(-1)

	if len(rec.subscribers) > 0 || rec.teardown != nil {
		return
	}
	rec.teardownSeq++
	seq := rec.teardownSeq
	rec.teardown = m.clock.AfterFunc(m.settings.GraceWindow, func() { m.teardown(rec, seq) })
	m.logger.Debug("teardown scheduled",
		zap.String("key", key.String()),
		zap.Duration("grace", m.settings.GraceWindow),
	)
}

func (m *Manager) teardown(rec *record, seq uint64) {
	m.mu.Lock()
	if m.records[rec.key] != rec || rec.teardownSeq != seq || len(rec.subscribers) > 0 {
		m.mu.Unlock()
		return
	}
	rec.teardown = nil
	events, sock := m.removeLocked(rec)
	m.mu.Unlock()

	m.closeSocket(rec.key, sock)
	m.logger.Info("connection torn down", zap.String("key", rec.key.String()))
	m.publish(events)
}

// Disconnect closes the connection for key immediately, without
// reconnecting and regardless of subscribers.
func (m *Manager) Disconnect(key protocol.ConnectionKey) {
	m.mu.Lock()
	rec, ok := m.records[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	events, sock := m.removeLocked(rec)
	m.mu.Unlock()

	m.closeSocket(key, sock)
	m.logger.Info("connection disconnected", zap.String("key", key.String()))
	m.publish(events)
}

// removeLocked deletes rec and hands back its socket for closing. Every
// goroutine and timer of rec becomes stale.
func (m *Manager) removeLocked(rec *record) ([]router.StateEvent, transport.Socket) {
	var events []router.StateEvent

	delete(m.records, rec.key)
	rec.stopTimers()
	rec.attempt++

	if rec.state == StateOpen {
		events = append(events, m.transitionLocked(rec, StateClosing, nil))
	}
	sock := rec.socket
	rec.socket = nil
	rec.cancel()
	events = append(events, m.transitionLocked(rec, StateClosed, ErrConnectionClosed))

	m.metrics.AddSubscribers(-len(rec.subscribers))
	rec.subscribers = make(map[string]struct{})
	rec.commands = make(map[string]PendingCommand)
	rec.life.finish(ErrConnectionClosed)
	return events, sock
}

func (m *Manager) closeSocket(key protocol.ConnectionKey, sock transport.Socket) {
	if sock == nil {
		return
	}
	if err := sock.Close(); err != nil {
		m.logger.Debug("close socket", zap.String("key", key.String()), zap.Error(err))
	}
}

// DisposeAll disconnects every record, waits for their goroutines and
// drops every listener. Use it on sign-out.
func (m *Manager) DisposeAll(ctx context.Context) error {
	m.mu.Lock()
	keys := make([]protocol.ConnectionKey, 0, len(m.records))
	for key := range m.records {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(disposeConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m.Disconnect(key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.router.Reset()
	m.logger.Info("all connections disposed", zap.Int("count", len(keys)))
	return nil
}

// Send writes f on the connection for key. It fails with ErrNotConnected
// unless the record is open.
func (m *Manager) Send(ctx context.Context, key protocol.ConnectionKey, f protocol.Frame) error {
	if _, err := credential.Resolve(m.settings.Credentials); err != nil {
		return err
	}

	m.mu.Lock()
	rec, ok := m.records[key]
	if !ok || rec.state != StateOpen || rec.socket == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	sock := rec.socket
	m.mu.Unlock()

	return m.write(ctx, sock, f)
}

// State returns the state of key, StateClosed if there is no record.
func (m *Manager) State(key protocol.ConnectionKey) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[key]; ok {
		return rec.state
	}
	return StateClosed
}

// Lookup returns a view of the record for key.
func (m *Manager) Lookup(key protocol.ConnectionKey) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return Info{}, false
	}
	return Info{
		Key:          rec.key,
		State:        rec.state,
		Attempts:     rec.backoff.Attempts(),
		Subscribers:  len(rec.subscribers),
		LastOpenedAt: rec.lastOpenedAt,
		Pending:      len(rec.commands),
	}, true
}

// Subscribers returns the sorted subscriber ids attached to key.
func (m *Manager) Subscribers(key protocol.ConnectionKey) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rec.subscribers))
	for sub := range rec.subscribers {
		ids = append(ids, sub)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns counts across all records.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Connections: len(m.records)}
	for _, rec := range m.records {
		if rec.state == StateOpen {
			s.Open++
		}
		s.Subscribers += len(rec.subscribers)
	}
	return s
}

func (m *Manager) transitionLocked(rec *record, to State, err error) router.StateEvent {
	from := rec.state
	rec.state = to

	if from == StateOpen && to != StateOpen {
		m.metrics.ConnectionClosed()
	}
	if to == StateOpen && from != StateOpen {
		m.metrics.ConnectionOpened()
	}
	m.metrics.RecordState(string(rec.key.Kind), string(to))

	return router.StateEvent{Key: rec.key, State: string(to), Err: err}
}

func (m *Manager) publish(events []router.StateEvent) {
	for _, ev := range events {
		m.router.PublishState(ev)
	}
}
