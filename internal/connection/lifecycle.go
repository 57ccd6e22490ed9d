package connection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/codec"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/credential"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/router"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/transport"
)

// startLocked moves rec to connecting and dials in the background.
func (m *Manager) startLocked(rec *record) router.StateEvent {
	rec.attempt++
	ev := m.transitionLocked(rec, StateConnecting, nil)
	ev.Attempt = rec.backoff.Attempts()

	m.wg.Add(1)
	go m.dial(rec, rec.attempt)
	return ev
}

// current reports whether a goroutine or timer of attempt still owns rec.
func (m *Manager) currentLocked(rec *record, attempt uint64) bool {
	return m.records[rec.key] == rec && rec.attempt == attempt
}

func (m *Manager) dial(rec *record, attempt uint64) {
	defer m.wg.Done()

	var (
		sock    transport.Socket
		dialErr error
	)
	token, fatal := credential.Resolve(m.settings.Credentials)
	if fatal == nil {
		var url string
		url, fatal = m.settings.Endpoints.URL(rec.key, token)
		if fatal == nil {
			ctx, cancel := context.WithTimeout(rec.ctx, m.settings.DialTimeout)
			sock, dialErr = m.settings.Dialer.Dial(ctx, url)
			cancel()
		}
	}

	m.mu.Lock()
	if !m.currentLocked(rec, attempt) || rec.state != StateConnecting {
		m.mu.Unlock()
		m.closeSocket(rec.key, sock)
		return
	}

	var events []router.StateEvent
	opened := false
	switch {
	case fatal != nil:
		events = m.failLocked(rec, fatal)
	case dialErr != nil:
		m.logger.Warn("dial failed",
			zap.String("key", rec.key.String()),
			zap.Error(dialErr),
		)
		events = m.closedLocked(rec, fmt.Errorf("%w: %v", ErrTransport, dialErr))
	default:
		events = m.openLocked(rec, sock)
		opened = true
		m.wg.Add(1)
	}
	m.mu.Unlock()

	m.publish(events)
	if opened {
		m.read(rec, attempt, sock)
	}
}

func (m *Manager) openLocked(rec *record, sock transport.Socket) []router.StateEvent {
	reconnected := rec.everOpened

	rec.socket = sock
	rec.everOpened = true
	rec.lastOpenedAt = m.clock.Now()
	rec.backoff.Reset()
	rec.life.markOpened()
	m.armHeartbeatLocked(rec)

	ev := m.transitionLocked(rec, StateOpen, nil)
	ev.Reconnected = reconnected

	m.logger.Info("connection open",
		zap.String("key", rec.key.String()),
		zap.Bool("reconnected", reconnected),
	)
	return []router.StateEvent{ev}
}

// closedLocked handles an unexpected close and schedules the next retry,
// or fails the record once retries are exhausted.
func (m *Manager) closedLocked(rec *record, cause error) []router.StateEvent {
	var events []router.StateEvent

	if rec.state == StateOpen {
		events = append(events, m.transitionLocked(rec, StateClosing, cause))
	}
	if rec.heartbeat != nil {
		rec.heartbeat.Stop()
		rec.heartbeat = nil
	}
	rec.socket = nil
	if n := len(rec.commands); n > 0 {
		m.logger.Debug("dropping pending commands", zap.String("key", rec.key.String()), zap.Int("count", n))
		rec.commands = make(map[string]PendingCommand)
	}

	delay, err := rec.backoff.Next()
	if errors.Is(err, resilience.ErrExhausted) {
		return append(events, m.failLocked(rec, ErrMaxAttemptsExceeded)...)
	}

	ev := m.transitionLocked(rec, StateClosed, cause)
	ev.Attempt = rec.backoff.Attempts()
	ev.RetryIn = delay

	attempt := rec.attempt
	rec.retry = m.clock.AfterFunc(delay, func() { m.reconnect(rec, attempt) })
	m.metrics.RecordReconnect()
	m.logger.Info("reconnect scheduled",
		zap.String("key", rec.key.String()),
		zap.Int("attempt", ev.Attempt),
		zap.Duration("delay", delay),
	)
	return append(events, ev)
}

func (m *Manager) failLocked(rec *record, err error) []router.StateEvent {
	rec.stopTimers()
	rec.attempt++
	rec.socket = nil

	m.logger.Error("connection failed",
		zap.String("key", rec.key.String()),
		zap.Int("attempts", rec.backoff.Attempts()),
		zap.Error(err),
	)

	ev := m.transitionLocked(rec, StateFailed, err)
	ev.Attempt = rec.backoff.Attempts()
	rec.life.finish(err)

	// Unsubscribed failed records still go away after the grace window.
	if len(rec.subscribers) == 0 {
		rec.teardownSeq++
		seq := rec.teardownSeq
		rec.teardown = m.clock.AfterFunc(m.settings.GraceWindow, func() { m.teardown(rec, seq) })
	}
	return []router.StateEvent{ev}
}

func (m *Manager) reconnect(rec *record, attempt uint64) {
	m.mu.Lock()
	if !m.currentLocked(rec, attempt) || rec.state != StateClosed {
		m.mu.Unlock()
		return
	}
	rec.retry = nil
	ev := m.startLocked(rec)
	m.mu.Unlock()

	m.publish([]router.StateEvent{ev})
}

// read runs on its own goroutine for the lifetime of sock. Frames are
// dispatched here one at a time.
func (m *Manager) read(rec *record, attempt uint64, sock transport.Socket) {
	defer m.wg.Done()

	for {
		data, err := sock.Read(rec.ctx)
		if err != nil {
			m.socketClosed(rec, attempt, sock, err)
			return
		}

		frame, fellBack := codec.DecodeOrRaw(data)
		if fellBack {
			m.metrics.RecordDecodeFallback()
			m.logger.Debug("undecodable frame delivered as raw",
				zap.String("key", rec.key.String()),
				zap.Int("bytes", len(data)),
			)
		}
		m.metrics.RecordFrame("in", frame.Type)

		if !m.accept(rec, attempt, frame) {
			return
		}
		m.router.Dispatch(rec.key, frame)
	}
}

// accept applies record bookkeeping for an inbound frame and reports
// whether the read loop still owns rec.
func (m *Manager) accept(rec *record, attempt uint64, f protocol.Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(rec, attempt) {
		return false
	}
	if f.Type == protocol.TypeRawCommandResult {
		var result protocol.RawCommandResult
		if err := f.Bind(&result); err == nil && result.CommandID != "" {
			delete(rec.commands, result.CommandID)
		}
	}
	return true
}

func (m *Manager) socketClosed(rec *record, attempt uint64, sock transport.Socket, err error) {
	m.mu.Lock()
	if !m.currentLocked(rec, attempt) || rec.state != StateOpen {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("connection lost",
		zap.String("key", rec.key.String()),
		zap.Error(err),
	)
	events := m.closedLocked(rec, fmt.Errorf("%w: %v", ErrTransport, err))
	m.mu.Unlock()

	m.closeSocket(rec.key, sock)
	m.publish(events)
}

func (m *Manager) armHeartbeatLocked(rec *record) {
	attempt := rec.attempt
	rec.heartbeat = m.clock.AfterFunc(m.settings.HeartbeatInterval, func() { m.beat(rec, attempt) })
}

func (m *Manager) beat(rec *record, attempt uint64) {
	m.mu.Lock()
	if !m.currentLocked(rec, attempt) || rec.state != StateOpen || rec.socket == nil {
		m.mu.Unlock()
		return
	}
	sock := rec.socket
	m.armHeartbeatLocked(rec)
	m.mu.Unlock()

	if err := m.write(rec.ctx, sock, protocol.Ping(m.settings.ClientName, m.clock.Now())); err != nil {
		// Closing makes the read loop observe the failure and reconnect.
		m.logger.Warn("heartbeat failed", zap.String("key", rec.key.String()), zap.Error(err))
		m.closeSocket(rec.key, sock)
		return
	}
	m.metrics.RecordHeartbeat()
}

func (m *Manager) write(ctx context.Context, sock transport.Socket, f protocol.Frame) error {
	if f.From == "" {
		f.From = m.settings.ClientName
	}
	data, err := codec.Encode(f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.settings.WriteTimeout)
	defer cancel()
	if err := sock.Write(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	m.metrics.RecordFrame("out", f.Type)
	return nil
}
