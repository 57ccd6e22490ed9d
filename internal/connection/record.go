package connection

import (
	"context"
	"time"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/clock"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/transport"
)

// State is the connectivity state of a record.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	// StateFailed means reconnects were exhausted or the credential became
	// unusable. Only a new Acquire restarts the record.
	StateFailed State = "failed"
)

// PendingCommand is a raw command awaiting its result frame.
type PendingCommand struct {
	CommandID string
	AgentName string
	Command   string
	IssuedAt  time.Time
}

// life is one connect cycle of a record, from creation or restart until
// the record fails or is removed. Acquire waits on it.
type life struct {
	opened chan struct{}
	done   chan struct{}
	// err is written before done is closed.
	err error
}

func newLife() *life {
	return &life{opened: make(chan struct{}), done: make(chan struct{})}
}

func (l *life) markOpened() {
	select {
	case <-l.opened:
	default:
		close(l.opened)
	}
}

func (l *life) finish(err error) {
	select {
	case <-l.done:
	default:
		l.err = err
		close(l.done)
	}
}

// record is the ConnectionRecord. Every field except key, ctx and cancel
// is guarded by Manager.mu.
type record struct {
	key    protocol.ConnectionKey
	ctx    context.Context
	cancel context.CancelFunc

	state        State
	socket       transport.Socket
	backoff      *resilience.Backoff
	subscribers  map[string]struct{}
	lastOpenedAt time.Time
	everOpened   bool
	life         *life
	commands     map[string]PendingCommand

	// attempt identifies the current dial/read cycle; goroutines and timers
	// carrying an older value are stale and do nothing.
	attempt uint64

	retry     clock.Timer
	heartbeat clock.Timer
	teardown  clock.Timer
	// teardownSeq invalidates grace timers that fired after being cancelled.
	teardownSeq uint64
}

func (r *record) stopTimers() {
	if r.retry != nil {
		r.retry.Stop()
		r.retry = nil
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
		r.heartbeat = nil
	}
	r.stopTeardown()
}

func (r *record) stopTeardown() {
	if r.teardown != nil {
		r.teardown.Stop()
		r.teardown = nil
	}
	r.teardownSeq++
}

// Info is a read-only view of a record.
type Info struct {
	Key          protocol.ConnectionKey
	State        State
	Attempts     int
	Subscribers  int
	LastOpenedAt time.Time
	Pending      int
}

// Stats summarizes the manager.
type Stats struct {
	Connections int
	Open        int
	Subscribers int
}
