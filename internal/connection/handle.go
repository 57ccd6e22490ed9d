package connection

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

// Handle is what a subscriber gets back from Acquire. It carries only the
// key; the record and socket stay inside the Manager.
type Handle struct {
	Key          protocol.ConnectionKey
	SubscriberID string

	m *Manager
}

// Send writes f on the handle's connection.
func (h *Handle) Send(ctx context.Context, f protocol.Frame) error {
	return h.m.Send(ctx, h.Key, f)
}

// State returns the current state of the handle's connection.
func (h *Handle) State() State {
	return h.m.State(h.Key)
}

// Release detaches the subscriber.
func (h *Handle) Release() {
	h.m.Release(h.Key, h.SubscriberID)
}
