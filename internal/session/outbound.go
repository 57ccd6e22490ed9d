package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/connection"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/conversation"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/outbox"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/router"
)

// SendChat queues content for key and sends it if the connection is
// open. Messages that cannot be written now stay queued and are flushed
// on the next open. The returned temporary id is echoed by the server's
// acknowledgement.
func (s *Session) SendChat(ctx context.Context, key protocol.ConnectionKey, content string) (string, error) {
	b, err := s.bind(key)
	if err != nil {
		return "", err
	}
	msg := b.outbox.Track(content, nil)
	if err := s.deliver(ctx, key, b, msg); err != nil {
		return "", err
	}
	return msg.TempID, nil
}

// Ask starts a conversation with the agent named by key and sends prompt.
func (s *Session) Ask(ctx context.Context, key protocol.ConnectionKey, prompt string) (conversation.Record, error) {
	if _, err := s.bind(key); err != nil {
		return conversation.Record{}, err
	}
	rec := s.tracker.StartPrompt(key.Name, key.Namespace, prompt)
	return s.ask(ctx, key, rec)
}

// Retry restarts a failed conversation under a new id and resends its
// prompt.
func (s *Session) Retry(ctx context.Context, key protocol.ConnectionKey, conversationID string) (conversation.Record, error) {
	if _, err := s.bind(key); err != nil {
		return conversation.Record{}, err
	}
	rec, err := s.tracker.Retry(conversationID)
	if err != nil {
		return conversation.Record{}, err
	}
	s.dropPrompt(conversationID)
	return s.ask(ctx, key, rec)
}

func (s *Session) ask(ctx context.Context, key protocol.ConnectionKey, rec conversation.Record) (conversation.Record, error) {
	b, err := s.bind(key)
	if err != nil {
		return rec, err
	}
	msg := b.outbox.Track(rec.Prompt, map[string]string{
		metaTarget:       rec.Target,
		metaConversation: rec.ID,
	})
	if err := s.deliver(ctx, key, b, msg); err != nil {
		_ = s.tracker.HandleError(rec.ID, err.Error())
		if failed, ok := s.tracker.Get(rec.ID); ok {
			rec = failed
		}
		return rec, err
	}
	return rec, nil
}

// deliver attempts an immediate write. Connectivity failures leave msg
// queued; anything else drops it.
func (s *Session) deliver(ctx context.Context, key protocol.ConnectionKey, b *binding, msg outbox.PendingMessage) error {
	err := s.sendPending(ctx, key, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, connection.ErrNotConnected), errors.Is(err, connection.ErrTransport):
		s.logger.Debug("message queued",
			zap.String("key", key.String()),
			zap.String("temp_id", msg.TempID),
			zap.Error(err),
		)
		return nil
	default:
		b.outbox.Ack(msg.TempID)
		return err
	}
}

func (s *Session) sendPending(ctx context.Context, key protocol.ConnectionKey, msg outbox.PendingMessage) error {
	conversationID := msg.Meta[metaConversation]
	f, err := protocol.NewFrame(protocol.TypeSendMessage, s.cfg.Endpoint.ClientName, protocol.SendMessage{
		Content:        msg.Content,
		TempID:         msg.TempID,
		Target:         msg.Meta[metaTarget],
		ConversationID: conversationID,
		ExpectReply:    conversationID != "",
	})
	if err != nil {
		return err
	}
	f.MessageID = protocol.NewMessageID()
	return s.manager.Send(ctx, key, f)
}

// SendCommand issues a raw command to agentName over key.
func (s *Session) SendCommand(ctx context.Context, key protocol.ConnectionKey, agentName, command string) (string, error) {
	return s.manager.SendCommand(ctx, key, agentName, command)
}

// CancelCommand cancels a pending raw command.
func (s *Session) CancelCommand(ctx context.Context, key protocol.ConnectionKey, commandID string) error {
	return s.manager.CancelCommand(ctx, key, commandID)
}

// PendingCommands lists raw commands on key still awaiting a result.
func (s *Session) PendingCommands(key protocol.ConnectionKey) []connection.PendingCommand {
	return s.manager.PendingCommands(key)
}

// LoadHistory asks the server for older lines or messages.
func (s *Session) LoadHistory(ctx context.Context, key protocol.ConnectionKey, before string, limit int) error {
	return s.sendFrame(ctx, key, protocol.TypeLoadHistory, protocol.LoadHistory{Before: before, Limit: limit})
}

// ToggleFollow switches live log following.
func (s *Session) ToggleFollow(ctx context.Context, key protocol.ConnectionKey, follow bool) error {
	return s.sendFrame(ctx, key, protocol.TypeToggleFollow, protocol.ToggleFollow{Follow: follow})
}

// Refresh asks the server to resend the current state of key.
func (s *Session) Refresh(ctx context.Context, key protocol.ConnectionKey) error {
	return s.sendFrame(ctx, key, protocol.TypeRefresh, nil)
}

func (s *Session) sendFrame(ctx context.Context, key protocol.ConnectionKey, frameType string, data any) error {
	f, err := protocol.NewFrame(frameType, s.cfg.Endpoint.ClientName, data)
	if err != nil {
		return err
	}
	return s.manager.Send(ctx, key, f)
}

// Outbound lists messages on key still awaiting acknowledgement.
func (s *Session) Outbound(key protocol.ConnectionKey) []outbox.PendingMessage {
	s.mu.Lock()
	b, ok := s.bindings[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return b.outbox.Due(s.clock.Now())
}

// On registers fn for frames of eventType on key.
func (s *Session) On(key protocol.ConnectionKey, eventType string, fn router.Listener) router.ListenerID {
	return s.router.On(key, eventType, fn)
}

// Off removes a listener registered with On.
func (s *Session) Off(key protocol.ConnectionKey, eventType string, id router.ListenerID) bool {
	return s.router.Off(key, eventType, id)
}

// OnState registers fn for connectivity changes of key.
func (s *Session) OnState(key protocol.ConnectionKey, fn router.StateListener) router.ListenerID {
	return s.router.OnState(key, fn)
}

// OffState removes a listener registered with OnState.
func (s *Session) OffState(key protocol.ConnectionKey, id router.ListenerID) bool {
	return s.router.OffState(key, id)
}

// Conversation returns the tracked conversation with the given id.
func (s *Session) Conversation(conversationID string) (conversation.Record, bool) {
	return s.tracker.Get(conversationID)
}

// Conversations lists every tracked conversation.
func (s *Session) Conversations() []conversation.Record {
	return s.tracker.List()
}

// WatchConversations calls fn on every conversation change until the
// returned function is called.
func (s *Session) WatchConversations(fn func(conversation.Record)) func() {
	return s.tracker.Subscribe(fn)
}
