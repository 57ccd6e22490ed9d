package session

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

func (s *Session) onThinking(f protocol.Frame) {
	var p protocol.ThinkingStream
	if err := f.Bind(&p); err != nil {
		s.logger.Warn("malformed thinking frame", zap.Error(err))
		return
	}
	if err := s.tracker.UpdateThinkingContent(p.ConversationID, p.Chunk); err != nil {
		s.logger.Debug("thinking chunk ignored", zap.String("conversation_id", p.ConversationID), zap.Error(err))
	}
}

func (s *Session) onReply(f protocol.Frame) {
	var p protocol.AgentReply
	if err := f.Bind(&p); err != nil {
		s.logger.Warn("malformed reply frame", zap.Error(err))
		return
	}
	if err := s.tracker.Complete(p.ConversationID, p.Content); err != nil {
		s.logger.Debug("reply ignored", zap.String("conversation_id", p.ConversationID), zap.Error(err))
	}
}

func (s *Session) onStatus(f protocol.Frame) {
	var p protocol.ConversationStatusUpdate
	if err := f.Bind(&p); err != nil {
		s.logger.Warn("malformed status frame", zap.Error(err))
		return
	}

	var err error
	switch p.Status {
	case protocol.StatusCompleted:
		err = s.tracker.Complete(p.ConversationID, p.Content)
	case protocol.StatusError:
		err = s.tracker.HandleError(p.ConversationID, firstNonEmpty(p.Error, p.Content, "agent error"))
	case protocol.StatusTimeout:
		err = s.tracker.HandleError(p.ConversationID, firstNonEmpty(p.Error, "agent timed out"))
	default:
		return
	}
	if err != nil {
		s.logger.Debug("status update ignored",
			zap.String("conversation_id", p.ConversationID),
			zap.String("status", p.Status),
			zap.Error(err),
		)
	}
}

func (b *binding) onAck(f protocol.Frame) {
	var p protocol.MessageAck
	if err := f.Bind(&p); err != nil || p.TempID == "" {
		return
	}
	b.outbox.Ack(p.TempID)
}

// onChatEcho treats the server's echo of our own message as its ack.
func (b *binding) onChatEcho(f protocol.Frame) {
	var p protocol.ChatMessage
	if err := f.Bind(&p); err != nil || p.TempID == "" {
		return
	}
	b.outbox.Ack(p.TempID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
