package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Inbound frame types.
const (
	TypeChatMessage              = "chat_message"
	TypeUserJoin                 = "user_join"
	TypeUserLeave                = "user_leave"
	TypeTyping                   = "typing"
	TypeLogInitial               = "log_initial"
	TypeLogAppend                = "log_append"
	TypeLogHistory               = "log_history"
	TypeRawCommandResult         = "raw_command_result"
	TypeAgentThinkingStream      = "agent_thinking_stream"
	TypeAgentReply               = "agent_reply"
	TypeConversationStatusUpdate = "conversation_status_update"
	TypeMessageAck               = "message_ack"
	TypePong                     = "pong"
)

// Outbound frame types.
const (
	TypePing             = "ping"
	TypeSendMessage      = "send_message"
	TypeRawCommand       = "raw_command"
	TypeRawCommandCancel = "raw_command_cancel"
	TypeLoadHistory      = "load_history"
	TypeToggleFollow     = "toggle_follow"
	TypeRefresh          = "refresh"
)

// TypeRaw marks a frame synthesized from an undecodable payload. Its
// content is low confidence.
const TypeRaw = "raw"

// TimestampLayout is the ISO 8601 layout written on outbound frames.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var knownInbound = map[string]struct{}{
	TypeChatMessage:              {},
	TypeUserJoin:                 {},
	TypeUserLeave:                {},
	TypeTyping:                   {},
	TypeLogInitial:               {},
	TypeLogAppend:                {},
	TypeLogHistory:               {},
	TypeRawCommandResult:         {},
	TypeAgentThinkingStream:      {},
	TypeAgentReply:               {},
	TypeConversationStatusUpdate: {},
	TypeMessageAck:               {},
	TypePong:                     {},
}

// IsKnownInbound reports whether t is a frame type the core understands.
func IsKnownInbound(t string) bool {
	_, ok := knownInbound[t]
	return ok
}

// Frame is the wire envelope.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
	From      string          `json:"from"`
	MessageID string          `json:"messageId,omitempty"`
}

// NewFrame builds an outbound frame. A nil data produces a zero-payload
// control frame.
func NewFrame(frameType, from string, data any) (Frame, error) {
	f := Frame{
		Type:      frameType,
		Timestamp: FormatTimestamp(time.Now()),
		From:      from,
	}
	if data == nil {
		return f, nil
	}
	raw, err := sonic.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	f.Data = raw
	return f, nil
}

// Ping builds the heartbeat frame.
func Ping(from string, now time.Time) Frame {
	return Frame{Type: TypePing, Timestamp: FormatTimestamp(now), From: from}
}

// NewMessageID returns a fresh identifier for frames that expect an
// acknowledgement.
func NewMessageID() string {
	return uuid.NewString()
}

// FormatTimestamp renders t in the wire timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Time parses the frame timestamp. Zero is returned for missing or
// unparseable values.
func (f Frame) Time() time.Time {
	if f.Timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, f.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

var ErrNoData = errors.New("frame has no data")

// Bind decodes the frame's data into v.
func (f Frame) Bind(v any) error {
	if len(f.Data) == 0 {
		return ErrNoData
	}
	if err := sonic.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", f.Type, err)
	}
	return nil
}
