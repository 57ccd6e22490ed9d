package protocol

// ChatMessage is the data of chat_message frames, inbound and echoed.
type ChatMessage struct {
	ID      string `json:"id,omitempty"`
	Room    string `json:"room,omitempty"`
	User    string `json:"user"`
	Content string `json:"content"`
	TempID  string `json:"tempId,omitempty"`
}

// Presence is the data of user_join and user_leave.
type Presence struct {
	User  string   `json:"user"`
	Users []string `json:"users,omitempty"`
}

// Typing is the data of typing frames.
type Typing struct {
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

// LogLines is the data of log_initial, log_append and log_history.
type LogLines struct {
	Lines   []string `json:"lines"`
	HasMore bool     `json:"hasMore,omitempty"`
	Cursor  string   `json:"cursor,omitempty"`
}

// SendMessage is the outbound chat or agent message.
type SendMessage struct {
	Content        string `json:"content"`
	TempID         string `json:"tempId,omitempty"`
	Target         string `json:"target,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	ExpectReply    bool   `json:"expectReply,omitempty"`
}

// MessageAck acknowledges an outbound message by its temporary id.
type MessageAck struct {
	TempID    string `json:"tempId"`
	MessageID string `json:"messageId,omitempty"`
}

// RawCommand is a fire-and-forget command executed by an agent.
type RawCommand struct {
	CommandID string `json:"commandId"`
	AgentName string `json:"agentName"`
	Command   string `json:"command"`
}

// RawCommandCancel cancels a pending raw command.
type RawCommandCancel struct {
	CommandID string `json:"commandId"`
}

// RawCommandResult carries the outcome of a raw command.
type RawCommandResult struct {
	CommandID string `json:"commandId"`
	AgentName string `json:"agentName,omitempty"`
	Output    string `json:"output,omitempty"`
	ExitCode  int    `json:"exitCode"`
	Error     string `json:"error,omitempty"`
}

// ThinkingStream is one streamed chunk of an agent's partial reply.
type ThinkingStream struct {
	ConversationID string `json:"conversationId"`
	Chunk          string `json:"chunk"`
}

// AgentReply is the final reply of an agent exchange.
type AgentReply struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// Conversation statuses reported by conversation_status_update.
const (
	StatusThinking  = "thinking"
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)

// ConversationStatusUpdate is a server-side status change of an exchange.
type ConversationStatusUpdate struct {
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
	Content        string `json:"content,omitempty"`
	Error          string `json:"error,omitempty"`
}

// LoadHistory requests older log lines or chat history.
type LoadHistory struct {
	Before string `json:"before,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ToggleFollow switches live log following on or off.
type ToggleFollow struct {
	Follow bool `json:"follow"`
}

// RawMessage is the data of a frame produced by the decode fallback.
type RawMessage struct {
	Message string `json:"message"`
}
