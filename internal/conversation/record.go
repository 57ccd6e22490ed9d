package conversation

import (
	"errors"
	"fmt"
	"time"
)

// Status of a conversation.
type Status string

const (
	StatusThinking  Status = "thinking"
	StatusCompleted Status = "completed"
	StatusTimeout   Status = "timeout"
	StatusError     Status = "error"
)

// Terminal reports whether no further transition may happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusTimeout || s == StatusError
}

var (
	ErrNotFound = errors.New("conversation not found")
	// ErrEnded is returned for transitions on a record that is no longer thinking.
	ErrEnded               = errors.New("conversation already ended")
	ErrConversationTimeout = errors.New("conversation timed out")
	ErrConversationError   = errors.New("conversation failed")
)

// Record is one agent exchange.
type Record struct {
	ID                 string    `json:"conversationId"`
	Target             string    `json:"targetName"`
	Namespace          string    `json:"namespace"`
	Prompt             string    `json:"prompt,omitempty"`
	Status             Status    `json:"status"`
	CreatedAt          time.Time `json:"createdAt"`
	TimeoutAt          time.Time `json:"timeoutAt"`
	EndedAt            time.Time `json:"endedAt"`
	AccumulatedContent string    `json:"accumulatedContent"`
	FinalContent       string    `json:"finalContent,omitempty"`
	DurationMs         int64     `json:"durationMs,omitempty"`
	Error              string    `json:"error,omitempty"`
}

// Duration is the time from creation to the terminal transition.
func (r Record) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// Err returns ErrConversationTimeout or ErrConversationError for failed
// records and nil otherwise.
func (r Record) Err() error {
	switch r.Status {
	case StatusTimeout:
		return fmt.Errorf("%w: %s", ErrConversationTimeout, r.Error)
	case StatusError:
		return fmt.Errorf("%w: %s", ErrConversationError, r.Error)
	}
	return nil
}

// lastActivity is the reference point for retention.
func (r Record) lastActivity() time.Time {
	if r.Status.Terminal() && !r.EndedAt.IsZero() {
		return r.EndedAt
	}
	return r.CreatedAt
}
