package model

import (
	"time"
)

// StreamingState is the ephemeral "content so far" of a message that is
// mid-generation in some session. It is never persisted; each update
// carries the full accumulated content, so a lost update is superseded by
// the next one.
type StreamingState struct {
	ThreadID    string    `json:"thread_id"`
	MessageID   string    `json:"message_id"`
	SessionID   string    `json:"session_id"`
	Content     string    `json:"content"`
	IsStreaming bool      `json:"is_streaming"`
	UpdatedAt   time.Time `json:"updated_at"`
}
