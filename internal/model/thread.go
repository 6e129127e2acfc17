// Package model defines the data structures shared across the sync engine.
package model

import (
	"time"
)

// Thread represents a conversation thread owned by a single user.
type Thread struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	Pinned         bool      `json:"pinned,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	ProjectID      string    `json:"project_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Project groups threads for organization. The engine treats it as an
// opaque entity; it participates only in change notification routing.
type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageSummary is a derived per-message short text used for secondary
// display. It is produced asynchronously after a message completes and is
// best-effort: the reconciliation engine does not depend on it.
type MessageSummary struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateThreadRequest is the request to create a new thread.
type CreateThreadRequest struct {
	Title     string   `json:"title"`
	ProjectID string   `json:"project_id,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// UpdateThreadRequest is the request to rename, pin, or retag a thread.
type UpdateThreadRequest struct {
	Title  *string  `json:"title,omitempty"`
	Pinned *bool    `json:"pinned,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// ListThreadsResponse is the response for listing threads.
type ListThreadsResponse struct {
	Threads []Thread `json:"threads"`
	Total   int      `json:"total"`
}
