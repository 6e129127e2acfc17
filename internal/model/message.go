package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartTypeText  PartType = "text"
	PartTypeTool  PartType = "tool"
	PartTypeImage PartType = "image"
)

// ContentPart is one ordered segment of a message's content.
type ContentPart struct {
	Type PartType       `json:"type"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Attachment records a file attached to a message. Storage of the bytes
// themselves is external; the engine only carries the reference.
type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Message represents one conversation message. The ID is assigned at
// creation and never reassigned; within a thread messages are totally
// ordered by CreatedAt.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`

	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts,omitempty"`

	// Content is the plain text denormalized from Parts. Merge decisions
	// compare its length, so it must always reflect the full text so far.
	Content string `json:"content"`

	Model       *string      `json:"model,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Citations   []string     `json:"citations,omitempty"`
	ImageRef    *string      `json:"image_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TextMessage builds a single-part text message.
func TextMessage(id, threadID, userID string, role Role, content string, createdAt time.Time) Message {
	return Message{
		ID:       id,
		ThreadID: threadID,
		UserID:   userID,
		Role:     role,
		Parts: []ContentPart{
			{Type: PartTypeText, Text: content},
		},
		Content:   content,
		CreatedAt: createdAt,
	}
}

// SetContent replaces the plain text content and its backing text part.
func (m *Message) SetContent(content string) {
	m.Content = content
	for i := range m.Parts {
		if m.Parts[i].Type == PartTypeText {
			m.Parts[i].Text = content
			return
		}
	}
	m.Parts = append(m.Parts, ContentPart{Type: PartTypeText, Text: content})
}

// SendMessageRequest is the request to send a new user message.
type SendMessageRequest struct {
	Content     string       `json:"content"`
	Model       string       `json:"model,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ListMessagesResponse is the response for listing a thread's messages.
type ListMessagesResponse struct {
	Messages     []Message `json:"messages"`
	StreamActive bool      `json:"stream_active"`
}

// RetryRequest asks for regeneration from a point in the thread. Every
// message at or after From is removed before the retried exchange runs.
type RetryRequest struct {
	From    time.Time `json:"from"`
	Content string    `json:"content"`
	Model   string    `json:"model,omitempty"`
}
