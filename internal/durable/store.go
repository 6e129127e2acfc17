// Package durable provides the client for the durable document store of
// record. Writes here are the single source of truth; every write also
// surfaces on a per-collection push channel that the notification
// subscriber normalizes.
package durable

import (
	"context"
	"fmt"
	"time"

	"github.com/capitalize-ai/session-sync/internal/model"
)

// Store is the engine's view of the durable document store.
type Store interface {
	QueryThreads(ctx context.Context, userID string) ([]model.Thread, error)
	QueryMessages(ctx context.Context, userID, threadID string) ([]model.Message, error)

	CreateThread(ctx context.Context, thread *model.Thread) error
	UpdateThread(ctx context.Context, thread *model.Thread) error
	DeleteThread(ctx context.Context, userID, threadID string) error

	CreateMessage(ctx context.Context, msg *model.Message) error
	UpdateMessage(ctx context.Context, msg *model.Message) error

	// DeleteMessagesFrom removes every message in the thread whose
	// creation timestamp is at or after the given instant. Used by
	// retry/regeneration.
	DeleteMessagesFrom(ctx context.Context, userID, threadID string, from time.Time) error

	PutSummary(ctx context.Context, summary *model.MessageSummary) error
}

// ChangeFeed delivers raw change envelopes for one collection. The feed
// gives no ordering guarantee relative to local writes, may duplicate, and
// may drop events across reconnects; consumers must tolerate all three.
type ChangeFeed interface {
	Subscribe(kind model.EntityKind, fn func(model.ChangeEnvelope)) (func(), error)
}

const (
	actionCreate = "create"
	actionUpdate = "update"
	actionDelete = "delete"

	// SubjectPrefix is the prefix for all document subjects.
	SubjectPrefix = "docs"
)

// threadSubject addresses one thread document.
func threadSubject(userID, threadID, action string) string {
	return fmt.Sprintf("%s.%s.%s.%s.%s", SubjectPrefix, model.KindThread, userID, threadID, action)
}

// messageSubject addresses one message document within a thread.
func messageSubject(userID, threadID, messageID, action string) string {
	return fmt.Sprintf("%s.%s.%s.%s.%s.%s", SubjectPrefix, model.KindMessage, userID, threadID, messageID, action)
}

// summarySubject addresses one message summary.
func summarySubject(userID, threadID, messageID, action string) string {
	return fmt.Sprintf("%s.%s.%s.%s.%s.%s", SubjectPrefix, model.KindMessageSummary, userID, threadID, messageID, action)
}

// CollectionFilter returns the wildcard subject covering one collection.
func CollectionFilter(kind model.EntityKind) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, kind)
}

// userThreadFilter covers every message document of one thread.
func userThreadFilter(userID, threadID string) string {
	return fmt.Sprintf("%s.%s.%s.%s.>", SubjectPrefix, model.KindMessage, userID, threadID)
}

// userThreadsFilter covers every thread document of one user.
func userThreadsFilter(userID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, model.KindThread, userID)
}
