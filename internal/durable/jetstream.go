package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/session-sync/internal/model"
	natsclient "github.com/capitalize-ai/session-sync/internal/nats"
	"github.com/capitalize-ai/session-sync/pkg/logger"
)

const (
	// StreamName is the name of the documents stream.
	StreamName = "DOCUMENTS"

	queryBatchSize = 100
)

// JetStreamStore persists documents in a NATS JetStream stream, one
// subject per document write. Query folds the stream into latest-per-id
// state; the change feed is a core NATS subscription on the same
// subjects, so remote sessions observe writes as push events.
type JetStreamStore struct {
	client *natsclient.Client
	logger *logger.Logger
}

// NewJetStreamStore creates a store backed by the given NATS client.
func NewJetStreamStore(client *natsclient.Client, log *logger.Logger) *JetStreamStore {
	return &JetStreamStore{client: client, logger: log}
}

// EnsureStream ensures the documents stream exists.
func (s *JetStreamStore) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Thread, message, summary and project documents",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

func (s *JetStreamStore) publish(ctx context.Context, subject string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if _, err := s.client.JetStream().Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish document: %w", err)
	}

	return nil
}

// CreateThread writes a new thread document.
func (s *JetStreamStore) CreateThread(ctx context.Context, thread *model.Thread) error {
	return s.publish(ctx, threadSubject(thread.UserID, thread.ID, actionCreate), thread)
}

// UpdateThread writes an updated thread document.
func (s *JetStreamStore) UpdateThread(ctx context.Context, thread *model.Thread) error {
	return s.publish(ctx, threadSubject(thread.UserID, thread.ID, actionUpdate), thread)
}

// DeleteThread writes a thread tombstone.
func (s *JetStreamStore) DeleteThread(ctx context.Context, userID, threadID string) error {
	tombstone := &model.Thread{ID: threadID, UserID: userID}
	return s.publish(ctx, threadSubject(userID, threadID, actionDelete), tombstone)
}

// CreateMessage writes a new message document.
func (s *JetStreamStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	return s.publish(ctx, messageSubject(msg.UserID, msg.ThreadID, msg.ID, actionCreate), msg)
}

// UpdateMessage writes an updated message document.
func (s *JetStreamStore) UpdateMessage(ctx context.Context, msg *model.Message) error {
	return s.publish(ctx, messageSubject(msg.UserID, msg.ThreadID, msg.ID, actionUpdate), msg)
}

// DeleteMessagesFrom tombstones every message at or after the given
// instant. Each tombstone surfaces on the change feed, so peer sessions
// prune the same range.
func (s *JetStreamStore) DeleteMessagesFrom(ctx context.Context, userID, threadID string, from time.Time) error {
	messages, err := s.QueryMessages(ctx, userID, threadID)
	if err != nil {
		return fmt.Errorf("failed to query messages for truncation: %w", err)
	}

	for _, msg := range messages {
		if msg.CreatedAt.Before(from) {
			continue
		}
		tombstone := &model.Message{
			ID:        msg.ID,
			ThreadID:  threadID,
			UserID:    userID,
			CreatedAt: msg.CreatedAt,
		}
		if err := s.publish(ctx, messageSubject(userID, threadID, msg.ID, actionDelete), tombstone); err != nil {
			return err
		}
	}

	return nil
}

// PutSummary writes a message summary document.
func (s *JetStreamStore) PutSummary(ctx context.Context, summary *model.MessageSummary) error {
	return s.publish(ctx, summarySubject(summary.UserID, summary.ThreadID, summary.MessageID, actionCreate), summary)
}

// QueryMessages loads the current messages of a thread by folding the
// document stream: latest write per id wins, tombstones remove.
func (s *JetStreamStore) QueryMessages(ctx context.Context, userID, threadID string) ([]model.Message, error) {
	byID := make(map[string]model.Message)

	err := s.fold(ctx, userThreadFilter(userID, threadID), func(subject string, data []byte) {
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
			return
		}
		if subjectAction(subject) == actionDelete {
			delete(byID, msg.ID)
			return
		}
		byID[msg.ID] = msg
	})
	if err != nil {
		return nil, err
	}

	messages := make([]model.Message, 0, len(byID))
	for _, msg := range byID {
		messages = append(messages, msg)
	}
	sortMessages(messages)

	return messages, nil
}

// QueryThreads loads the current threads of a user.
func (s *JetStreamStore) QueryThreads(ctx context.Context, userID string) ([]model.Thread, error) {
	byID := make(map[string]model.Thread)

	err := s.fold(ctx, userThreadsFilter(userID), func(subject string, data []byte) {
		var thread model.Thread
		if err := json.Unmarshal(data, &thread); err != nil || thread.ID == "" {
			return
		}
		if subjectAction(subject) == actionDelete {
			delete(byID, thread.ID)
			return
		}
		byID[thread.ID] = thread
	})
	if err != nil {
		return nil, err
	}

	threads := make([]model.Thread, 0, len(byID))
	for _, thread := range byID {
		threads = append(threads, thread)
	}

	return threads, nil
}

// fold replays every document under the filter subject through fn.
func (s *JetStreamStore) fold(ctx context.Context, filter string, fn func(subject string, data []byte)) error {
	js := s.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: filter,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	for {
		batch, err := consumer.Fetch(queryBatchSize, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return fmt.Errorf("failed to fetch documents: %w", err)
		}

		count := 0
		for msg := range batch.Messages() {
			fn(msg.Subject(), msg.Data())
			count++
		}
		if batch.Error() != nil && batch.Error() != context.DeadlineExceeded {
			return fmt.Errorf("batch error: %w", batch.Error())
		}
		if count < queryBatchSize {
			return nil
		}
	}
}

// Subscribe opens the push channel for one collection. Delivery is a core
// NATS subscription with no ordering guarantee relative to local writes.
func (s *JetStreamStore) Subscribe(kind model.EntityKind, fn func(model.ChangeEnvelope)) (func(), error) {
	sub, err := s.client.Conn().Subscribe(CollectionFilter(kind), func(m *nats.Msg) {
		fn(model.ChangeEnvelope{Descriptor: m.Subject, Payload: m.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", kind, err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe", zap.String("kind", string(kind)), zap.Error(err))
		}
	}, nil
}

func subjectAction(subject string) string {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 {
		return ""
	}
	return subject[idx+1:]
}

func sortMessages(messages []model.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}
