package model

import (
	"encoding/json"
	"strings"
)

// EntityKind identifies a durable collection the engine watches.
type EntityKind string

const (
	KindThread         EntityKind = "threads"
	KindMessage        EntityKind = "messages"
	KindMessageSummary EntityKind = "message_summaries"
	KindProject        EntityKind = "projects"
)

// EntityKinds lists every collection the subscriber opens a channel for.
var EntityKinds = []EntityKind{KindThread, KindMessage, KindMessageSummary, KindProject}

// Action is the closed set of change actions extracted from an event
// envelope's descriptor string.
type Action int

const (
	ActionUnknown Action = iota
	ActionCreated
	ActionUpdated
	ActionDeleted
)

func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionUpdated:
		return "updated"
	case ActionDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ParseAction extracts the change action from an envelope descriptor such
// as "docs.messages.u1.m1.create". Descriptors vary across producers, so
// matching is by suffix against a small fixed vocabulary rather than by
// strict schema. Unrecognized descriptors yield ActionUnknown.
func ParseAction(descriptor string) Action {
	d := strings.ToLower(descriptor)
	switch {
	case strings.HasSuffix(d, ".create"), strings.HasSuffix(d, ".created"):
		return ActionCreated
	case strings.HasSuffix(d, ".update"), strings.HasSuffix(d, ".updated"),
		strings.HasSuffix(d, ".write"):
		return ActionUpdated
	case strings.HasSuffix(d, ".delete"), strings.HasSuffix(d, ".deleted"):
		return ActionDeleted
	default:
		return ActionUnknown
	}
}

// ChangeEnvelope is the raw event delivered on a collection's push
// channel before normalization.
type ChangeEnvelope struct {
	Descriptor string          `json:"descriptor"`
	Payload    json.RawMessage `json:"payload"`
}

// ownerProbe extracts only the owning-user field from a payload, for the
// cross-user filter.
type ownerProbe struct {
	UserID string `json:"user_id"`
}

// PayloadOwner returns the owning-user id embedded in an envelope payload,
// or "" if the payload has none.
func (e ChangeEnvelope) PayloadOwner() string {
	var p ownerProbe
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ""
	}
	return p.UserID
}
