package model

import (
	"encoding/json"
	"testing"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		descriptor string
		want       Action
	}{
		{"docs.messages.u1.t1.m1.create", ActionCreated},
		{"docs.messages.u1.t1.m1.created", ActionCreated},
		{"docs.threads.u1.t1.update", ActionUpdated},
		{"docs.threads.u1.t1.updated", ActionUpdated},
		{"docs.threads.u1.t1.write", ActionUpdated},
		{"docs.messages.u1.t1.m1.delete", ActionDeleted},
		{"docs.messages.u1.t1.m1.deleted", ActionDeleted},
		// Producers differ on separator and casing.
		{"messages/m1.CREATED", ActionCreated},
		{"DOCS.THREADS.U1.T1.WRITE", ActionUpdated},
		// Action must be the final token.
		{"docs.create.u1.t1.m1", ActionUnknown},
		{"docs.messages.u1.t1.m1.snapshot", ActionUnknown},
		{"docs.messages.u1.t1.m1", ActionUnknown},
		{"", ActionUnknown},
		{"create", ActionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.descriptor, func(t *testing.T) {
			if got := ParseAction(tt.descriptor); got != tt.want {
				t.Errorf("ParseAction(%q) = %s, want %s", tt.descriptor, got, tt.want)
			}
		})
	}
}

func TestPayloadOwner(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"present", `{"id":"m1","user_id":"u1","content":"hi"}`, "u1"},
		{"absent", `{"id":"m1"}`, ""},
		{"malformed", `{not json`, ""},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ChangeEnvelope{Payload: json.RawMessage(tt.payload)}
			if got := env.PayloadOwner(); got != tt.want {
				t.Errorf("PayloadOwner() = %q, want %q", got, tt.want)
			}
		})
	}
}
