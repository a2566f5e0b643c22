package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Task{
		TaskType:  TypeGovernanceNotification,
		Payload:   json.RawMessage(`{"event_type":"proposal_resolved","organization_id":"org-1"}`),
		CreatedAt: created,
		Attempts:  2,
	}

	data, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if out.TaskType != in.TaskType {
		t.Errorf("task_type: got %q, want %q", out.TaskType, in.TaskType)
	}
	if string(out.Payload) != string(in.Payload) {
		t.Errorf("payload: got %s, want %s", out.Payload, in.Payload)
	}
	if out.Attempts != 2 {
		t.Errorf("attempts: got %d, want 2", out.Attempts)
	}
	if !out.CreatedAt.Equal(created) {
		t.Errorf("created_at: got %v, want %v", out.CreatedAt, created)
	}
}

func TestDecodeEnvelope_Legacy(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantAttempts int
	}{
		{name: "with attempts", raw: `{"board_id":"b1","attempts":4}`, wantAttempts: 4},
		{name: "without attempts", raw: `{"board_id":"b1"}`, wantAttempts: 0},
		{name: "non-integer attempts", raw: `{"board_id":"b1","attempts":"x"}`, wantAttempts: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := DecodeEnvelope([]byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if task.TaskType != TypeLegacy {
				t.Errorf("task_type: got %q, want legacy", task.TaskType)
			}
			if task.Attempts != tt.wantAttempts {
				t.Errorf("attempts: got %d, want %d", task.Attempts, tt.wantAttempts)
			}

			p, err := Decode(task)
			if err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			legacy, ok := p.(Legacy)
			if !ok {
				t.Fatalf("expected Legacy payload, got %T", p)
			}
			if legacy.Raw["board_id"] != "b1" {
				t.Errorf("raw payload not passed through: %v", legacy.Raw)
			}
		})
	}
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `not-json`},
		{name: "array", raw: `[1,2]`},
		{name: "empty task type", raw: `{"task_type":"","payload":{}}`},
		{name: "numeric task type", raw: `{"task_type":7,"payload":{}}`},
		{name: "payload not object", raw: `{"task_type":"x","payload":[1]}`},
		{name: "bad created_at", raw: `{"task_type":"x","payload":{},"created_at":"yesterday"}`},
		{name: "float attempts", raw: `{"task_type":"x","payload":{},"attempts":1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.raw))
			if !errors.Is(err, ErrMalformedTask) {
				t.Fatalf("expected ErrMalformedTask, got %v", err)
			}
		})
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(Task{TaskType: "webhook_delivery", Payload: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrMalformedTask) {
		t.Fatalf("expected ErrMalformedTask, got %v", err)
	}
}

func TestLifecycleReconcile_RoundTrip(t *testing.T) {
	deadline := time.Date(2025, 3, 1, 12, 0, 30, 0, time.UTC)
	in := LifecycleReconcile{
		AgentID:           "agent-1",
		GatewayID:         "gw-1",
		Generation:        7,
		CheckinDeadlineAt: deadline,
	}

	task, err := NewTask(in, deadline.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.TaskType != TypeLifecycleReconcile {
		t.Fatalf("task_type: got %q", task.TaskType)
	}

	p, err := Decode(task)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := AsLifecycleReconcile(p)
	if err != nil {
		t.Fatalf("as lifecycle: %v", err)
	}
	if got.Generation != 7 || got.AgentID != "agent-1" || !got.CheckinDeadlineAt.Equal(deadline) {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestLifecycleReconcile_MissingGeneration(t *testing.T) {
	task := Task{
		TaskType: TypeLifecycleReconcile,
		Payload:  json.RawMessage(`{"agent_id":"a","gateway_id":"g","checkin_deadline_at":"2025-03-01T12:00:00Z"}`),
	}
	if _, err := Decode(task); !errors.Is(err, ErrMalformedTask) {
		t.Fatalf("expected ErrMalformedTask, got %v", err)
	}
}

func TestAsLifecycleReconcile_FromLegacy(t *testing.T) {
	task, err := DecodeEnvelope([]byte(`{"agent_id":"a","gateway_id":"g","generation":3,"checkin_deadline_at":"2025-03-01T12:00:00+00:00"}`))
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	p, err := Decode(task)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := AsLifecycleReconcile(p)
	if err != nil {
		t.Fatalf("as lifecycle: %v", err)
	}
	if got.Generation != 3 {
		t.Errorf("generation: got %d, want 3", got.Generation)
	}
}

func TestAsLifecycleReconcile_WrongVariant(t *testing.T) {
	_, err := AsLifecycleReconcile(GovernanceNotification{EventType: "x", OrganizationID: "o"})
	if !errors.Is(err, ErrMalformedTask) {
		t.Fatalf("expected ErrMalformedTask, got %v", err)
	}
}
