// Package queue defines the persisted task envelope and its typed payload variants.
package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Task types understood by the worker.
const (
	TypeLifecycleReconcile     = "agent_lifecycle_reconcile"
	TypeGovernanceNotification = "governance_notification"
	TypeLegacy                 = "legacy"
)

var (
	// ErrMalformedTask is returned when an envelope or payload cannot be decoded.
	ErrMalformedTask = errors.New("malformed task")

	// ErrRetryExhausted marks a task dropped because its attempts reached the retry cap.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrQueueTransient wraps backend failures (unreachable, timeout) on push or pop.
	ErrQueueTransient = errors.New("queue backend unavailable")
)

// Task is the envelope stored in the queue backend.
type Task struct {
	TaskType  string          `json:"task_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
}

// Encode serializes the envelope. Payload defaults to an empty object.
func (t Task) Encode() ([]byte, error) {
	if len(t.Payload) == 0 {
		t.Payload = json.RawMessage(`{}`)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.TaskType, err)
	}
	return data, nil
}

// WithAttempts returns a copy of t carrying the given attempt count.
func (t Task) WithAttempts(n int) Task {
	t.Attempts = n
	return t
}

// DecodeEnvelope parses raw queue bytes. A JSON object without a task_type
// key is a legacy payload: it decodes as TypeLegacy with the whole object as
// payload and attempts taken from the object when present.
func DecodeEnvelope(data []byte) (Task, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return Task{}, fmt.Errorf("%w: envelope is not a JSON object", ErrMalformedTask)
	}

	typeRaw, ok := raw["task_type"]
	if !ok {
		return decodeLegacy(data, raw)
	}

	var t Task
	if err := json.Unmarshal(typeRaw, &t.TaskType); err != nil || t.TaskType == "" {
		return Task{}, fmt.Errorf("%w: task_type must be a non-empty string", ErrMalformedTask)
	}

	payload, ok := raw["payload"]
	if !ok || isNull(payload) {
		payload = json.RawMessage(`{}`)
	}
	if !isObject(payload) {
		return Task{}, fmt.Errorf("%w: payload of %s is not an object", ErrMalformedTask, t.TaskType)
	}
	t.Payload = payload

	if ts, ok := raw["created_at"]; ok && !isNull(ts) {
		var s string
		if err := json.Unmarshal(ts, &s); err != nil {
			return Task{}, fmt.Errorf("%w: created_at is not a string", ErrMalformedTask)
		}
		created, err := parseTimestamp(s)
		if err != nil {
			return Task{}, fmt.Errorf("%w: created_at: %v", ErrMalformedTask, err)
		}
		t.CreatedAt = created
	}

	if a, ok := raw["attempts"]; ok && !isNull(a) {
		n, ok := intValue(a)
		if !ok {
			return Task{}, fmt.Errorf("%w: attempts is not an integer", ErrMalformedTask)
		}
		t.Attempts = n
	}

	return t, nil
}

func decodeLegacy(data []byte, raw map[string]json.RawMessage) (Task, error) {
	t := Task{
		TaskType: TypeLegacy,
		Payload:  append(json.RawMessage(nil), bytes.TrimSpace(data)...),
	}
	if a, ok := raw["attempts"]; ok {
		if n, ok := intValue(a); ok {
			t.Attempts = n
		}
	}
	for _, key := range []string{"created_at", "received_at"} {
		var s string
		if v, ok := raw[key]; ok && json.Unmarshal(v, &s) == nil {
			if ts, err := parseTimestamp(s); err == nil {
				t.CreatedAt = ts
				break
			}
		}
	}
	return t, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// intValue accepts JSON integers only; 3.0 and "3" are rejected.
func intValue(raw json.RawMessage) (int, bool) {
	s := string(bytes.TrimSpace(raw))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
