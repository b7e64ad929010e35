package ndjson

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/iambrandonn/thence/internal/domain"
)

func TestEncoderDecoderEvent(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf)
	decoder := NewDecoder(&buf)

	ev := domain.Event{
		Seq:       1,
		RunID:     "run-1",
		Ts:        time.Now().UTC(),
		EventType: domain.TaskRegistered,
		TaskID:    "task-a",
		Payload:   map[string]any{"objective": "implement"},
	}

	if err := encoder.Encode(ev); err != nil {
		t.Fatalf("failed to encode event: %v", err)
	}

	var decoded domain.Event
	if err := decoder.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}

	if decoded.EventType != ev.EventType {
		t.Errorf("event type mismatch: got %s, want %s", decoded.EventType, ev.EventType)
	}
	if decoded.TaskID != ev.TaskID {
		t.Errorf("task id mismatch: got %s, want %s", decoded.TaskID, ev.TaskID)
	}
}

func TestEncoderSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf)

	ev := domain.Event{
		EventType: "test_event",
		Payload:   map[string]any{"data": strings.Repeat("x", MaxMessageSize)},
	}

	err := encoder.Encode(ev)
	if err == nil {
		t.Fatal("expected error for oversized message, got nil")
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Errorf("expected 'exceeds limit' error, got: %v", err)
	}
}

func TestDecoderSizeLimit(t *testing.T) {
	largeLine := strings.Repeat("x", MaxMessageSize+1000)
	input := strings.NewReader(largeLine + "\n")

	decoder := NewDecoder(input)
	var msg map[string]any
	if err := decoder.Decode(&msg); err == nil {
		t.Error("expected error for oversized line, got nil")
	}
}

func TestDecoderEmptyLines(t *testing.T) {
	input := strings.NewReader("\n\n{\"seq\":1,\"run_id\":\"r\",\"event_type\":\"task_registered\",\"task_id\":\"t\"}\n")

	decoder := NewDecoder(input)
	var ev domain.Event
	if err := decoder.Decode(&ev); err != nil {
		t.Fatalf("failed to decode after empty lines: %v", err)
	}
	if ev.TaskID != "t" {
		t.Errorf("got task_id %s, want t", ev.TaskID)
	}
}

func TestDecoderEOF(t *testing.T) {
	input := strings.NewReader("")
	decoder := NewDecoder(input)
	var msg map[string]any
	if err := decoder.Decode(&msg); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestMultipleMessages(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf)

	messages := []domain.Event{
		{Seq: 1, EventType: "event1", TaskID: "t"},
		{Seq: 2, EventType: "event2", TaskID: "t"},
		{Seq: 3, EventType: "event3", TaskID: "t"},
	}

	for _, msg := range messages {
		if err := encoder.Encode(msg); err != nil {
			t.Fatalf("failed to encode message: %v", err)
		}
	}

	decoder := NewDecoder(&buf)
	for i, expected := range messages {
		var decoded domain.Event
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("failed to decode message %d: %v", i, err)
		}
		if decoded.Seq != expected.Seq {
			t.Errorf("message %d: got seq %d, want %d", i, decoded.Seq, expected.Seq)
		}
	}

	var extra domain.Event
	if err := decoder.Decode(&extra); err != io.EOF {
		t.Errorf("expected EOF after all messages, got %v", err)
	}
}
