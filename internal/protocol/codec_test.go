package protocol

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
		checkFn func(t *testing.T, m *Message)
	}{
		{
			name: "system init carries model",
			line: `{"type":"system","subtype":"init","model":"claude-sonnet-4","session_id":"s1","tools":["Bash"]}`,
			checkFn: func(t *testing.T, m *Message) {
				if m.Type != TypeSystem || m.Subtype != "init" || m.Model != "claude-sonnet-4" {
					t.Errorf("unexpected init message: %#v", m)
				}
			},
		},
		{
			name: "assistant message with text and tool use",
			line: `{"type":"assistant","message":{"model":"claude-opus","content":[{"type":"text","text":"Hello"},{"type":"tool_use","id":"t1"},{"type":"text","text":"World"}]}}`,
			checkFn: func(t *testing.T, m *Message) {
				if got := m.Message.Text(); got != "Hello\nWorld" {
					t.Errorf("Text() = %q", got)
				}
				if m.Message.Model != "claude-opus" {
					t.Errorf("model = %q", m.Message.Model)
				}
			},
		},
		{
			name: "stream event delta",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}}`,
			checkFn: func(t *testing.T, m *Message) {
				if got := m.Event.DeltaText(); got != "Hel" {
					t.Errorf("DeltaText() = %q", got)
				}
			},
		},
		{
			name: "text block start",
			line: `{"type":"stream_event","event":{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}}`,
			checkFn: func(t *testing.T, m *Message) {
				if !m.Event.StartsTextBlock() {
					t.Error("expected text block start")
				}
				if m.Event.DeltaText() != "" {
					t.Error("block start carries no delta")
				}
			},
		},
		{
			name: "input json delta is not text",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}}`,
			checkFn: func(t *testing.T, m *Message) {
				if got := m.Event.DeltaText(); got != "" {
					t.Errorf("DeltaText() = %q, want empty", got)
				}
			},
		},
		{
			name: "result",
			line: `  {"type":"result","subtype":"success","is_error":false,"result":"done","duration_ms":12}  `,
			checkFn: func(t *testing.T, m *Message) {
				if m.Type != TypeResult || m.Result != "done" || m.IsError {
					t.Errorf("unexpected result: %#v", m)
				}
			},
		},
		{name: "blank line", line: "   ", wantErr: true},
		{name: "plain text banner", line: "Warning: something", wantErr: true},
		{name: "truncated json", line: `{"type":"assistant","message":`, wantErr: true},
		{name: "missing type", line: `{"result":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := DecodeLine([]byte(tt.line))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeLine() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrNotMessage) {
					t.Errorf("expected ErrNotMessage mark, got %v", err)
				}
				return
			}
			if tt.checkFn != nil {
				tt.checkFn(t, m)
			}
		})
	}
}

func TestEncodeDecodeLine(t *testing.T) {
	b, err := Encode(&Message{Type: TypeResult, Result: "ok"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasSuffix(string(b), "\n") || strings.Count(string(b), "\n") != 1 {
		t.Fatalf("expected exactly one trailing newline, got %q", b)
	}
	m, err := DecodeLine(b)
	if err != nil {
		t.Fatalf("DecodeLine: %v", err)
	}
	if m.Result != "ok" {
		t.Errorf("Result = %q", m.Result)
	}

	if _, err := Encode(&Message{}); err == nil {
		t.Error("expected error for message without type")
	}
}

func TestNilHelpers(t *testing.T) {
	var am *AssistantMessage
	if am.Text() != "" {
		t.Error("nil AssistantMessage should have empty text")
	}
	var ev *StreamEvent
	if ev.DeltaText() != "" {
		t.Error("nil StreamEvent should have empty delta")
	}
	if ev.StartsTextBlock() {
		t.Error("nil StreamEvent does not start a block")
	}
}
