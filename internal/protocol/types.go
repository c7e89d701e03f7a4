package protocol

import "strings"

// Message types emitted by the assistant CLI in stream-json mode, one JSON
// object per stdout line.
const (
	TypeSystem      = "system"
	TypeAssistant   = "assistant"
	TypeUser        = "user"
	TypeStreamEvent = "stream_event"
	TypeResult      = "result"
)

// Message is the envelope of a single stream-json line. Only the fields the
// executor consumes are decoded; everything else is ignored.
type Message struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// system/init
	Model     string `json:"model,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// assistant
	Message *AssistantMessage `json:"message,omitempty"`

	// stream_event (partial messages)
	Event *StreamEvent `json:"event,omitempty"`

	// result
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

type AssistantMessage struct {
	Model   string         `json:"model,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is one block of an assistant message. Tool-use blocks carry
// no text and are skipped by Text.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Stream event types that delimit streamed output.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
)

type StreamEvent struct {
	Type         string        `json:"type"`
	Delta        *StreamDelta  `json:"delta,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
}

type StreamDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text joins the text blocks of an assistant message.
func (m *AssistantMessage) Text() string {
	if m == nil {
		return ""
	}
	var parts []string
	for _, b := range m.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// DeltaText returns the text of a content_block_delta event, or "".
func (e *StreamEvent) DeltaText() string {
	if e == nil || e.Type != EventContentBlockDelta || e.Delta == nil {
		return ""
	}
	if e.Delta.Type != "" && e.Delta.Type != "text_delta" {
		return ""
	}
	return e.Delta.Text
}

// StartsTextBlock reports whether e opens a text content block.
func (e *StreamEvent) StartsTextBlock() bool {
	return e != nil && e.Type == EventContentBlockStart &&
		e.ContentBlock != nil && e.ContentBlock.Type == "text"
}
