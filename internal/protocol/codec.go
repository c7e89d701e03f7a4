package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ErrNotMessage marks lines that are not stream-json envelopes (banners,
// warnings, blank lines). Callers skip them.
var ErrNotMessage = errors.New("not a stream-json message")

// DecodeLine decodes one stdout line. Unknown fields are tolerated because
// the CLI adds fields between releases.
func DecodeLine(line []byte) (*Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, ErrNotMessage
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode stream-json line"), ErrNotMessage)
	}
	if msg.Type == "" {
		return nil, errors.Mark(errors.New("stream-json line missing type"), ErrNotMessage)
	}
	return &msg, nil
}

// Encode renders msg as a single newline-terminated line.
func Encode(msg *Message) ([]byte, error) {
	if msg == nil || msg.Type == "" {
		return nil, errors.New("message type is required")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "encode stream-json message")
	}
	return append(b, '\n'), nil
}
