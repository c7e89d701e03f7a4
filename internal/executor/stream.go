package executor

import (
	"bytes"
	"strings"
	"sync"

	"github.com/mattjoyce/promptq/internal/provider"
)

// lineWriter splits a byte stream into lines, holding a trailing partial
// line until the next write or Flush.
type lineWriter struct {
	mu     sync.Mutex
	buf    []byte
	onLine func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(w.buf[:i], []byte("\r"))
		w.onLine(string(line))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.onLine(string(w.buf))
		w.buf = nil
	}
}

// accumulator merges delta and full-message events into one result text.
// Each assistant message occupies its own segment of text, separated from
// the previous one by a newline. A full message only replaces the deltas of
// the message it completes.
type accumulator struct {
	mu    sync.Mutex
	text  string
	model string
	// errText is the provider's own error report, if it sent one.
	errText string

	msgStart int  // offset of the current message in text
	open     bool // current message is still receiving deltas
	msgSep   bool // a newline is owed before the current message's first text
	blockSep bool // a newline is owed before the next text block
}

func (a *accumulator) Add(ev provider.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.model == "" && ev.Model != "" {
		a.model = ev.Model
	}
	if a.errText == "" && ev.Error != "" {
		a.errText = ev.Error
	}
	if ev.NewMessage {
		a.startMessage()
		a.open = true
	}
	if ev.NewBlock && a.current() != "" {
		a.blockSep = true
	}
	if ev.Delta != "" {
		if !a.open {
			a.startMessage()
			a.open = true
		}
		a.write(ev.Delta)
	}
	if ev.Text == "" {
		return
	}
	if ev.Final {
		a.settle(ev.Text)
	} else {
		a.message(ev.Text)
	}
	a.open = false
}

func (a *accumulator) startMessage() {
	a.msgStart = len(a.text)
	a.msgSep = a.text != ""
	a.blockSep = false
}

func (a *accumulator) write(s string) {
	if a.msgSep {
		a.text += "\n"
		a.msgStart = len(a.text)
		a.msgSep = false
	}
	if a.blockSep {
		a.text += "\n"
		a.blockSep = false
	}
	a.text += s
}

// current is the text of the message being built, "" if it has none yet.
func (a *accumulator) current() string {
	if a.msgSep {
		return ""
	}
	return a.text[a.msgStart:]
}

// message handles a complete assistant message.
func (a *accumulator) message(full string) {
	cur := a.current()
	switch {
	case a.open && cur != "" && strings.HasPrefix(full, cur):
		a.text = a.text[:a.msgStart] + full
	case a.open && cur != "" && strings.HasPrefix(cur, full):
		// The deltas already hold at least this much.
	case !a.open && cur == full:
		// Repeated delivery of the message just recorded.
	default:
		a.startMessage()
		a.write(full)
	}
}

// settle handles the terminal result, which restates the last message. It
// is used only when nothing else was captured or when it completes the last
// message; otherwise the messages already recorded stand.
func (a *accumulator) settle(result string) {
	cur := a.current()
	switch {
	case strings.TrimSpace(a.text) == "":
		a.text = ""
		a.startMessage()
		a.write(result)
	case cur == "" || strings.TrimSpace(cur) == strings.TrimSpace(result):
		// Already recorded.
	case strings.HasPrefix(result, cur):
		a.text = a.text[:a.msgStart] + result
	}
}

func (a *accumulator) Result() (text, model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(a.text), a.model
}

// ErrorText returns the error the provider reported on stdout, if any.
func (a *accumulator) ErrorText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(a.errText)
}

// cappedBuffer keeps the first max bytes written to it and discards the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = len(p) > 0 || c.truncated
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
