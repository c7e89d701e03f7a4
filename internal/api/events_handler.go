package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/promptq/internal/events"
)

// sseRetry is the reconnect delay suggested to EventSource clients.
const sseRetry = 3 * time.Second

type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	types   []string
	lastID  int64
	buf     bytes.Buffer
}

// send writes ev as one SSE frame. Events at or before lastID and events
// outside the requested types are skipped.
func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	s.lastID = ev.ID
	if !matchesTypes(ev.Type, s.types) {
		return nil
	}

	s.buf.Reset()
	fmt.Fprintf(&s.buf, "id: %d\n", ev.ID)
	if ev.Type != "" {
		fmt.Fprintf(&s.buf, "event: %s\n", ev.Type)
	}
	// Payloads are marshalled JSON, so always a single line.
	fmt.Fprintf(&s.buf, "data: %s\n\n", ev.Data)
	_, err := s.w.Write(s.buf.Bytes())
	return err
}

func (s *sseStream) comment(text string) error {
	_, err := fmt.Fprintf(s.w, ": %s\n\n", text)
	return err
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{
		w:       w,
		flusher: flusher,
		types:   parseTypes(r.URL.Query().Get("type")),
		lastID:  parseLastEventID(r.Header.Get("Last-Event-ID")),
	}
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetry.Milliseconds()); err != nil {
		return
	}
	for _, ev := range s.events.SnapshotSince(stream.lastID) {
		if err := stream.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			err = stream.send(ev)
		case <-keepAlive.C:
			err = stream.comment("keep-alive")
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseTypes splits a comma-separated type filter. Entries ending in "."
// match every type with that prefix ("job." covers all job events).
func parseTypes(v string) []string {
	var out []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func matchesTypes(typ string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == typ || (strings.HasSuffix(f, ".") && strings.HasPrefix(typ, f)) {
			return true
		}
	}
	return false
}
