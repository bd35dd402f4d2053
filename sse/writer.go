// Package sse writes Server-Sent Events frames.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Writer sends Server-Sent Events to an http.ResponseWriter. It is safe for
// concurrent use; frames are never interleaved.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the event-stream headers and commits a 200. It returns nil
// if the ResponseWriter cannot flush.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // nginx
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}
}

// Data writes an unnamed frame. Clients read the JSON "type" field to tell
// frames apart.
func (s *Writer) Data(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	return s.write(fmt.Sprintf("data: %s\n\n", payload))
}

// Event writes a named frame.
func (s *Writer) Event(name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	return s.write(fmt.Sprintf("event: %s\ndata: %s\n\n", name, payload))
}

// Comment writes a comment line, used as a keep-alive.
func (s *Writer) Comment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *Writer) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
