package http

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
)

// streamWriter serializes events onto one response as newline-delimited
// JSON. The mutex interleaves turn events with heartbeats; every frame is
// flushed so the caller sees it immediately.
type streamWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	flusher, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: flusher}
}

// Emit writes one event frame. Write errors are logged and swallowed; the
// turn keeps running so persistence still happens even if the caller went
// away.
func (s *streamWriter) Emit(ev domain.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("ERROR: failed to encode stream event: %v", err)
		return
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		log.Printf("WARN: stream write failed: %v", err)
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// startHeartbeat emits heartbeat frames on the given interval until the
// returned stop function is called.
func (s *streamWriter) startHeartbeat(interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Emit(domain.EventHeartbeat())
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
