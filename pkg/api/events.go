package api

import (
	"fmt"
	"net/http"

	"github.com/manthysbr/censord/internal/core/services"
)

// handleResultsSSE streams every new result as it is appended.
// GET /v1/results/stream
func (s *Server) handleResultsSSE(w http.ResponseWriter, r *http.Request) {
	if s.eventBus == nil {
		http.Error(w, "event stream disabled", http.StatusNotImplemented)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the headers go out so no result is missed after "connected".
	ch, unsub := s.eventBus.Subscribe(services.TopicResults)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
