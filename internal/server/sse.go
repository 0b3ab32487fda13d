package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Thaura644/llm-conduit/internal/events"
	"github.com/Thaura644/llm-conduit/internal/logging"
)

// StreamEvents serves the /events feed: full history replayed first,
// then live appends, one JSON object per SSE message. Subscribing
// before the replay and de-duplicating by event id closes the gap
// between the two phases.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorPayload("method not allowed"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorPayload("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	live, cancel := h.Engine.Log().Subscribe()
	defer cancel()

	history, err := h.Engine.Log().Query("")
	if err != nil {
		logging.ServerError("event replay: %v", err)
		fmt.Fprintf(w, "data: {\"type\":\"stream.error\",\"error\":%q}\n\n", err.Error())
		flusher.Flush()
		return
	}

	seen := make(map[string]struct{}, len(history))
	for _, ev := range history {
		seen[ev.ID] = struct{}{}
		if !writeSSE(w, ev) {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if _, dup := seen[ev.ID]; dup {
				delete(seen, ev.ID)
				continue
			}
			if !writeSSE(w, ev) {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev events.Event) bool {
	body, err := json.Marshal(ev)
	if err != nil {
		logging.ServerError("marshal stream event: %v", err)
		return true
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return false
	}
	return true
}
