package server

import (
	"net/http"

	"github.com/Thaura644/llm-conduit/internal/logging"
)

// New builds the HTTP surface over a handler.
func New(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/goal", h.SubmitGoal)
	mux.HandleFunc("/feedback", h.SubmitFeedback)
	mux.HandleFunc("/decision", h.MakeDecision)
	mux.HandleFunc("/permissions", h.Permissions)
	mux.HandleFunc("/settings", h.SettingsEndpoint)
	mux.HandleFunc("/records", h.Records)
	mux.HandleFunc("/keys", h.KeysEndpoint)
	mux.HandleFunc("/sessions", h.DeleteSession)
	mux.HandleFunc("/events", h.StreamEvents)

	return requestLog(mux)
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.ServerDebug("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
