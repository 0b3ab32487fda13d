// Package server exposes the engine over HTTP: the four mutating
// requests, configuration CRUD, and the /events stream the presentation
// layer consumes.
package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/Thaura644/llm-conduit/internal/engine"
	"github.com/Thaura644/llm-conduit/internal/events"
	"github.com/Thaura644/llm-conduit/internal/knowledge"
	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/Thaura644/llm-conduit/internal/permission"
	"github.com/Thaura644/llm-conduit/internal/store"
)

const maxBodyBytes = 1 << 20

// KeyStore is the credential CRUD the key endpoints need; *store.Store
// satisfies it.
type KeyStore interface {
	SaveAPIKey(provider, key, baseURL string) error
	APIKeys() ([]store.APIKey, error)
}

// SettingsStore is the settings CRUD the settings endpoint needs;
// *store.Store satisfies it.
type SettingsStore interface {
	Setting(key string) (string, error)
	SetSetting(key, value string) error
}

// Handler carries the collaborators behind the HTTP surface.
type Handler struct {
	Engine    *engine.Engine
	Knowledge *knowledge.Base
	Keys      KeyStore
	Settings  SettingsStore
}

func (h *Handler) SubmitGoal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorPayload("method not allowed"))
		return
	}
	var req struct {
		Goal string `json:"goal"`
	}
	if err := decodeBody(r, &req); err != nil || req.Goal == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload("goal required"))
		return
	}

	runID, err := h.Engine.SubmitGoal(r.Context(), req.Goal)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runId": runID})
}

func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorPayload("method not allowed"))
		return
	}
	var req struct {
		Feedback string `json:"feedback"`
		RunID    string `json:"runId"`
	}
	if err := decodeBody(r, &req); err != nil || req.Feedback == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload("feedback required"))
		return
	}

	if err := h.Engine.SubmitFeedback(r.Context(), req.Feedback, req.RunID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) MakeDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorPayload("method not allowed"))
		return
	}
	var req struct {
		ProposalID string `json:"proposalId"`
		Decision   string `json:"decision"`
		Reason     string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil || req.ProposalID == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload("proposalId required"))
		return
	}
	decision := events.Decision(req.Decision)
	if decision != events.DecisionApproved && decision != events.DecisionRejected {
		writeJSON(w, http.StatusBadRequest, errorPayload("decision must be approved or rejected"))
		return
	}

	if err := h.Engine.MakeDecision(r.Context(), req.ProposalID, decision, req.Reason); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorPayload("method not allowed"))
		return
	}
	var req struct {
		Path        string `json:"path"`
		AccessLevel string `json:"access_level"`
		Status      string `json:"status"`
		Scope       string `json:"scope"`
	}
	if err := decodeBody(r, &req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload("path required"))
		return
	}
	status := store.PermissionStatus(req.Status)
	switch status {
	case store.StatusGranted, store.StatusDenied, store.StatusPending:
	default:
		writeJSON(w, http.StatusBadRequest, errorPayload("status must be GRANTED, DENIED, or PENDING"))
		return
	}
	scope := permission.Scope(req.Scope)
	if scope != permission.ScopeSession && scope != permission.ScopeAlways {
		scope = permission.ScopeSession
	}

	if err := h.Engine.Gate().Set(req.Path, req.AccessLevel, status, scope); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SettingsEndpoint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		value, err := h.Settings.Setting("auto_approve")
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"autoApprove": value == "true"})

	case http.MethodPost:
		var req struct {
			AutoApprove bool `json:"autoApprove"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorPayload("invalid json"))
			return
		}
		value := "false"
		if req.AutoApprove {
			value = "true"
		}
		if err := h.Settings.SetSetting("auto_approve", value); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorPayload("method not allowed"))
	}
}

func (h *Handler) Records(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		records, err := h.Knowledge.Records()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
			return
		}
		if records == nil {
			records = []store.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records})

	case http.MethodPost:
		var req struct {
			Category string `json:"category"`
			Content  string `json:"content"`
		}
		if err := decodeBody(r, &req); err != nil || req.Content == "" {
			writeJSON(w, http.StatusBadRequest, errorPayload("content required"))
			return
		}
		rec, err := h.Knowledge.AddRecord(req.Category, req.Content)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": rec})

	case http.MethodDelete:
		var req struct {
			ID string `json:"id"`
		}
		if err := decodeBody(r, &req); err != nil || req.ID == "" {
			writeJSON(w, http.StatusBadRequest, errorPayload("id required"))
			return
		}
		if err := h.Knowledge.DeleteRecord(req.ID); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorPayload("method not allowed"))
	}
}

// maskKey hides all but the tail of a stored credential.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func (h *Handler) KeysEndpoint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		keys, err := h.Keys.APIKeys()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
			return
		}
		out := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, map[string]any{
				"provider": k.Provider,
				"key":      maskKey(k.Key),
				"base_url": k.BaseURL,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": out})

	case http.MethodPost:
		var req struct {
			Provider string `json:"provider"`
			Key      string `json:"key"`
			BaseURL  string `json:"base_url"`
		}
		if err := decodeBody(r, &req); err != nil || req.Provider == "" || req.Key == "" {
			writeJSON(w, http.StatusBadRequest, errorPayload("provider and key required"))
			return
		}
		if err := h.Keys.SaveAPIKey(req.Provider, req.Key, req.BaseURL); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
			return
		}
		// New credentials may unlock roles that previously had none.
		if err := h.Engine.RefreshAgents(); err != nil {
			logging.ServerError("agent refresh after key change: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorPayload("method not allowed"))
	}
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, errorPayload("method not allowed"))
		return
	}
	var req struct {
		RunID string `json:"runId"`
	}
	if err := decodeBody(r, &req); err != nil || req.RunID == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload("runId required"))
		return
	}
	if err := h.Engine.DeleteRun(req.RunID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorPayload(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}
