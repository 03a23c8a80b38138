// Package server exposes the HTTP API handlers.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AliJawad91/falavox-server/orchestrator"
	"github.com/AliJawad91/falavox-server/rtctoken"
	"github.com/AliJawad91/falavox-server/telemetry"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	orch  *orchestrator.Orchestrator
	ready func() error
}

// NewHandlers creates a new Handlers instance. ready reports whether the
// service has the configuration it needs to serve start requests.
func NewHandlers(o *orchestrator.Orchestrator, ready func() error) *Handlers {
	if ready == nil {
		ready = func() error { return nil }
	}
	return &Handlers{orch: o, ready: ready}
}

// startBody is the start request wire format.
type startBody struct {
	Channel        string         `json:"channel"`
	SourceLanguage string         `json:"source_language"`
	TargetLanguage string         `json:"target_language"`
	Options        map[string]any `json:"options,omitempty"`
	Credential     *struct {
		Token string `json:"token"`
		UID   uint32 `json:"uid"`
	} `json:"credential,omitempty"`
}

// HandleSessionStart starts (or idempotently returns) a translation session.
func (h *Handlers) HandleSessionStart(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, string(orchestrator.KindValidation), "invalid JSON body: "+err.Error())
		return
	}

	req := orchestrator.StartRequest{
		Channel:        body.Channel,
		SourceLanguage: body.SourceLanguage,
		TargetLanguage: body.TargetLanguage,
		Options:        body.Options,
	}
	if body.Credential != nil {
		req.SourceCredential = &rtctoken.Credential{
			Token:   body.Credential.Token,
			Channel: body.Channel,
			UID:     body.Credential.UID,
		}
	}

	res, err := h.orch.Start(r.Context(), req)
	if err != nil {
		writeOrchestratorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSessionStop stops the channel's session. Absence is a 404 with a
// regular body, not a failure.
func (h *Handlers) HandleSessionStop(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	res, err := h.orch.Stop(r.Context(), channel)
	if err != nil {
		writeOrchestratorError(w, r, err)
		return
	}
	if !res.Found {
		writeJSON(w, http.StatusNotFound, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSessionStatus reports one channel's session state.
func (h *Handlers) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	res, err := h.orch.Status(channel)
	if err != nil {
		writeOrchestratorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSessionList lists live sessions with aggregate stats.
func (h *Handlers) HandleSessionList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.List())
}

// HandleOAuthStatus reports the provider token cache state.
func (h *Handlers) HandleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.OAuthStatus())
}

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests; not ready until the
// provider and signing configuration are present.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.ready(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeOrchestratorError maps the error taxonomy onto HTTP statuses.
func writeOrchestratorError(w http.ResponseWriter, r *http.Request, err error) {
	kind := orchestrator.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case orchestrator.KindValidation:
		status = http.StatusBadRequest
	case orchestrator.KindAuth:
		status = http.StatusUnauthorized
	case orchestrator.KindProvider:
		status = http.StatusBadGateway
	case orchestrator.KindCapacity:
		status = http.StatusTooManyRequests
	}

	msg := err.Error()
	var oe *orchestrator.Error
	if errors.As(err, &oe) {
		msg = oe.Message
	}
	if status >= 500 || kind == orchestrator.KindProvider {
		telemetry.LoggerWithCorr(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path), slog.String("kind", string(kind)), slog.Any("err", err))
	}
	writeError(w, status, string(kind), msg)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	if kind == "" {
		kind = "internal"
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": kind, "message": message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}
