// Package gateway exposes the sync service over HTTP and WebSocket.
// It is the only process boundary; everything behind it is in-process.
package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/sentinelprime/synckit/config"
	"github.com/sentinelprime/synckit/errors"
	"github.com/sentinelprime/synckit/logging"
	"github.com/sentinelprime/synckit/service"
)

// Gateway serves the HTTP API and the /ws/sync stream endpoint.
type Gateway struct {
	svc *service.Service
	cfg config.Config
	log *logging.Logger
}

// New creates a gateway over the given service.
func New(svc *service.Service, cfg config.Config, log *logging.Logger) *Gateway {
	if log == nil {
		log = logging.New()
	}
	return &Gateway{
		svc: svc,
		cfg: cfg,
		log: log.WithComponent("gateway"),
	}
}

// Handler returns the routed HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", g.auth(g.handleStatus))
	mux.HandleFunc("GET /api/sync/snapshot", g.auth(g.handleSnapshot))
	mux.HandleFunc("POST /api/sync/update", g.auth(g.handleUpdate))
	mux.HandleFunc("POST /api/sync/reset", g.auth(g.handleReset))
	mux.HandleFunc("GET /api/sync/trinode", g.auth(g.handleTriNode))
	mux.HandleFunc("POST /api/glyphs/validate", g.auth(g.handleValidate))
	mux.HandleFunc("POST /api/glyphs/interpret", g.auth(g.handleInterpret))
	mux.HandleFunc("GET /api/glyphs/boot", g.auth(g.handleBoot))
	mux.HandleFunc("/ws/sync", g.auth(g.handleWS))
	return mux
}

// Server builds an http.Server bound to the configured address.
func (g *Gateway) Server() *http.Server {
	return &http.Server{
		Addr:    g.cfg.Server.Addr,
		Handler: g.Handler(),
	}
}

// auth enforces the configured API key. An empty key disables the
// check entirely.
func (g *Gateway) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.authorized(r) {
			g.writeError(w, errors.Unauthorized("missing or invalid api key"))
			return
		}
		next(w, r)
	}
}

func (g *Gateway) authorized(r *http.Request) bool {
	key := g.cfg.Server.APIKey
	if key == "" {
		return true
	}
	got := r.Header.Get("X-API-Key")
	if got == "" {
		got = r.URL.Query().Get("api_key")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := g.svc.BusStatus()
	snap := g.svc.SyncSnapshot()
	g.writeJSON(w, http.StatusOK, map[string]any{
		"session":     snap.SessionID,
		"version":     snap.Version,
		"bus":         status,
		"subscribers": status.Subscribers,
	})
}

func (g *Gateway) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.svc.SyncSnapshot())
}

type updateRequest struct {
	Role   string         `json:"role"`
	Fields map[string]any `json:"fields"`
}

func (g *Gateway) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, errors.InvalidInput("malformed update body", errors.WithCause(err)))
		return
	}
	version, err := g.svc.SyncUpdate(r.Context(), req.Role, req.Fields)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"version": version})
}

type resetRequest struct {
	Token string `json:"token"`
}

// handleReset is two-step: a call without a token issues one, a call
// with the issued token performs the reset.
func (g *Gateway) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.writeError(w, errors.InvalidInput("malformed reset body", errors.WithCause(err)))
			return
		}
	}
	if req.Token == "" {
		g.writeJSON(w, http.StatusOK, map[string]any{
			"reset_token": g.svc.ResetToken(),
			"confirm":     "repeat the call with this token to reinitialize",
		})
		return
	}
	version, err := g.svc.Reinitialize(r.Context(), req.Token)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"reset": true, "version": version})
}

func (g *Gateway) handleTriNode(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.svc.TriNode())
}

type sequenceRequest struct {
	Sequence []string `json:"sequence"`
}

func (g *Gateway) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req sequenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, errors.InvalidInput("malformed sequence body", errors.WithCause(err)))
		return
	}
	g.writeJSON(w, http.StatusOK, g.svc.ValidateSequence(req.Sequence))
}

func (g *Gateway) handleInterpret(w http.ResponseWriter, r *http.Request) {
	var req sequenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, errors.InvalidInput("malformed sequence body", errors.WithCause(err)))
		return
	}
	interp, err := g.svc.InterpretSequence(r.Context(), req.Sequence)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, interp)
}

func (g *Gateway) handleBoot(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{"steps": g.svc.BootSequence()})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Error("response encode failed", map[string]any{"error": err.Error()})
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	code := errors.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeUnknownRole, errors.ErrCodeInvalidInput, errors.ErrCodeProtocol:
		status = http.StatusBadRequest
	case errors.ErrCodeResetNotConfirmed:
		status = http.StatusConflict
	case errors.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case errors.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	}
	g.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}
