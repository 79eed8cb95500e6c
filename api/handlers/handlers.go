// Package handlers implements the operator's /api/v1 routes.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/flashbots/zkml-operator/api/httpserver"
	"github.com/flashbots/zkml-operator/operator"
	"github.com/flashbots/zkml-operator/zkerr"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes = 1 << 20

	defaultHistoryLimit = 20
	maxHistoryLimit     = 256
)

// Operations is the subset of operator.Service the handlers depend on.
type Operations interface {
	Prove(ctx context.Context, req operator.ProveRequest) (operator.Envelope[string], error)
	Verify(ctx context.Context, req operator.VerifyRequest) (operator.Envelope[string], error)
	Recent(ctx context.Context, limit int) ([]operator.Record, error)
}

// Handler serves the prove/verify API.
type Handler struct {
	ops Operations
	log *slog.Logger
}

// New creates a handler backed by ops.
func New(ops Operations, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ops: ops, log: log}
}

// RegisterRoutes implements httpserver.RouteRegistrar.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", h.handlePing)
		r.Get("/healthcheck", h.handleHealthcheck)
		r.Post("/prove", h.handleProve)
		r.Post("/verify", h.handleVerify)
		r.Get("/operations", h.handleOperations)
	})
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// handleHealthcheck never touches shared state, so it answers even while a
// proof is running.
func (h *Handler) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, operator.Success("", "healthy"))
}

func (h *Handler) handleProve(w http.ResponseWriter, r *http.Request) {
	var req operator.ProveRequest
	if !h.decode(w, r, &req) {
		return
	}

	env, err := h.ops.Prove(r.Context(), req)
	h.respond(w, req.RequestID, env, err)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req operator.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	env, err := h.ops.Verify(r.Context(), req)
	h.respond(w, req.RequestID, env, err)
}

func (h *Handler) handleOperations(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpserver.WriteJSON(w, http.StatusOK,
				operator.Failure("", zkerr.Newf(zkerr.OtherError, "invalid limit %q", raw)))
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	records, err := h.ops.Recent(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to list operations", "err", err)
		httpserver.WriteJSON(w, http.StatusOK,
			operator.Failure("", zkerr.Wrap(zkerr.IoError, err, "list operations")))
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, operator.Success("", records))
}

// decode reads a JSON body into v. Malformed bodies are answered with an
// OtherError envelope and decode returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		h.log.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		httpserver.WriteJSON(w, http.StatusOK,
			operator.Failure("", zkerr.New(zkerr.OtherError, fmt.Sprintf("invalid request body: %v", err))))
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, requestID string, env operator.Envelope[string], err error) {
	if err != nil {
		h.log.Warn("Request aborted", "requestId", requestID, "err", err)
		httpserver.WriteTransportError(w, requestID, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, env)
}
