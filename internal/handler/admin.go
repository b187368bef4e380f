// Package handler provides the HTTP surface of an orchestrator node:
// the admin API and the internal node-to-node lifecycle endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/model"
	"github.com/beamline/botfleet/internal/service"
	"github.com/beamline/botfleet/internal/store"
)

// AdminHandlers contains the admin API handlers and their dependencies.
type AdminHandlers struct {
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(orchestrator *service.Orchestrator, logger *zap.Logger) *AdminHandlers {
	return &AdminHandlers{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// RegisterRoutes registers the admin API routes on the router.
func (h *AdminHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/bots", h.CreateBot).Methods(http.MethodPost)
	r.HandleFunc("/v1/bots/{bot_id}", h.DeleteBot).Methods(http.MethodDelete)
	r.HandleFunc("/v1/bots/{bot_id}/mount", h.Mount).Methods(http.MethodPost)
	r.HandleFunc("/v1/bots/{bot_id}/unmount", h.Unmount).Methods(http.MethodPost)
	r.HandleFunc("/v1/bots/{bot_id}/mounted", h.IsMounted).Methods(http.MethodGet)
	r.HandleFunc("/v1/bots/{bot_id}/stage-request", h.RequestPromotion).Methods(http.MethodPost)
	r.HandleFunc("/v1/bots/{bot_id}/stage-request/approve", h.ApproveStageChange).Methods(http.MethodPost)
	r.HandleFunc("/v1/bots/{bot_id}/stage-request/reject", h.RejectStageChange).Methods(http.MethodPost)
	r.HandleFunc("/v1/bots/{bot_id}/revisions", h.CreateRevision).Methods(http.MethodPost)
	r.HandleFunc("/v1/bots/{bot_id}/revisions", h.ListRevisions).Methods(http.MethodGet)
	r.HandleFunc("/v1/bots/{bot_id}/revisions/{revision}/rollback", h.Rollback).Methods(http.MethodPost)
	r.HandleFunc("/v1/health/cluster", h.ClusterHealth).Methods(http.MethodGet)
}

// CreateBot handles POST /v1/bots requests.
func (h *AdminHandlers) CreateBot(w http.ResponseWriter, r *http.Request) {
	var cfg model.BotConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.orchestrator.CreateBot(r.Context(), &cfg); err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, cfg)
}

// DeleteBot handles DELETE /v1/bots/{bot_id} requests.
func (h *AdminHandlers) DeleteBot(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	if err := h.orchestrator.DeleteBot(r.Context(), botID); err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Mount handles POST /v1/bots/{bot_id}/mount requests. The response
// reports whether the bot came up on this node; a bot that failed its
// own preconditions yields mounted=false with status 200.
func (h *AdminHandlers) Mount(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	mounted, err := h.orchestrator.Mount(r.Context(), botID)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bot_id":  botID,
		"mounted": mounted,
	})
}

// Unmount handles POST /v1/bots/{bot_id}/unmount requests.
func (h *AdminHandlers) Unmount(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	h.orchestrator.Unmount(r.Context(), botID)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bot_id":  botID,
		"mounted": false,
	})
}

// IsMounted handles GET /v1/bots/{bot_id}/mounted requests.
func (h *AdminHandlers) IsMounted(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bot_id":  botID,
		"mounted": h.orchestrator.IsMounted(botID),
	})
}

type stageRequestBody struct {
	RequestedBy string `json:"requested_by"`
}

// RequestPromotion handles POST /v1/bots/{bot_id}/stage-request requests.
func (h *AdminHandlers) RequestPromotion(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	var body stageRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.RequestedBy == "" {
		h.writeError(w, http.StatusBadRequest, "requested_by is required")
		return
	}

	if err := h.orchestrator.RequestPromotion(r.Context(), botID, body.RequestedBy); err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type approvalBody struct {
	Email    string `json:"email"`
	Strategy string `json:"strategy"`
}

// ApproveStageChange handles POST /v1/bots/{bot_id}/stage-request/approve requests.
func (h *AdminHandlers) ApproveStageChange(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	var body approvalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Email == "" {
		h.writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.orchestrator.ApproveStageChange(r.Context(), botID, body.Email, body.Strategy); err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

type rejectionBody struct {
	Reviewer string `json:"reviewer"`
}

// RejectStageChange handles POST /v1/bots/{bot_id}/stage-request/reject requests.
func (h *AdminHandlers) RejectStageChange(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	var body rejectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.orchestrator.RejectStageChange(r.Context(), botID, body.Reviewer); err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// CreateRevision handles POST /v1/bots/{bot_id}/revisions requests.
func (h *AdminHandlers) CreateRevision(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	name, err := h.orchestrator.CreateRevision(r.Context(), botID)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"revision": name})
}

// ListRevisions handles GET /v1/bots/{bot_id}/revisions requests.
func (h *AdminHandlers) ListRevisions(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	revisions, err := h.orchestrator.ListRevisions(r.Context(), botID)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	if revisions == nil {
		revisions = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"revisions": revisions})
}

// Rollback handles POST /v1/bots/{bot_id}/revisions/{revision}/rollback requests.
func (h *AdminHandlers) Rollback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.orchestrator.Rollback(r.Context(), vars["bot_id"], vars["revision"]); err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ClusterHealth handles GET /v1/health/cluster requests. An optional
// bots query parameter scopes the view to a comma-separated set of
// bot IDs.
func (h *AdminHandlers) ClusterHealth(w http.ResponseWriter, r *http.Request) {
	var botFilter []string
	if bots := r.URL.Query().Get("bots"); bots != "" {
		botFilter = strings.Split(bots, ",")
	}

	views := h.orchestrator.GetClusterHealth(r.Context(), botFilter)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": views})
}

// writeJSON writes a JSON response to the HTTP response writer.
func (h *AdminHandlers) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (h *AdminHandlers) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
