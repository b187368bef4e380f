package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/lifecycle"
)

// NodeHandlers serves the internal node-to-node lifecycle endpoints.
// They act on the local node only and never fan out again, so a
// broadcast terminates after one hop.
type NodeHandlers struct {
	coordinator *lifecycle.Coordinator
	logger      *zap.Logger
}

// NewNodeHandlers creates a new NodeHandlers instance.
func NewNodeHandlers(coordinator *lifecycle.Coordinator, logger *zap.Logger) *NodeHandlers {
	return &NodeHandlers{
		coordinator: coordinator,
		logger:      logger,
	}
}

// RegisterRoutes registers the internal lifecycle routes on the router.
func (h *NodeHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/internal/v1/bots/{bot_id}/mount", h.Mount).Methods(http.MethodPost)
	r.HandleFunc("/internal/v1/bots/{bot_id}/unmount", h.Unmount).Methods(http.MethodPost)
}

// Mount handles an incoming broadcast mount for this node.
func (h *NodeHandlers) Mount(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	mounted, err := h.coordinator.Mount(r.Context(), botID)
	if err != nil {
		h.logger.Error("Broadcast mount failed",
			zap.String("bot_id", botID),
			zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bot_id":  botID,
		"mounted": mounted,
	})
}

// Unmount handles an incoming broadcast unmount for this node.
func (h *NodeHandlers) Unmount(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	h.coordinator.Unmount(r.Context(), botID)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bot_id":  botID,
		"mounted": false,
	})
}

func (h *NodeHandlers) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
