package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/pipeline"
	"github.com/vertextoedge/sharesplit/internal/port"
)

// DebugHandler handles debug endpoint requests
type DebugHandler struct {
	registry *pipeline.Registry
	store    port.Store
	logger   *zap.Logger
}

// NewDebugHandler creates a new DebugHandler
func NewDebugHandler(registry *pipeline.Registry, store port.Store, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		registry: registry,
		store:    store,
		logger:   logger,
	}
}

// HandleTasks lists download task rows that are still pending or in
// progress.
func (h *DebugHandler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tasks, err := h.store.ListResumable()
	if err != nil {
		h.logger.Error("failed to list download tasks", zap.Error(err))
		http.Error(w, "Failed to list download tasks", http.StatusInternalServerError)
		return
	}

	type taskView struct {
		Key             string `json:"key"`
		URL             string `json:"url"`
		Status          string `json:"status"`
		BytesDownloaded int64  `json:"bytes_downloaded"`
		TotalBytes      int64  `json:"total_bytes"`
		RetryCount      int    `json:"retry_count"`
		MaxRetries      int    `json:"max_retries"`
		LastError       string `json:"last_error,omitempty"`
	}

	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, taskView{
			Key:             task.Key,
			URL:             task.URL,
			Status:          task.Status,
			BytesDownloaded: task.BytesDownloaded,
			TotalBytes:      task.TotalBytes,
			RetryCount:      task.RetryCount,
			MaxRetries:      task.MaxRetries,
			LastError:       task.LastError,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count": len(views),
		"tasks": views,
	})
}

// HandleSessions lists every known session with its current state.
func (h *DebugHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	controllers := h.registry.List()
	sessions := make([]sessionResponse, 0, len(controllers))
	for _, ctrl := range controllers {
		sessions = append(sessions, renderSession(ctrl))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}
