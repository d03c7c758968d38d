package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/domain"
	"github.com/vertextoedge/sharesplit/internal/pipeline"
)

// SessionHandler handles session lifecycle requests
type SessionHandler struct {
	registry *pipeline.Registry
	logger   *zap.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(registry *pipeline.Registry, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		logger:   logger,
	}
}

type createSessionRequest struct {
	SourceURL string `json:"source_url"`
}

type sessionResponse struct {
	ID        string        `json:"id"`
	SourceURL string        `json:"source_url"`
	Attempt   int           `json:"attempt"`
	CreatedAt time.Time     `json:"created_at"`
	State     stateResponse `json:"state"`
}

type stateResponse struct {
	Kind        string            `json:"kind"`
	Progress    *progressResponse `json:"progress,omitempty"`
	CurrentPart int               `json:"current_part,omitempty"`
	TotalParts  int               `json:"total_parts,omitempty"`
	Percent     int               `json:"percent,omitempty"`
	Segments    []segmentResponse `json:"segments,omitempty"`
	Error       *errorResponse    `json:"error,omitempty"`
}

type progressResponse struct {
	Kind                string `json:"kind"`
	Percent             int    `json:"percent"`
	DownloadedBytes     int64  `json:"downloaded_bytes"`
	TotalBytes          int64  `json:"total_bytes"`
	SpeedBytesPerSecond int64  `json:"speed_bytes_per_second"`
	Message             string `json:"message,omitempty"`
}

type segmentResponse struct {
	PartNumber      int     `json:"part_number"`
	TotalParts      int     `json:"total_parts"`
	FilePath        string  `json:"file_path"`
	DurationSeconds float64 `json:"duration_seconds"`
	FileSizeBytes   int64   `json:"file_size_bytes"`
}

type errorResponse struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Stage     string `json:"stage,omitempty"`
}

// HandleSessions handles POST /sessions
func (h *SessionHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctrl, created, err := h.registry.StartSession(r.Context(), req.SourceURL)
	if err != nil {
		h.logger.Error("failed to start session", zap.Error(err))
		http.Error(w, "Failed to start session", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, renderSession(ctrl))
}

// HandleSessionByID handles /sessions/{id} and its retry/cancel actions
func (h *SessionHandler) HandleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}
	id := parts[0]

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleGet(w, id)
	case action == "retry" && r.Method == http.MethodPost:
		h.handleRetry(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		h.handleCancel(w, id)
	case action == "":
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *SessionHandler) handleGet(w http.ResponseWriter, id string) {
	ctrl, err := h.registry.Get(id)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, renderSession(ctrl))
}

func (h *SessionHandler) handleRetry(w http.ResponseWriter, r *http.Request, id string) {
	err := h.registry.Retry(r.Context(), id)
	switch {
	case err == nil:
		ctrl, _ := h.registry.Get(id)
		writeJSON(w, http.StatusAccepted, renderSession(ctrl))
	case errors.Is(err, domain.ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotRetryable), errors.Is(err, domain.ErrInvalidState):
		http.Error(w, "Session is not retryable", http.StatusConflict)
	default:
		h.logger.Error("failed to retry session", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "Failed to retry session", http.StatusInternalServerError)
	}
}

func (h *SessionHandler) handleCancel(w http.ResponseWriter, id string) {
	err := h.registry.Cancel(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, domain.ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	default:
		h.logger.Error("failed to cancel session", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "Failed to cancel session", http.StatusInternalServerError)
	}
}

func renderSession(ctrl *pipeline.Controller) sessionResponse {
	session := ctrl.Session()
	return sessionResponse{
		ID:        session.ID,
		SourceURL: session.SourceURL,
		Attempt:   session.Attempt,
		CreatedAt: session.CreatedAt,
		State:     renderState(ctrl.State()),
	}
}

func renderState(state domain.PipelineState) stateResponse {
	out := stateResponse{Kind: string(state.Kind)}

	switch state.Kind {
	case domain.StateDownloading:
		out.Progress = &progressResponse{
			Kind:                string(state.Progress.Kind),
			Percent:             state.Progress.Percent,
			DownloadedBytes:     state.Progress.DownloadedBytes,
			TotalBytes:          state.Progress.TotalBytes,
			SpeedBytesPerSecond: state.Progress.SpeedBytesPerSecond,
			Message:             state.Progress.Message,
		}
	case domain.StateSplitting:
		out.CurrentPart = state.CurrentPart
		out.TotalParts = state.TotalParts
		out.Percent = state.Percent
	case domain.StateComplete:
		out.Segments = make([]segmentResponse, 0, len(state.Segments))
		for _, seg := range state.Segments {
			out.Segments = append(out.Segments, segmentResponse{
				PartNumber:      seg.PartNumber,
				TotalParts:      seg.TotalParts,
				FilePath:        seg.FilePath,
				DurationSeconds: seg.DurationSeconds,
				FileSizeBytes:   seg.FileSizeBytes,
			})
		}
	case domain.StateError:
		out.Error = &errorResponse{
			Kind:      string(state.Err.Kind),
			Message:   state.Err.Error(),
			Retryable: state.Retryable,
			Stage:     string(state.FailedAtStage),
		}
	}

	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
