package auditapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/todo-audit/pipeline/internal/audit/logstore"
	"github.com/todo-audit/pipeline/internal/contracts"
	"github.com/todo-audit/pipeline/internal/snapshot/correlate"
	"github.com/todo-audit/pipeline/internal/snapshot/restore"
)

type LogReader interface {
	GroupsSummary(ctx context.Context) ([]logstore.GroupSummary, error)
	GroupTasksSummary(ctx context.Context, groupID string) ([]logstore.TaskSummary, error)
	GroupLogs(ctx context.Context, groupID string, limit int) ([]logstore.Record, error)
	TaskLogs(ctx context.Context, taskID string, limit int) ([]logstore.Record, error)
}

type SnapshotCatalog interface {
	List(ctx context.Context) ([]contracts.SnapshotInfo, error)
}

type Restorer interface {
	Restore(ctx context.Context, snapshotID, user string) (contracts.RestoreResult, error)
}

// Handler serves the operator-facing read and restore API. Everything here
// is read-only except POST /api/restore/{snapshotId}.
type Handler struct {
	Logs      LogReader
	Snapshots SnapshotCatalog
	Restorer  Restorer
}

func NewHandler(logs LogReader, snapshots SnapshotCatalog, restorer Restorer) *Handler {
	return &Handler{Logs: logs, Snapshots: snapshots, Restorer: restorer}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/logs/groups", h.handleGroupsSummary)
	r.Get("/api/logs/group/{groupID}", h.handleGroupLogs)
	r.Get("/api/logs/group/{groupID}/tasks", h.handleGroupTasksSummary)
	r.Get("/api/logs/task/{taskID}", h.handleTaskLogs)

	r.Get("/api/restore/snapshots", h.handleListSnapshots)
	r.Get("/api/restore/correlate", h.handleCorrelate)
	r.Post("/api/restore/{snapshotID}", h.handleRestore)

	return r
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleGroupsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Logs.GroupsSummary(r.Context())
	if err != nil {
		h.writeServerError(w, "fetch groups summary", err)
		return
	}
	h.writeData(w, summary)
}

func (h *Handler) handleGroupLogs(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	logs, err := h.Logs.GroupLogs(r.Context(), groupID, limitParam(r))
	if err != nil {
		h.writeServerError(w, "fetch group logs", err)
		return
	}
	h.writeData(w, logs)
}

func (h *Handler) handleGroupTasksSummary(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	summary, err := h.Logs.GroupTasksSummary(r.Context(), groupID)
	if err != nil {
		h.writeServerError(w, "fetch group tasks summary", err)
		return
	}
	h.writeData(w, summary)
}

func (h *Handler) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	logs, err := h.Logs.TaskLogs(r.Context(), taskID, limitParam(r))
	if err != nil {
		h.writeServerError(w, "fetch task logs", err)
		return
	}
	h.writeData(w, logs)
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.Snapshots.List(r.Context())
	if err != nil {
		log.Errorf("list snapshots: %v", err)
		h.writeError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "snapshot storage is unreachable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "snapshots": snapshots})
}

func (h *Handler) handleCorrelate(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("timestamp")
	target, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "timestamp must be RFC3339")
		return
	}
	snapshots, err := h.Snapshots.List(r.Context())
	if err != nil {
		log.Errorf("list snapshots for correlation: %v", err)
		h.writeError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "snapshot storage is unreachable")
		return
	}
	nearest := correlate.Nearest(target, snapshots)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"matched":  nearest != nil,
		"snapshot": nearest,
	})
}

type restoreRequest struct {
	User string `json:"user"`
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	snapshotID := chi.URLParam(r, "snapshotID")

	// Missing or malformed body falls back to the default actor.
	req := restoreRequest{}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.User == "" {
		req.User = "Admin"
	}

	// Once the destructive phase starts it must run to completion; a
	// dropped client or proxy timeout must not cancel it midway and leave
	// the primary store half-replaced.
	result, err := h.Restorer.Restore(context.WithoutCancel(r.Context()), snapshotID, req.User)
	if err != nil {
		switch {
		case errors.Is(err, restore.ErrSnapshotNotFound):
			h.writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		case errors.Is(err, restore.ErrCorruptSnapshot):
			h.writeError(w, http.StatusUnprocessableEntity, "CORRUPT_SNAPSHOT", err.Error())
		case errors.Is(err, restore.ErrRestoreBusy):
			h.writeError(w, http.StatusConflict, "RESTORE_BUSY", err.Error())
		case errors.Is(err, restore.ErrPartialRestore):
			log.Errorf("partial restore of %s: %v", snapshotID, err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success":        false,
				"error":          errorBody{Code: "PARTIAL_RESTORE", Message: err.Error()},
				"snapshotId":     result.SnapshotID,
				"restoredCounts": result.RestoredCounts,
			})
		default:
			h.writeServerError(w, "restore", err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Database restored successfully",
		"snapshotId":     result.SnapshotID,
		"restoredCounts": result.RestoredCounts,
	})
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeData(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (h *Handler) writeServerError(w http.ResponseWriter, op string, err error) {
	log.Errorf("%s: %v", op, err)
	h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string) {
	h.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   errorBody{Code: code, Message: msg},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
