package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Yoak3n/ducker/internal/model"
)

// Handler exposes a Backend over HTTP. It is the server side of Client.
type Handler struct {
	backend   Backend
	log       *zap.Logger
	heartbeat time.Duration
}

func NewHandler(backend Backend, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{backend: backend, log: log, heartbeat: 25 * time.Second}
}

// SetHeartbeat changes how often idle event streams send a keep-alive
// comment.
func (h *Handler) SetHeartbeat(d time.Duration) {
	h.heartbeat = d
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

// writeBackendErr maps backend failures onto status codes.
func (h *Handler) writeBackendErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTask), errors.Is(err, model.ErrInvalidInterval):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("backend call failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	return id, id != ""
}

// ListTasks handles GET /api/tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.backend.FetchAllTasks(r.Context())
	if err != nil {
		h.writeBackendErr(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CreateTask handles POST /api/tasks.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var data model.TaskData
	if err := decodeJSON(r, &data); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	id, err := h.backend.CreateTask(r.Context(), data)
	if err != nil {
		h.writeBackendErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// UpdateTask handles PUT /api/tasks/{id}.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "missing id")
		return
	}
	var data model.TaskData
	if err := decodeJSON(r, &data); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	t, err := h.backend.UpdateTask(r.Context(), id, data)
	if err != nil {
		h.writeBackendErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "missing id")
		return
	}
	if err := h.backend.DeleteTask(r.Context(), id); err != nil {
		h.writeBackendErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type completionRequest struct {
	Completed *bool `json:"completed"`
}

// SetCompletion handles PUT /api/tasks/{id}/completion.
func (h *Handler) SetCompletion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "missing id")
		return
	}
	var req completionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Completed == nil {
		writeErr(w, http.StatusBadRequest, "completed is required")
		return
	}
	t, err := h.backend.SetTaskCompletion(r.Context(), id, *req.Completed)
	if err != nil {
		h.writeBackendErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListPeriodic handles GET /api/periodic-tasks.
func (h *Handler) ListPeriodic(w http.ResponseWriter, r *http.Request) {
	rules, err := h.backend.ListPeriodicTasks(r.Context())
	if err != nil {
		h.writeBackendErr(w, r, err)
		return
	}
	if rules == nil {
		rules = []model.PeriodicTask{}
	}
	writeJSON(w, http.StatusOK, rules)
}

// ListEnabledPeriodic handles GET /api/periodic-tasks/enabled.
func (h *Handler) ListEnabledPeriodic(w http.ResponseWriter, r *http.Request) {
	rules, err := h.backend.FetchEnabledPeriodicTasks(r.Context())
	if err != nil {
		h.writeBackendErr(w, r, err)
		return
	}
	if rules == nil {
		rules = []model.PeriodicTask{}
	}
	writeJSON(w, http.StatusOK, rules)
}

// CreatePeriodic handles POST /api/periodic-tasks.
func (h *Handler) CreatePeriodic(w http.ResponseWriter, r *http.Request) {
	var data model.PeriodicTaskData
	if err := decodeJSON(r, &data); err != nil {
		if errors.Is(err, model.ErrInvalidInterval) {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	id, err := h.backend.CreatePeriodicTask(r.Context(), data)
	if err != nil {
		h.writeBackendErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetPeriodicEnabled handles PUT /api/periodic-tasks/{id}/enabled.
func (h *Handler) SetPeriodicEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "missing id")
		return
	}
	var req enabledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Enabled == nil {
		writeErr(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.backend.SetPeriodicTaskEnabled(r.Context(), id, *req.Enabled); err != nil {
		h.writeBackendErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /api/events, streaming change notifications as
// server-sent events named after ChangeTopic.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ch, err := h.backend.Changes(r.Context())
	if err != nil {
		h.writeBackendErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case c, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(c)
			if err != nil {
				h.log.Warn("encode change", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ChangeTopic, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Route describes one endpoint for registration and route docs.
type Route struct {
	Pattern string
	Summary string
	Example string
	Handler http.HandlerFunc
}

func (h *Handler) Routes() []Route {
	return []Route{
		{"GET /api/tasks", "List root tasks with their children", "", h.ListTasks},
		{"POST /api/tasks", "Create a task", `{"name":"Write report","value":3,"due_to":"2024-06-10 18:00:00","completed":false,"auto":false,"actions":[]}`, h.CreateTask},
		{"PUT /api/tasks/{id}", "Update a task", `{"name":"Write report","value":5,"completed":false,"auto":false,"actions":[]}`, h.UpdateTask},
		{"DELETE /api/tasks/{id}", "Delete a task, its children and its periodic rule", "", h.DeleteTask},
		{"PUT /api/tasks/{id}/completion", "Set completion", `{"completed":true}`, h.SetCompletion},
		{"GET /api/periodic-tasks", "List all periodic rules", "", h.ListPeriodic},
		{"GET /api/periodic-tasks/enabled", "List enabled periodic rules", "", h.ListEnabledPeriodic},
		{"POST /api/periodic-tasks", "Create a periodic rule and its template task", `{"name":"Standup","interval":1,"task":{"name":"Standup","completed":false,"auto":false,"actions":[]}}`, h.CreatePeriodic},
		{"PUT /api/periodic-tasks/{id}/enabled", "Enable or disable a periodic rule", `{"enabled":false}`, h.SetPeriodicEnabled},
		{"GET /api/events", "Server-sent " + ChangeTopic + " notifications", "", h.Events},
	}
}
