package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Yoak3n/ducker/internal/calendar"
	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/progress"
	"github.com/Yoak3n/ducker/internal/task"
	"github.com/Yoak3n/ducker/internal/telemetry"
)

const dateLayout = "2006-01-02"

// Views serves the read models computed from a Repository snapshot: the
// Today list, the weekly columns, the month grid and progress figures.
type Views struct {
	Repo   *task.Repository
	Events telemetry.Repository
	Now    func() time.Time
	Log    *zap.Logger
}

func (v *Views) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *Views) logger() *zap.Logger {
	if v.Log == nil {
		return zap.NewNop()
	}
	return v.Log
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// anchor resolves ?date=YYYY-MM-DD to that day at the current clock time.
func (v *Views) anchor(r *http.Request) (time.Time, error) {
	now := v.now()
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return now, nil
	}
	d, err := time.ParseInLocation(dateLayout, raw, now.Location())
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return time.Date(d.Year(), d.Month(), d.Day(),
		now.Hour(), now.Minute(), now.Second(), 0, now.Location()), nil
}

type todayView struct {
	Date    string           `json:"date"`
	Tasks   []model.Task     `json:"tasks"`
	Summary progress.Summary `json:"summary"`
	Current *model.Task      `json:"current,omitempty"`
}

func (v *Views) todayView() todayView {
	now := v.now()
	tasks := calendar.Today(v.Repo.Snapshot(), now)
	out := todayView{
		Date:    now.Format(dateLayout),
		Tasks:   tasks,
		Summary: progress.Aggregate(tasks),
	}
	if cur, ok := v.Repo.Current(); ok {
		out.Current = &cur
	}
	return out
}

// Today handles GET /api/views/today.
func (v *Views) Today(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, v.todayView())
}

type weeklyView struct {
	Anchor  string                `json:"anchor"`
	Days    [7]calendar.DayBucket `json:"days"`
	Summary progress.Summary      `json:"summary"`
}

// Weekly handles GET /api/views/weekly?date=.
func (v *Views) Weekly(w http.ResponseWriter, r *http.Request) {
	anchor, err := v.anchor(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	days := calendar.Week(v.Repo.Snapshot(), anchor)
	var all []model.Task
	for _, d := range days {
		all = append(all, d.Tasks...)
	}
	writeJSON(w, http.StatusOK, weeklyView{
		Anchor:  anchor.Format(dateLayout),
		Days:    days,
		Summary: progress.Aggregate(all),
	})
}

type monthlyView struct {
	Year  int             `json:"year"`
	Month int             `json:"month"`
	Cells []calendar.Cell `json:"cells"`
}

// Monthly handles GET /api/views/monthly?date=.
func (v *Views) Monthly(w http.ResponseWriter, r *http.Request) {
	anchor, err := v.anchor(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, monthlyView{
		Year:  anchor.Year(),
		Month: int(anchor.Month()),
		Cells: calendar.MonthCells(v.Repo.Snapshot(), anchor, v.now()),
	})
}

type statsView struct {
	Tasks progress.TaskStats `json:"tasks"`
	Sync  *telemetry.Stats   `json:"sync,omitempty"`
}

// Stats handles GET /api/views/stats. Sync figures cover the last 24 hours.
func (v *Views) Stats(w http.ResponseWriter, r *http.Request) {
	now := v.now()
	out := statsView{Tasks: progress.Stats(v.Repo.Snapshot(), now)}
	if v.Events != nil {
		since := now.Add(-24 * time.Hour)
		events, err := v.Events.GetEvents(since, nil)
		if err != nil {
			v.logger().Warn("read telemetry", zap.Error(err))
		} else {
			st := telemetry.CalculateStats(events, since)
			out.Sync = &st
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Toggle handles POST /api/views/toggle/{id}. The id must be a root task or
// a direct child in the current snapshot.
func (v *Views) Toggle(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	toggled, err := progress.Toggle(r.Context(), v.Repo, id, v.Repo.Snapshot())
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		v.logger().Error("toggle failed", zap.String("id", id), zap.Error(err))
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	t, _ := v.Repo.Get(toggled)
	writeJSON(w, http.StatusOK, t)
}

type currentRequest struct {
	ID string `json:"id"`
}

// SetCurrent handles PUT /api/views/current.
func (v *Views) SetCurrent(w http.ResponseWriter, r *http.Request) {
	var req currentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := v.Repo.SetCurrent(strings.TrimSpace(req.ID)); err != nil {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportICS handles GET /api/export.ics.
func (v *Views) ExportICS(w http.ResponseWriter, r *http.Request) {
	body, err := calendar.BuildICS(v.Repo.Snapshot(), v.Repo.PeriodicRules(), v.now())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="ducker.ics"`)
	_, _ = w.Write([]byte(body))
}

// Resync handles POST /api/views/resync and forces a full fetch.
func (v *Views) Resync(w http.ResponseWriter, r *http.Request) {
	tasks, err := v.Repo.FetchAll(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": len(tasks)})
}

func RegisterViewRoutes(mux *http.ServeMux, rr *RouteRegistry, v *Views) {
	Handle(mux, rr, "GET /api/views/today", "Tasks due today or overdue, with value progress", "", v.Today)
	Handle(mux, rr, "GET /api/views/weekly", "Monday to Sunday buckets for ?date=YYYY-MM-DD", "", v.Weekly)
	Handle(mux, rr, "GET /api/views/monthly", "Month grid for ?date=YYYY-MM-DD", "", v.Monthly)
	Handle(mux, rr, "GET /api/views/stats", "Task counts and sync activity", "", v.Stats)
	Handle(mux, rr, "POST /api/views/toggle/{id}", "Toggle completion of a displayed task", "", v.Toggle)
	Handle(mux, rr, "PUT /api/views/current", "Focus a task", `{"id":"..."}`, v.SetCurrent)
	Handle(mux, rr, "POST /api/views/resync", "Refetch the snapshot from the backend", "", v.Resync)
	Handle(mux, rr, "GET /api/export.ics", "iCalendar export of dated tasks", "", v.ExportICS)
}
