package server

import (
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/Yoak3n/ducker/internal/calendar"
	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/progress"
)

//go:generate templ generate -f dashboard.templ

func itemClass(t model.Task, now time.Time) string {
	switch {
	case t.Completed:
		return "completed"
	case t.DueTo != nil && t.DueTo.Before(now):
		return "overdue"
	default:
		return ""
	}
}

// Dashboard handles GET /.
func (v *Views) Dashboard(w http.ResponseWriter, r *http.Request) {
	now := v.now()
	snap := v.Repo.Snapshot()
	today := calendar.Today(snap, now)
	templ.Handler(DashboardPage(today, calendar.Week(snap, now), progress.Aggregate(today), now)).ServeHTTP(w, r)
}
