package calendar

import (
	"math"
	"slices"
	"time"

	"github.com/Yoak3n/ducker/internal/model"
)

// Range is an inclusive span of Unix seconds.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (r Range) Contains(ts int64) bool {
	return ts >= r.Start && ts <= r.End
}

// DayRange returns the bounds of the calendar day containing t, in t's
// location: 00:00:00.000 through 23:59:59.999, truncated to seconds.
func DayRange(t time.Time) Range {
	y, m, d := t.Date()
	loc := t.Location()
	return Range{
		Start: time.Date(y, m, d, 0, 0, 0, 0, loc).Unix(),
		End:   time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc).Unix(),
	}
}

// StartOfDay returns local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsTodayOrOverdue reports whether task belongs in the Today view: due
// today, or due at or before now and still incomplete. A task with no due
// time is never in Today.
func IsTodayOrOverdue(task model.Task, now time.Time) bool {
	due, ok := task.DueUnix()
	if !ok {
		return false
	}
	if DayRange(now).Contains(due) {
		return true
	}
	return due <= now.Unix() && !task.Completed
}

type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

var weekLabels = [7]struct {
	day   Weekday
	label string
}{
	{Monday, "Mon"},
	{Tuesday, "Tue"},
	{Wednesday, "Wed"},
	{Thursday, "Thu"},
	{Friday, "Fri"},
	{Saturday, "Sat"},
	{Sunday, "Sun"},
}

// WeekDay is one column of the weekly view.
type WeekDay struct {
	Day   Weekday   `json:"day"`
	Label string    `json:"label"`
	Date  time.Time `json:"date"`
	Range Range     `json:"range"`
}

// mondayOffset is the number of days since the most recent Monday.
func mondayOffset(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// WeekRanges returns Monday through Sunday of the week containing anchor.
func WeekRanges(anchor time.Time) [7]WeekDay {
	monday := StartOfDay(anchor).AddDate(0, 0, -mondayOffset(anchor))
	var out [7]WeekDay
	for i, wl := range weekLabels {
		d := monday.AddDate(0, 0, i)
		out[i] = WeekDay{
			Day:   wl.day,
			Label: wl.label,
			Date:  d,
			Range: DayRange(d),
		}
	}
	return out
}

// BucketByRange returns the tasks whose due time falls inside r. Tasks
// without a due time belong to no date bucket.
func BucketByRange(tasks []model.Task, r Range) []model.Task {
	out := make([]model.Task, 0)
	for _, t := range tasks {
		due, ok := t.DueUnix()
		if ok && r.Contains(due) {
			out = append(out, t)
		}
	}
	return out
}

// SortForDisplay orders a bucket for rendering: incomplete tasks first, then
// within each partition by due time descending. Tasks with no due time go
// last in their partition. The input is not modified.
func SortForDisplay(tasks []model.Task) []model.Task {
	out := slices.Clone(tasks)
	slices.SortStableFunc(out, compareForDisplay)
	return out
}

func compareForDisplay(a, b model.Task) int {
	if a.Completed != b.Completed {
		if !a.Completed {
			return -1
		}
		return 1
	}
	da, okA := a.DueUnix()
	db, okB := b.DueUnix()
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return 1
	case !okB:
		return -1
	case da > db:
		return -1
	case da < db:
		return 1
	default:
		return 0
	}
}

// Today returns the Today view bucket, sorted for display.
func Today(tasks []model.Task, now time.Time) []model.Task {
	out := make([]model.Task, 0)
	for _, t := range tasks {
		if IsTodayOrOverdue(t, now) {
			out = append(out, t)
		}
	}
	return SortForDisplay(out)
}

// DayBucket is a weekly column with its tasks and a count-based progress.
type DayBucket struct {
	WeekDay
	Tasks     []model.Task `json:"tasks"`
	Completed int          `json:"completed"`
	Total     int          `json:"total"`
	Percent   int          `json:"percent"`
}

// Week buckets tasks into the seven days of anchor's week.
func Week(tasks []model.Task, anchor time.Time) [7]DayBucket {
	var out [7]DayBucket
	for i, wd := range WeekRanges(anchor) {
		dayTasks := SortForDisplay(BucketByRange(tasks, wd.Range))
		done := 0
		for _, t := range dayTasks {
			if t.Completed {
				done++
			}
		}
		pct := 0
		if len(dayTasks) > 0 {
			pct = int(math.Round(float64(done) / float64(len(dayTasks)) * 100))
		}
		out[i] = DayBucket{
			WeekDay:   wd,
			Tasks:     dayTasks,
			Completed: done,
			Total:     len(dayTasks),
			Percent:   pct,
		}
	}
	return out
}

// ByCreatedRange returns tasks created within [start, end].
func ByCreatedRange(tasks []model.Task, start, end time.Time) []model.Task {
	out := make([]model.Task, 0)
	for _, t := range tasks {
		if t.CreatedAt.IsZero() {
			continue
		}
		if !t.CreatedAt.Before(start) && !t.CreatedAt.After(end) {
			out = append(out, t)
		}
	}
	return out
}
