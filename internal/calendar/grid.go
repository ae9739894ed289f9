package calendar

import (
	"time"

	"github.com/Yoak3n/ducker/internal/model"
)

// BuildGrid returns the cells of a Monday-first month matrix for the month
// containing ref: filler days from the previous month, every day of the
// month, then filler days from the next month up to a multiple of seven.
// Every cell is local midnight in ref's location.
func BuildGrid(ref time.Time) []time.Time {
	y, m, _ := ref.Date()
	loc := ref.Location()
	first := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, loc)

	isoWeekday := mondayOffset(first) + 1
	leading := isoWeekday - 1

	cells := make([]time.Time, 0, 42)
	for i := leading; i > 0; i-- {
		cells = append(cells, first.AddDate(0, 0, -i))
	}
	for d := 1; d <= last.Day(); d++ {
		cells = append(cells, time.Date(y, m, d, 0, 0, 0, 0, loc))
	}
	if rem := len(cells) % 7; rem != 0 {
		for i := 1; i <= 7-rem; i++ {
			cells = append(cells, last.AddDate(0, 0, i))
		}
	}
	return cells
}

// Cell is one day of the month view.
type Cell struct {
	Date    time.Time    `json:"date"`
	InMonth bool         `json:"in_month"`
	Weekend bool         `json:"weekend"`
	Today   bool         `json:"today"`
	Tasks   []model.Task `json:"tasks"`
}

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func SameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// MonthCells builds the month view for ref and assigns each cell the tasks
// due on that day.
func MonthCells(tasks []model.Task, ref, now time.Time) []Cell {
	grid := BuildGrid(ref)
	nowLocal := now.In(ref.Location())
	out := make([]Cell, len(grid))
	for i, d := range grid {
		out[i] = Cell{
			Date:    d,
			InMonth: SameMonth(d, ref),
			Weekend: IsWeekend(d),
			Today:   SameDay(d, nowLocal),
			Tasks:   BucketByRange(tasks, DayRange(d)),
		}
	}
	return out
}
