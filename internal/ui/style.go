package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Yoak3n/ducker/internal/calendar"
	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/progress"
)

var (
	Bold       = color.New(color.Bold).SprintFunc()
	Dim        = color.New(color.Faint).SprintFunc()
	Cyan       = color.New(color.FgCyan).SprintFunc()
	Green      = color.New(color.FgGreen).SprintFunc()
	Red        = color.New(color.FgRed).SprintFunc()
	Yellow     = color.New(color.FgYellow).SprintFunc()
	BoldCyan   = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen  = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldYellow = color.New(color.Bold, color.FgYellow).SprintFunc()
)

// CheckBox renders the completion marker of a task.
func CheckBox(completed bool) string {
	if completed {
		return Green("[x]")
	}
	return Dim("[ ]")
}

// Due renders a due time relative to now: overdue in red, today as a clock
// time, other days with their date.
func Due(t model.Task, now time.Time) string {
	if t.DueTo == nil {
		return ""
	}
	due := t.DueTo.In(now.Location())
	label := due.Format("Jan 2 15:04")
	if calendar.SameDay(due, now) {
		label = due.Format("15:04")
	}
	switch {
	case t.Completed:
		return Dim(label)
	case due.Before(now):
		return Red(label + " overdue")
	default:
		return Yellow(label)
	}
}

// TaskLine is a one-line summary of t.
func TaskLine(t model.Task, now time.Time) string {
	parts := []string{CheckBox(t.Completed), Bold(t.Name)}
	if d := Due(t, now); d != "" {
		parts = append(parts, d)
	}
	if t.Value != 0 {
		parts = append(parts, Cyan(fmt.Sprintf("%g pts", t.Value)))
	}
	if t.HasPeriodicRule() {
		parts = append(parts, Dim("(periodic)"))
	}
	parts = append(parts, Dim(t.ID))
	return strings.Join(parts, " ")
}

// ProgressBar draws pct (0..100) as a bar of the given width.
func ProgressBar(pct float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(pct / 100 * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return Green(strings.Repeat("#", filled)) + Dim(strings.Repeat(".", width-filled))
}

// TaskList prints tasks with their direct children indented below them.
func TaskList(w io.Writer, tasks []model.Task, now time.Time) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, Dim("  nothing here"))
		return
	}
	for _, t := range tasks {
		fmt.Fprintln(w, "  "+TaskLine(t, now))
		for _, c := range t.Children {
			fmt.Fprintln(w, "      "+TaskLine(c, now))
		}
	}
}

// Today prints the Today view with its value progress.
func Today(w io.Writer, tasks []model.Task, sum progress.Summary, now time.Time) {
	fmt.Fprintf(w, "%s %s\n", BoldCyan("Today"), Dim(now.Format("Mon Jan 2")))
	fmt.Fprintf(w, "  %s %s\n", ProgressBar(sum.ProgressPercent, 20),
		Dim(fmt.Sprintf("%.0f%% (%g/%g)", sum.ProgressPercent, sum.CompletedValue, sum.TotalValue)))
	TaskList(w, tasks, now)
}

// Week prints one block per weekday.
func Week(w io.Writer, days [7]calendar.DayBucket, now time.Time) {
	for _, d := range days {
		head := fmt.Sprintf("%s %s", d.Label, d.Date.Format("Jan 2"))
		if calendar.SameDay(d.Date, now) {
			head = BoldYellow(head)
		} else {
			head = Bold(head)
		}
		fmt.Fprintf(w, "%s %s\n", head, Dim(fmt.Sprintf("%d/%d %d%%", d.Completed, d.Total, d.Percent)))
		if d.Total > 0 {
			TaskList(w, d.Tasks, now)
		}
	}
}

// Stats prints a task overview.
func Stats(w io.Writer, st progress.TaskStats) {
	fmt.Fprintf(w, "%s\n", BoldCyan("Stats"))
	fmt.Fprintf(w, "  total      %d\n", st.Total)
	fmt.Fprintf(w, "  completed  %s\n", Green(fmt.Sprint(st.Completed)))
	fmt.Fprintf(w, "  pending    %d\n", st.Pending)
	fmt.Fprintf(w, "  overdue    %s\n", Red(fmt.Sprint(st.Overdue)))
	fmt.Fprintf(w, "  rate       %.0f%%\n", st.CompletionRate)
	fmt.Fprintf(w, "  value      %g/%g\n", st.CompletedValue, st.TotalValue)
}

// Rules prints periodic rules.
func Rules(w io.Writer, rules []model.PeriodicTask) {
	if len(rules) == 0 {
		fmt.Fprintln(w, Dim("  no periodic rules"))
		return
	}
	for _, r := range rules {
		next := Dim("-")
		if r.NextPeriod != nil {
			next = Yellow(r.NextPeriod.Format("Jan 2 15:04"))
		}
		fmt.Fprintf(w, "  %s %s next %s %s\n", Bold(r.Name), Cyan(r.Interval.String()), next, Dim(r.ID))
	}
}
