package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/Yoak3n/ducker/internal/model"
)

const icsStampLayout = "20060102T150405Z"

// BuildICS exports every task that has a due time as a VEVENT, children
// included. Tasks linked to a schedulable periodic rule carry an RRULE. Tasks
// without a due time are skipped.
func BuildICS(tasks []model.Task, rules []model.PeriodicTask, now time.Time) (string, error) {
	byID := make(map[string]model.PeriodicInterval, len(rules))
	for _, r := range rules {
		byID[r.ID] = r.Interval
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Ducker//Task Export//EN",
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
	}
	stamp := now.UTC().Format(icsStampLayout)

	for _, t := range flatten(tasks) {
		if t.DueTo == nil {
			continue
		}
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return "", fmt.Errorf("task %q has no id", t.Name)
		}
		title := strings.TrimSpace(t.Name)
		if title == "" {
			title = "Ducker Task"
		}
		due := t.DueTo.UTC()

		lines = append(lines,
			"BEGIN:VEVENT",
			"UID:"+escapeICSText(fmt.Sprintf("task-%s@ducker", id)),
			"DTSTAMP:"+stamp,
			"SUMMARY:"+escapeICSText(title),
			"DTSTART:"+due.Format(icsStampLayout),
			"DTEND:"+due.Add(30*time.Minute).Format(icsStampLayout),
		)
		if t.Completed {
			lines = append(lines, "STATUS:COMPLETED")
		}
		if t.PeriodicRuleID != nil {
			if rrule := intervalToRRULE(byID[*t.PeriodicRuleID]); rrule != "" {
				lines = append(lines, "RRULE:"+rrule)
			}
		}
		lines = append(lines, "END:VEVENT")
	}

	lines = append(lines, "END:VCALENDAR", "")
	return strings.Join(lines, "\r\n"), nil
}

// flatten lists each root followed by its direct children.
func flatten(tasks []model.Task) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t)
		out = append(out, t.Children...)
	}
	return out
}

func intervalToRRULE(p model.PeriodicInterval) string {
	switch p {
	case model.Daily:
		return "FREQ=DAILY;INTERVAL=1"
	case model.Weekly:
		return "FREQ=WEEKLY;INTERVAL=1"
	case model.Monthly:
		return "FREQ=MONTHLY;INTERVAL=1"
	default:
		return ""
	}
}

func escapeICSText(s string) string {
	repl := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\r\n", "\\n",
		"\n", "\\n",
		"\r", "\\n",
	)
	return repl.Replace(s)
}
