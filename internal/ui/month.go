package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Yoak3n/ducker/internal/calendar"
)

const cellWidth = 12

var (
	monthTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)
	dayHeader = lipgloss.NewStyle().
			Bold(true).
			Width(cellWidth).
			Align(lipgloss.Center)
	cellStyle = lipgloss.NewStyle().
			Width(cellWidth).
			Height(3).
			Border(lipgloss.NormalBorder(), false, true, true, false).
			BorderForeground(lipgloss.Color("240"))
	outsideCell = cellStyle.Foreground(lipgloss.Color("243"))
	weekendCell = cellStyle.Foreground(lipgloss.Color("110"))
	todayCell   = cellStyle.Bold(true).Foreground(lipgloss.Color("214"))
)

var weekHeader = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Month renders the month grid of ref as a table of cells, each showing the
// day number and how many of its tasks are done.
func Month(cells []calendar.Cell, ref time.Time) string {
	var rows []string

	heads := make([]string, len(weekHeader))
	for i, h := range weekHeader {
		heads[i] = dayHeader.Render(h)
	}
	rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, heads...))

	for start := 0; start+7 <= len(cells); start += 7 {
		week := make([]string, 7)
		for i, c := range cells[start : start+7] {
			week[i] = renderCell(c)
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, week...))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		monthTitle.Render(ref.Format("January 2006")),
		lipgloss.JoinVertical(lipgloss.Left, rows...),
	)
}

func renderCell(c calendar.Cell) string {
	style := cellStyle
	switch {
	case c.Today:
		style = todayCell
	case !c.InMonth:
		style = outsideCell
	case c.Weekend:
		style = weekendCell
	}

	lines := []string{fmt.Sprintf("%2d", c.Date.Day())}
	if n := len(c.Tasks); n > 0 {
		done := 0
		for _, t := range c.Tasks {
			if t.Completed {
				done++
			}
		}
		lines = append(lines, fmt.Sprintf("%d/%d done", done, n))
		first := c.Tasks[0].Name
		if r := []rune(first); len(r) > cellWidth-1 {
			first = string(r[:cellWidth-2]) + "…"
		}
		lines = append(lines, first)
	}
	return style.Render(strings.Join(lines, "\n"))
}
