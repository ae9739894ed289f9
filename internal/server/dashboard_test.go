package server

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoak3n/ducker/internal/calendar"
	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/progress"
)

func TestDashboardPage_Render(t *testing.T) {
	now := time.Date(2024, 6, 10, 15, 0, 0, 0, time.Local)
	past := now.Add(-2 * time.Hour)
	later := now.Add(2 * time.Hour)
	tasks := []model.Task{
		{ID: "late", Name: "Pay <bills>", Value: 2, DueTo: &past},
		{ID: "done", Name: "Stretch", Value: 1, Completed: true, DueTo: &later,
			Children: []model.Task{{ID: "kid", Name: "Warm up", DueTo: &later}}},
	}
	today := calendar.Today(tasks, now)

	var buf bytes.Buffer
	err := DashboardPage(today, calendar.Week(tasks, now), progress.Aggregate(today), now).Render(context.Background(), &buf)
	require.NoError(t, err)
	html := buf.String()

	assert.Contains(t, html, `<li class="overdue" data-id="late">`)
	assert.Contains(t, html, `Pay &lt;bills&gt;`)
	assert.NotContains(t, html, "<bills>")
	assert.Contains(t, html, `data-id="kid"`)
	assert.Contains(t, html, "Monday, 10 June 2024")
	assert.Equal(t, 7, bytes.Count(buf.Bytes(), []byte(`<section class="day">`)))
}

func TestItemClass(t *testing.T) {
	now := time.Date(2024, 6, 10, 15, 0, 0, 0, time.Local)
	past := now.Add(-time.Minute)
	assert.Equal(t, "completed", itemClass(model.Task{Completed: true, DueTo: &past}, now))
	assert.Equal(t, "overdue", itemClass(model.Task{DueTo: &past}, now))
	assert.Equal(t, "", itemClass(model.Task{}, now))
}
