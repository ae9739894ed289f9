package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/Yoak3n/ducker/internal/model"
)

// Summary is the value-weighted completion of a task list.
type Summary struct {
	CompletedValue  float64 `json:"completed_value"`
	TotalValue      float64 `json:"total_value"`
	ProgressPercent float64 `json:"progress_percent"`
}

// Aggregate sums value over each root task and its direct children.
// Grandchildren are not visited.
func Aggregate(tasks []model.Task) Summary {
	var s Summary
	add := func(t model.Task) {
		s.TotalValue += t.Value
		if t.Completed {
			s.CompletedValue += t.Value
		}
	}
	for _, root := range tasks {
		add(root)
		for _, child := range root.Children {
			add(child)
		}
	}
	if s.TotalValue > 0 {
		s.ProgressPercent = s.CompletedValue / s.TotalValue * 100
	}
	return s
}

// Toggler flips the completion state of a task by id.
type Toggler interface {
	ToggleCompletion(ctx context.Context, id string) error
}

// Locate finds id among the roots first, then among each root's direct
// children.
func Locate(id string, tasks []model.Task) (model.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	for _, t := range tasks {
		for _, c := range t.Children {
			if c.ID == id {
				return c, true
			}
		}
	}
	return model.Task{}, false
}

// Toggle resolves id against the displayed tasks and dispatches the toggle.
// It returns the id that was toggled.
func Toggle(ctx context.Context, toggler Toggler, id string, tasks []model.Task) (string, error) {
	t, ok := Locate(id, tasks)
	if !ok {
		return "", fmt.Errorf("%w: %s not in view", model.ErrTaskNotFound, id)
	}
	if err := toggler.ToggleCompletion(ctx, t.ID); err != nil {
		return "", err
	}
	return t.ID, nil
}

// TaskStats is a count-based overview of a task list.
type TaskStats struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Pending        int     `json:"pending"`
	Overdue        int     `json:"overdue"`
	CompletionRate float64 `json:"completion_rate"`
	TotalValue     float64 `json:"total_value"`
	CompletedValue float64 `json:"completed_value"`
}

// Stats counts root tasks. Overdue means incomplete with a due time before
// now. Value totals include direct children, like Aggregate.
func Stats(tasks []model.Task, now time.Time) TaskStats {
	var st TaskStats
	for _, t := range tasks {
		st.Total++
		if t.Completed {
			st.Completed++
			continue
		}
		if t.DueTo != nil && t.DueTo.Before(now) {
			st.Overdue++
		}
	}
	st.Pending = st.Total - st.Completed
	if st.Total > 0 {
		st.CompletionRate = float64(st.Completed) / float64(st.Total) * 100
	}
	sum := Aggregate(tasks)
	st.TotalValue = sum.TotalValue
	st.CompletedValue = sum.CompletedValue
	return st
}
