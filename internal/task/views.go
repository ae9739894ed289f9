package task

import "github.com/Yoak3n/ducker/internal/model"

// Record is a stored task row: the task without children plus its parent
// link.
type Record struct {
	Task     model.Task `json:"task"`
	ParentID string     `json:"parent_id,omitempty"`
}

// AssembleViews turns flat rows into root views with their direct children
// attached, preserving row order. Rows whose parent is missing or is itself
// a child are promoted to roots so nothing disappears from the list.
func AssembleViews(rows []Record) []model.Task {
	roots := make(map[string]bool, len(rows))
	for _, r := range rows {
		if r.ParentID == "" {
			roots[r.Task.ID] = true
		}
	}

	children := make(map[string][]model.Task)
	var order []Record
	for _, r := range rows {
		if r.ParentID != "" && roots[r.ParentID] {
			c := r.Task.Clone()
			c.Children = nil
			children[r.ParentID] = append(children[r.ParentID], c)
			continue
		}
		order = append(order, r)
	}

	out := make([]model.Task, 0, len(order))
	for _, r := range order {
		t := r.Task.Clone()
		t.Children = children[t.ID]
		out = append(out, t)
	}
	return out
}

// FindView locates id among roots, then among each root's children.
func FindView(tasks []model.Task, id string) (model.Task, bool) {
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
