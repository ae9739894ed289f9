package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type TaskID = string

// ErrTaskNotFound is the one sentinel for an unknown task id, whichever layer
// reports it.
var ErrTaskNotFound = errors.New("task not found")

// ActionRef is an opaque action id. This package never interprets it.
type ActionRef string

type Task struct {
	ID             TaskID
	Name           string
	Value          float64
	Completed      bool
	Auto           bool
	Actions        []ActionRef
	Children       []Task // one level deep; children never carry children
	CreatedAt      time.Time
	DueTo          *time.Time
	Reminder       *time.Time
	PeriodicRuleID *string
}

// TaskData is the create/update payload sent to the backend.
type TaskData struct {
	ID             *TaskID
	Name           string
	Value          *float64
	Completed      *bool // nil leaves the stored flag alone on update
	Auto           *bool
	ParentID       *TaskID
	PeriodicRuleID *string
	Actions        []ActionRef
	CreatedAt      *time.Time
	DueTo          *time.Time
	Reminder       *time.Time
}

// DueUnix returns due_to in Unix seconds.
func (t Task) DueUnix() (int64, bool) {
	if t.DueTo == nil {
		return 0, false
	}
	return t.DueTo.Unix(), true
}

func (t Task) HasPeriodicRule() bool {
	return t.PeriodicRuleID != nil && strings.TrimSpace(*t.PeriodicRuleID) != ""
}

// Clone returns a deep copy, children included.
func (t Task) Clone() Task {
	out := t
	if t.Actions != nil {
		out.Actions = append([]ActionRef(nil), t.Actions...)
	}
	if t.Children != nil {
		out.Children = make([]Task, len(t.Children))
		for i, c := range t.Children {
			out.Children[i] = c.Clone()
		}
	}
	out.DueTo = cloneTime(t.DueTo)
	out.Reminder = cloneTime(t.Reminder)
	if t.PeriodicRuleID != nil {
		v := *t.PeriodicRuleID
		out.PeriodicRuleID = &v
	}
	return out
}

// CloneTasks deep-copies a task list.
func CloneTasks(in []Task) []Task {
	if in == nil {
		return nil
	}
	out := make([]Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}

// DataFromTask builds the payload that reproduces t's editable fields.
func DataFromTask(t Task) TaskData {
	v := t.Value
	id := t.ID
	created := t.CreatedAt
	completed, auto := t.Completed, t.Auto
	d := TaskData{
		ID:             &id,
		Name:           t.Name,
		Value:          &v,
		Completed:      &completed,
		Auto:           &auto,
		PeriodicRuleID: t.PeriodicRuleID,
		Actions:        append([]ActionRef(nil), t.Actions...),
		DueTo:          cloneTime(t.DueTo),
		Reminder:       cloneTime(t.Reminder),
	}
	if !created.IsZero() {
		d.CreatedAt = &created
	}
	return d
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// WireLayout is the local date-time layout the backend speaks.
const WireLayout = "2006-01-02 15:04:05"

// FormatTime renders t in the wire layout, in local time.
func FormatTime(t time.Time) string {
	return t.In(time.Local).Format(WireLayout)
}

// ParseTime accepts the wire layout (local time) or RFC 3339.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.ParseInLocation(WireLayout, s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(time.Local), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: want %q or RFC 3339", s, WireLayout)
}

func formatOpt(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

func parseOpt(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := ParseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type taskWire struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Value     *float64    `json:"value,omitempty"`
	Completed bool        `json:"completed"`
	Auto      bool        `json:"auto"`
	Actions   []ActionRef `json:"actions,omitempty"`
	Children  []Task      `json:"children,omitempty"`
	CreatedAt string      `json:"created_at"`
	DueTo     *string     `json:"due_to,omitempty"`
	Reminder  *string     `json:"reminder,omitempty"`
	Periodic  *string     `json:"periodic,omitempty"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	v := t.Value
	w := taskWire{
		ID:        t.ID,
		Name:      t.Name,
		Value:     &v,
		Completed: t.Completed,
		Auto:      t.Auto,
		Actions:   t.Actions,
		Children:  t.Children,
		DueTo:     formatOpt(t.DueTo),
		Reminder:  formatOpt(t.Reminder),
		Periodic:  t.PeriodicRuleID,
	}
	if !t.CreatedAt.IsZero() {
		w.CreatedAt = FormatTime(t.CreatedAt)
	}
	return json.Marshal(w)
}

func (t *Task) UnmarshalJSON(b []byte) error {
	var w taskWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Task{
		ID:             w.ID,
		Name:           w.Name,
		Completed:      w.Completed,
		Auto:           w.Auto,
		Actions:        w.Actions,
		Children:       w.Children,
		PeriodicRuleID: w.Periodic,
	}
	if w.Value != nil {
		out.Value = *w.Value
	}
	if strings.TrimSpace(w.CreatedAt) != "" {
		c, err := ParseTime(w.CreatedAt)
		if err != nil {
			return fmt.Errorf("task %s created_at: %w", w.ID, err)
		}
		out.CreatedAt = c
	}
	var err error
	if out.DueTo, err = parseOpt(w.DueTo); err != nil {
		return fmt.Errorf("task %s due_to: %w", w.ID, err)
	}
	if out.Reminder, err = parseOpt(w.Reminder); err != nil {
		return fmt.Errorf("task %s reminder: %w", w.ID, err)
	}
	*t = out
	return nil
}

type taskDataWire struct {
	ID        *string     `json:"id,omitempty"`
	Name      string      `json:"name"`
	Value     *float64    `json:"value,omitempty"`
	Completed *bool       `json:"completed,omitempty"`
	Auto      *bool       `json:"auto,omitempty"`
	ParentID  *string     `json:"parent_id,omitempty"`
	Periodic  *string     `json:"periodic,omitempty"`
	Actions   []ActionRef `json:"actions"`
	CreatedAt *string     `json:"created_at,omitempty"`
	DueTo     *string     `json:"due_to,omitempty"`
	Reminder  *string     `json:"reminder,omitempty"`
}

func (d TaskData) MarshalJSON() ([]byte, error) {
	actions := d.Actions
	if actions == nil {
		actions = []ActionRef{}
	}
	return json.Marshal(taskDataWire{
		ID:        d.ID,
		Name:      d.Name,
		Value:     d.Value,
		Completed: d.Completed,
		Auto:      d.Auto,
		ParentID:  d.ParentID,
		Periodic:  d.PeriodicRuleID,
		Actions:   actions,
		CreatedAt: formatOpt(d.CreatedAt),
		DueTo:     formatOpt(d.DueTo),
		Reminder:  formatOpt(d.Reminder),
	})
}

func (d *TaskData) UnmarshalJSON(b []byte) error {
	var w taskDataWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := TaskData{
		ID:             w.ID,
		Name:           w.Name,
		Value:          w.Value,
		Completed:      w.Completed,
		Auto:           w.Auto,
		ParentID:       w.ParentID,
		PeriodicRuleID: w.Periodic,
		Actions:        w.Actions,
	}
	var err error
	if out.CreatedAt, err = parseOpt(w.CreatedAt); err != nil {
		return fmt.Errorf("created_at: %w", err)
	}
	if out.DueTo, err = parseOpt(w.DueTo); err != nil {
		return fmt.Errorf("due_to: %w", err)
	}
	if out.Reminder, err = parseOpt(w.Reminder); err != nil {
		return fmt.Errorf("reminder: %w", err)
	}
	*d = out
	return nil
}
