package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Yoak3n/ducker/internal/model"
)

// DefaultDueOffset is applied to tasks created without a due time.
const DefaultDueOffset = 12 * time.Hour

type memoryRule struct {
	Rule    model.PeriodicTask `json:"rule"`
	Enabled bool               `json:"enabled"`
}

// MemoryBackend is an in-process Backend. Rows keep insertion order. When
// built with NewFileBackend every mutation is also written to disk.
type MemoryBackend struct {
	mu      sync.RWMutex
	rows    []Record
	rules   []memoryRule
	changes *Broadcaster
	now     func() time.Time
	file    *fileStore
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		changes: NewBroadcaster(8),
		now:     time.Now,
	}
}

func (b *MemoryBackend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBackend) Changes(ctx context.Context) (<-chan Change, error) {
	return b.changes.Subscribe(ctx), nil
}

func (b *MemoryBackend) publish(id string) {
	b.changes.Publish(Change{Source: "memory", TaskID: id, At: b.now()})
}

func (b *MemoryBackend) FetchAllTasks(ctx context.Context) ([]model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return AssembleViews(b.rows), nil
}

func (b *MemoryBackend) FetchEnabledPeriodicTasks(ctx context.Context) ([]model.PeriodicTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.PeriodicTask, 0, len(b.rules))
	for _, r := range b.rules {
		if r.Enabled {
			out = append(out, r.Rule)
		}
	}
	return out, nil
}

func (b *MemoryBackend) ListPeriodicTasks(ctx context.Context) ([]model.PeriodicTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.PeriodicTask, 0, len(b.rules))
	for _, r := range b.rules {
		out = append(out, r.Rule)
	}
	return out, nil
}

func (b *MemoryBackend) CreateTask(ctx context.Context, data model.TaskData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	id, err := b.createLocked(data)
	if err == nil {
		err = b.saveLocked()
	}
	b.mu.Unlock()
	if err != nil {
		return "", err
	}
	b.publish(id)
	return id, nil
}

func (b *MemoryBackend) createLocked(data model.TaskData) (string, error) {
	if strings.TrimSpace(data.Name) == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	rec := RecordFromData(data, b.now())
	if b.indexLocked(rec.Task.ID) >= 0 {
		return "", fmt.Errorf("%w: id %q already exists", ErrInvalidTask, rec.Task.ID)
	}
	if rec.ParentID != "" && b.indexLocked(rec.ParentID) < 0 {
		return "", &NotFoundError{ID: rec.ParentID}
	}
	b.rows = append(b.rows, rec)
	return rec.Task.ID, nil
}

// RecordFromData builds a new row, filling the id, creation time and due
// time defaults.
func RecordFromData(data model.TaskData, now time.Time) Record {
	t := model.Task{
		Name:           data.Name,
		Actions:        append([]model.ActionRef(nil), data.Actions...),
		PeriodicRuleID: data.PeriodicRuleID,
		Reminder:       data.Reminder,
		CreatedAt:      now,
	}
	if data.ID != nil && strings.TrimSpace(*data.ID) != "" {
		t.ID = strings.TrimSpace(*data.ID)
	} else {
		t.ID = uuid.NewString()
	}
	if data.Value != nil {
		t.Value = *data.Value
	}
	if data.Completed != nil {
		t.Completed = *data.Completed
	}
	if data.Auto != nil {
		t.Auto = *data.Auto
	}
	if data.CreatedAt != nil {
		t.CreatedAt = *data.CreatedAt
	}
	if data.DueTo != nil {
		due := *data.DueTo
		t.DueTo = &due
	} else {
		due := now.Add(DefaultDueOffset)
		t.DueTo = &due
	}
	rec := Record{Task: t}
	if data.ParentID != nil {
		rec.ParentID = strings.TrimSpace(*data.ParentID)
	}
	return rec
}

// ApplyData overwrites the editable fields of rec. Nil optional fields keep
// their stored value.
func ApplyData(rec *Record, data model.TaskData) {
	t := &rec.Task
	if strings.TrimSpace(data.Name) != "" {
		t.Name = data.Name
	}
	if data.Value != nil {
		t.Value = *data.Value
	}
	if data.Completed != nil {
		t.Completed = *data.Completed
	}
	if data.Auto != nil {
		t.Auto = *data.Auto
	}
	if data.Actions != nil {
		t.Actions = append([]model.ActionRef(nil), data.Actions...)
	}
	if data.PeriodicRuleID != nil {
		if strings.TrimSpace(*data.PeriodicRuleID) == "" {
			t.PeriodicRuleID = nil
		} else {
			v := *data.PeriodicRuleID
			t.PeriodicRuleID = &v
		}
	}
	if data.DueTo != nil {
		v := *data.DueTo
		t.DueTo = &v
	}
	if data.Reminder != nil {
		v := *data.Reminder
		t.Reminder = &v
	}
	if data.ParentID != nil {
		rec.ParentID = strings.TrimSpace(*data.ParentID)
	}
}

func (b *MemoryBackend) UpdateTask(ctx context.Context, id string, data model.TaskData) (model.Task, error) {
	if err := ctx.Err(); err != nil {
		return model.Task{}, err
	}
	b.mu.Lock()
	i := b.indexLocked(id)
	if i < 0 {
		b.mu.Unlock()
		return model.Task{}, &NotFoundError{ID: id}
	}
	ApplyData(&b.rows[i], data)
	if err := b.saveLocked(); err != nil {
		b.mu.Unlock()
		return model.Task{}, err
	}
	view := b.viewLocked(id)
	b.mu.Unlock()

	b.publish(id)
	return view, nil
}

// DeleteTask removes the task, its children and the periodic rule it links
// to.
func (b *MemoryBackend) DeleteTask(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	i := b.indexLocked(id)
	if i < 0 {
		b.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	if rule := b.rows[i].Task.PeriodicRuleID; rule != nil {
		b.deleteRuleLocked(*rule)
	}
	kept := b.rows[:0]
	for _, r := range b.rows {
		if r.Task.ID == id || r.ParentID == id {
			continue
		}
		kept = append(kept, r)
	}
	b.rows = kept
	err := b.saveLocked()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.publish(id)
	return nil
}

func (b *MemoryBackend) SetTaskCompletion(ctx context.Context, id string, completed bool) (model.Task, error) {
	if err := ctx.Err(); err != nil {
		return model.Task{}, err
	}
	b.mu.Lock()
	i := b.indexLocked(id)
	if i < 0 {
		b.mu.Unlock()
		return model.Task{}, &NotFoundError{ID: id}
	}
	b.rows[i].Task.Completed = completed
	if err := b.saveLocked(); err != nil {
		b.mu.Unlock()
		return model.Task{}, err
	}
	view := b.viewLocked(id)
	b.mu.Unlock()

	b.publish(id)
	return view, nil
}

// CreatePeriodicTask stores the template task and a rule sharing its id, and
// links the two.
func (b *MemoryBackend) CreatePeriodicTask(ctx context.Context, data model.PeriodicTaskData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := model.ParseInterval(int(data.Interval)); err != nil {
		return "", err
	}

	b.mu.Lock()
	rule, err := b.createPeriodicLocked(data)
	if err == nil {
		err = b.saveLocked()
	}
	b.mu.Unlock()
	if err != nil {
		return "", err
	}
	b.publish(rule.ID)
	return rule.ID, nil
}

func (b *MemoryBackend) createPeriodicLocked(data model.PeriodicTaskData) (model.PeriodicTask, error) {
	tmpl := data.Task
	if tmpl.ID == nil || strings.TrimSpace(*tmpl.ID) == "" {
		id := uuid.NewString()
		tmpl.ID = &id
	}
	if strings.TrimSpace(tmpl.Name) == "" {
		tmpl.Name = data.Name
	}
	link := *tmpl.ID
	tmpl.PeriodicRuleID = &link

	id, err := b.createLocked(tmpl)
	if err != nil {
		return model.PeriodicTask{}, err
	}
	rec := b.rows[b.indexLocked(id)]
	rule := NewPeriodicRule(id, data, rec.Task)
	b.rules = append(b.rules, memoryRule{Rule: rule, Enabled: true})
	return rule, nil
}

// NewPeriodicRule derives the rule stored for a freshly created template
// task. The first period is scheduled one interval after the task's due
// time; startup triggers get no next period.
func NewPeriodicRule(id string, data model.PeriodicTaskData, tmpl model.Task) model.PeriodicTask {
	rule := model.PeriodicTask{
		ID:           id,
		Name:         data.Name,
		Interval:     data.Interval,
		TaskTemplate: model.DataFromTask(tmpl),
	}
	if strings.TrimSpace(rule.Name) == "" {
		rule.Name = tmpl.Name
	}
	if tmpl.DueTo != nil {
		if next, ok := data.Interval.NextPeriod(*tmpl.DueTo); ok {
			rule.NextPeriod = &next
		}
	}
	return rule
}

func (b *MemoryBackend) SetPeriodicTaskEnabled(ctx context.Context, id string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	found := false
	for i := range b.rules {
		if b.rules[i].Rule.ID == id {
			b.rules[i].Enabled = enabled
			found = true
			break
		}
	}
	var err error
	if found {
		err = b.saveLocked()
	}
	b.mu.Unlock()
	if !found {
		return &NotFoundError{ID: id}
	}
	if err != nil {
		return err
	}
	b.publish(id)
	return nil
}

func (b *MemoryBackend) deleteRuleLocked(id string) {
	kept := b.rules[:0]
	for _, r := range b.rules {
		if r.Rule.ID != id {
			kept = append(kept, r)
		}
	}
	b.rules = kept
}

func (b *MemoryBackend) indexLocked(id string) int {
	for i, r := range b.rows {
		if r.Task.ID == id {
			return i
		}
	}
	return -1
}

func (b *MemoryBackend) viewLocked(id string) model.Task {
	t, _ := FindView(AssembleViews(b.rows), id)
	return t
}

func (b *MemoryBackend) saveLocked() error {
	if b.file == nil {
		return nil
	}
	return b.file.save(memoryState{Tasks: b.rows, Rules: b.rules})
}
