package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoak3n/ducker/internal/model"
)

func TestMemoryBackend_CreateRequiresName(t *testing.T) {
	b := newBackend(t)
	_, err := b.CreateTask(context.Background(), model.TaskData{})
	assert.ErrorIs(t, err, ErrInvalidTask)

	mustCreate(t, b, model.TaskData{ID: ptr("a"), Name: "a"})
	_, err = b.CreateTask(context.Background(), model.TaskData{ID: ptr("a"), Name: "again"})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = b.CreateTask(context.Background(), model.TaskData{Name: "kid", ParentID: ptr("nobody")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackend_UpdateKeepsUnsetFields(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	due := fixedNow.Add(time.Hour)
	mustCreate(t, b, model.TaskData{ID: ptr("a"), Name: "a", Value: ptr(2.0), DueTo: &due, PeriodicRuleID: ptr("r")})

	got, err := b.UpdateTask(ctx, "a", model.TaskData{Completed: ptr(true), Auto: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, 2.0, got.Value)
	assert.True(t, got.Completed)
	assert.True(t, got.Auto)
	require.NotNil(t, got.PeriodicRuleID)

	got, err = b.UpdateTask(ctx, "a", model.TaskData{Value: ptr(4.0)})
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.Value)
	assert.True(t, got.Completed, "nil completed keeps the stored flag")
	assert.True(t, got.Auto)

	got, err = b.UpdateTask(ctx, "a", model.TaskData{PeriodicRuleID: ptr("")})
	require.NoError(t, err)
	assert.Nil(t, got.PeriodicRuleID)

	_, err = b.UpdateTask(ctx, "zzz", model.TaskData{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackend_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	ruleID, err := b.CreatePeriodicTask(ctx, model.PeriodicTaskData{
		Name: "weekly review", Interval: model.Weekly,
		Task: model.TaskData{Name: "review"},
	})
	require.NoError(t, err)
	mustCreate(t, b, model.TaskData{ID: ptr("kid"), Name: "kid", ParentID: ptr(ruleID)})
	mustCreate(t, b, model.TaskData{ID: ptr("other"), Name: "other"})

	rules, err := b.ListPeriodicTasks(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	require.NoError(t, b.DeleteTask(ctx, ruleID))

	tasks, err := b.FetchAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "other", tasks[0].ID)

	rules, err = b.ListPeriodicTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)

	assert.ErrorIs(t, b.DeleteTask(ctx, ruleID), ErrNotFound)
}

func TestMemoryBackend_PeriodicRules(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	due := time.Date(2024, 1, 31, 9, 0, 0, 0, time.Local)

	id, err := b.CreatePeriodicTask(ctx, model.PeriodicTaskData{
		Name: "rent", Interval: model.Monthly,
		Task: model.TaskData{Name: "pay rent", DueTo: &due},
	})
	require.NoError(t, err)

	rules, err := b.FetchEnabledPeriodicTasks(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	rule := rules[0]
	assert.Equal(t, id, rule.ID)
	assert.Equal(t, "rent", rule.Name)
	require.NotNil(t, rule.NextPeriod)
	assert.Equal(t, time.Date(2024, 3, 2, 9, 0, 0, 0, time.Local), *rule.NextPeriod)

	tasks, err := b.FetchAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].PeriodicRuleID)
	assert.Equal(t, id, *tasks[0].PeriodicRuleID)

	require.NoError(t, b.SetPeriodicTaskEnabled(ctx, id, false))
	rules, err = b.FetchEnabledPeriodicTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
	all, err := b.ListPeriodicTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, b.SetPeriodicTaskEnabled(ctx, "nope", true), ErrNotFound)

	_, err = b.CreatePeriodicTask(ctx, model.PeriodicTaskData{Name: "bad", Interval: model.PeriodicInterval(3)})
	assert.ErrorIs(t, err, model.ErrInvalidInterval)
}

func TestMemoryBackend_StartupRuleHasNoNextPeriod(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	_, err := b.CreatePeriodicTask(ctx, model.PeriodicTaskData{
		Name: "boot", Interval: model.OnceStarted,
		Task: model.TaskData{Name: "open editor"},
	})
	require.NoError(t, err)

	rules, err := b.FetchEnabledPeriodicTasks(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Nil(t, rules[0].NextPeriod)
}

func TestAssembleViews(t *testing.T) {
	rows := []Record{
		{Task: model.Task{ID: "a"}},
		{Task: model.Task{ID: "a1"}, ParentID: "a"},
		{Task: model.Task{ID: "a1x"}, ParentID: "a1"},
		{Task: model.Task{ID: "lost"}, ParentID: "gone"},
		{Task: model.Task{ID: "a2"}, ParentID: "a"},
	}
	views := AssembleViews(rows)

	ids := []string{}
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"a", "a1x", "lost"}, ids)
	require.Len(t, views[0].Children, 2)
	assert.Equal(t, "a1", views[0].Children[0].ID)
	assert.Equal(t, "a2", views[0].Children[1].ID)

	c, ok := FindView(views, "a2")
	require.True(t, ok)
	assert.Equal(t, "a2", c.ID)
}

func TestFileBackend_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	due := time.Date(2024, 6, 10, 18, 0, 0, 0, time.Local)
	id := mustCreate(t, b, model.TaskData{Name: "persist me", Value: ptr(3.0), DueTo: &due})
	mustCreate(t, b, model.TaskData{Name: "child", ParentID: ptr(id)})
	_, err = b.CreatePeriodicTask(ctx, model.PeriodicTaskData{
		Name: "daily", Interval: model.Daily, Task: model.TaskData{Name: "daily"},
	})
	require.NoError(t, err)
	_, err = b.SetTaskCompletion(ctx, id, true)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "tasks.json"))
	require.NoError(t, err)

	reopened, err := NewFileBackend(dir)
	require.NoError(t, err)
	tasks, err := reopened.FetchAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "persist me", tasks[0].Name)
	assert.True(t, tasks[0].Completed)
	assert.Equal(t, 3.0, tasks[0].Value)
	require.NotNil(t, tasks[0].DueTo)
	assert.True(t, due.Equal(*tasks[0].DueTo))
	require.Len(t, tasks[0].Children, 1)

	rules, err := reopened.FetchEnabledPeriodicTasks(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.Daily, rules[0].Interval)
}

func TestBroadcaster_SubscribeAndClose(t *testing.T) {
	br := NewBroadcaster(1)
	ctx, cancel := context.WithCancel(context.Background())

	ch := br.Subscribe(ctx)
	br.Publish(Change{TaskID: "1"})
	br.Publish(Change{TaskID: "2"}) // dropped, buffer full

	got := <-ch
	assert.Equal(t, "1", got.TaskID)

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, br.Len())
}

func TestMerge_ForwardsFromAllSources(t *testing.T) {
	a, b := newBackend(t), newBackend(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := Merge(a, b).Changes(ctx)
	require.NoError(t, err)

	mustCreate(t, a, model.TaskData{ID: ptr("from-a"), Name: "a"})
	mustCreate(t, b, model.TaskData{ID: ptr("from-b"), Name: "b"})

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case c := <-ch:
			seen[c.TaskID] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only saw %v", seen)
		}
	}
	assert.True(t, seen["from-a"])
	assert.True(t, seen["from-b"])

	cancel()
	for range ch {
	}
}

func TestFromChannel_NoChangeIsLost(t *testing.T) {
	b := newBackend(t)
	repo := New(b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Changes(ctx)
	require.NoError(t, err)
	mustCreate(t, b, model.TaskData{ID: ptr("early"), Name: "before watch"})

	done := make(chan error, 1)
	go func() { done <- repo.Watch(ctx, FromChannel(ch)) }()

	require.Eventually(t, func() bool {
		_, ok := repo.Get("early")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
