package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/task"
)

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2024, 6, 10, 15, 0, 0, 0, time.Local)

func openTest(t *testing.T) *SQLiteBackend {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	s.SetClock(func() time.Time { return fixedNow })
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_CreateAndFetch(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	due := time.Date(2024, 6, 10, 18, 0, 0, 0, time.Local)
	id, err := s.CreateTask(ctx, model.TaskData{
		Name: "write report", Value: ptr(5.0), DueTo: &due,
		Actions: []model.ActionRef{"open-editor"},
	})
	require.NoError(t, err)
	kid, err := s.CreateTask(ctx, model.TaskData{Name: "outline", Value: ptr(3.0), ParentID: &id})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.TaskData{Name: "no due"})
	require.NoError(t, err)

	tasks, err := s.FetchAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	root := tasks[0]
	assert.Equal(t, id, root.ID)
	assert.Equal(t, 5.0, root.Value)
	assert.Equal(t, []model.ActionRef{"open-editor"}, root.Actions)
	assert.True(t, due.Equal(*root.DueTo))
	assert.Equal(t, fixedNow.Unix(), root.CreatedAt.Unix())
	require.Len(t, root.Children, 1)
	assert.Equal(t, kid, root.Children[0].ID)

	require.NotNil(t, tasks[1].DueTo)
	assert.Equal(t, fixedNow.Add(task.DefaultDueOffset).Unix(), tasks[1].DueTo.Unix())
}

func TestSQLite_CreateValidation(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.CreateTask(ctx, model.TaskData{})
	assert.ErrorIs(t, err, task.ErrInvalidTask)

	_, err = s.CreateTask(ctx, model.TaskData{ID: ptr("dup"), Name: "a"})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.TaskData{ID: ptr("dup"), Name: "b"})
	assert.ErrorIs(t, err, task.ErrInvalidTask)

	_, err = s.CreateTask(ctx, model.TaskData{Name: "orphan", ParentID: ptr("missing")})
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestSQLite_UpdateAndCompletion(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	id, err := s.CreateTask(ctx, model.TaskData{Name: "a", Value: ptr(2.0)})
	require.NoError(t, err)

	got, err := s.UpdateTask(ctx, id, model.TaskData{Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 2.0, got.Value)

	got, err = s.SetTaskCompletion(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, got.Completed)

	_, err = s.SetTaskCompletion(ctx, "nope", true)
	assert.ErrorIs(t, err, task.ErrNotFound)
	_, err = s.UpdateTask(ctx, "nope", model.TaskData{})
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestSQLite_PeriodicRulesAndCascade(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	due := time.Date(2024, 6, 10, 9, 0, 0, 0, time.Local)
	ruleID, err := s.CreatePeriodicTask(ctx, model.PeriodicTaskData{
		Name: "standup", Interval: model.Weekly,
		Task: model.TaskData{Name: "standup", DueTo: &due},
	})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.TaskData{ID: ptr("kid"), Name: "notes", ParentID: &ruleID})
	require.NoError(t, err)

	rules, err := s.FetchEnabledPeriodicTasks(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.Weekly, rules[0].Interval)
	require.NotNil(t, rules[0].NextPeriod)
	assert.Equal(t, due.AddDate(0, 0, 7).Unix(), rules[0].NextPeriod.Unix())
	assert.Equal(t, "standup", rules[0].TaskTemplate.Name)

	tasks, err := s.FetchAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].PeriodicRuleID)
	assert.Equal(t, ruleID, *tasks[0].PeriodicRuleID)

	require.NoError(t, s.SetPeriodicTaskEnabled(ctx, ruleID, false))
	rules, err = s.FetchEnabledPeriodicTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
	all, err := s.ListPeriodicTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.ErrorIs(t, s.SetPeriodicTaskEnabled(ctx, "nope", true), task.ErrNotFound)

	require.NoError(t, s.DeleteTask(ctx, ruleID))
	tasks, err = s.FetchAllTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	all, err = s.ListPeriodicTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.ErrorIs(t, s.DeleteTask(ctx, ruleID), task.ErrNotFound)
}

func TestSQLite_DrivesRepository(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	repo := task.New(s)

	created, err := repo.Create(ctx, model.TaskData{Name: "ship it", Value: ptr(4.0)})
	require.NoError(t, err)
	require.NoError(t, repo.ToggleCompletion(ctx, created.ID))
	got, ok := repo.Get(created.ID)
	require.True(t, ok)
	assert.True(t, got.Completed)

	fresh, err := s.FetchAllTasks(ctx)
	require.NoError(t, err)
	assert.True(t, fresh[0].Completed)
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, nil)
	require.NoError(t, err)
	id, err := s.CreateTask(ctx, model.TaskData{Name: "durable"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()
	tasks, err := s.FetchAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
}

func TestFileWatcher_ReportsWrites(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, DBFile)
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	w := NewFileWatcher(path, nil)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := w.Changes(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	}

	select {
	case c := <-ch:
		assert.Equal(t, "file", c.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no change after write")
	}

	cancel()
	for range ch {
	}
}

func TestFileWatcher_Relevant(t *testing.T) {
	w := NewFileWatcher("/data/ducker.db", nil)
	assert.True(t, w.relevant("/data/ducker.db"))
	assert.True(t, w.relevant("/data/ducker.db-wal"))
	assert.True(t, w.relevant("/data/ducker.db-journal"))
	assert.False(t, w.relevant("/data/tasks.json"))
}
