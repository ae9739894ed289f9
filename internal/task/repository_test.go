package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/progress"
	"github.com/Yoak3n/ducker/internal/telemetry"
)

var _ progress.Toggler = (*Repository)(nil)

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2024, 6, 10, 15, 0, 0, 0, time.Local)

func newBackend(t *testing.T) *MemoryBackend {
	t.Helper()
	b := NewMemoryBackend()
	b.SetClock(func() time.Time { return fixedNow })
	return b
}

func mustCreate(t *testing.T, b Backend, data model.TaskData) string {
	t.Helper()
	id, err := b.CreateTask(context.Background(), data)
	require.NoError(t, err)
	return id
}

// flakyTransport fails the named operations and can pause FetchAllTasks
// after it has read the backend state.
type flakyTransport struct {
	*MemoryBackend

	mu      sync.Mutex
	fail    map[string]error
	calls   int
	gate    func(call int)
	updates []model.TaskData
}

func newFlaky(b *MemoryBackend) *flakyTransport {
	return &flakyTransport{MemoryBackend: b, fail: map[string]error{}}
}

func (f *flakyTransport) failWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *flakyTransport) errFor(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[op]
}

func (f *flakyTransport) FetchAllTasks(ctx context.Context) ([]model.Task, error) {
	if err := f.errFor("fetch"); err != nil {
		return nil, err
	}
	tasks, err := f.MemoryBackend.FetchAllTasks(ctx)

	f.mu.Lock()
	f.calls++
	n, gate := f.calls, f.gate
	f.mu.Unlock()
	if gate != nil {
		gate(n)
	}
	return tasks, err
}

func (f *flakyTransport) UpdateTask(ctx context.Context, id string, data model.TaskData) (model.Task, error) {
	if err := f.errFor("update"); err != nil {
		return model.Task{}, err
	}
	f.mu.Lock()
	f.updates = append(f.updates, data)
	f.mu.Unlock()
	return f.MemoryBackend.UpdateTask(ctx, id, data)
}

func (f *flakyTransport) SetTaskCompletion(ctx context.Context, id string, completed bool) (model.Task, error) {
	if err := f.errFor("complete"); err != nil {
		return model.Task{}, err
	}
	return f.MemoryBackend.SetTaskCompletion(ctx, id, completed)
}

func (f *flakyTransport) DeleteTask(ctx context.Context, id string) error {
	if err := f.errFor("delete:" + id); err != nil {
		return err
	}
	return f.MemoryBackend.DeleteTask(ctx, id)
}

func TestRepository_FetchAllAppliesPeriodicFilter(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	_, err := b.CreatePeriodicTask(ctx, model.PeriodicTaskData{
		Name: "daily", Interval: model.Daily,
		Task: model.TaskData{ID: ptr("daily"), Name: "stretch"},
	})
	require.NoError(t, err)
	_, err = b.CreatePeriodicTask(ctx, model.PeriodicTaskData{
		Name: "boot", Interval: model.OnStart,
		Task: model.TaskData{ID: ptr("boot"), Name: "open mail"},
	})
	require.NoError(t, err)
	mustCreate(t, b, model.TaskData{ID: ptr("plain"), Name: "plain"})
	mustCreate(t, b, model.TaskData{ID: ptr("orphan"), Name: "orphan", PeriodicRuleID: ptr("gone")})

	repo := New(b)
	tasks, err := repo.FetchAll(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(tasks))
	for _, tk := range tasks {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []string{"daily", "plain"}, ids)
	assert.Len(t, repo.PeriodicRules(), 2)
	assert.Equal(t, tasks, repo.Snapshot())
}

func TestRepository_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	mustCreate(t, b, model.TaskData{ID: ptr("a"), Name: "a"})

	repo := New(b)
	_, err := repo.FetchAll(ctx)
	require.NoError(t, err)

	snap := repo.Snapshot()
	snap[0].Name = "mutated"
	got, ok := repo.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name)
}

func TestRepository_CreateReturnsRefreshedTask(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	repo := New(b)

	root, err := repo.Create(ctx, model.TaskData{Name: "root", Value: ptr(5.0)})
	require.NoError(t, err)
	assert.NotEmpty(t, root.ID)
	assert.Equal(t, 5.0, root.Value)
	require.NotNil(t, root.DueTo)
	assert.Equal(t, fixedNow.Add(DefaultDueOffset).Unix(), root.DueTo.Unix())

	child, err := repo.Create(ctx, model.TaskData{Name: "child", ParentID: ptr(root.ID)})
	require.NoError(t, err)

	snap := repo.Snapshot()
	require.Len(t, snap, 1)
	require.Len(t, snap[0].Children, 1)
	assert.Equal(t, child.ID, snap[0].Children[0].ID)
}

func TestRepository_CreateFilteredOutIsNotFound(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	_, err := b.CreatePeriodicTask(ctx, model.PeriodicTaskData{
		Name: "boot", Interval: model.OnStart,
		Task: model.TaskData{ID: ptr("boot"), Name: "boot"},
	})
	require.NoError(t, err)

	repo := New(b)
	_, err = repo.Create(ctx, model.TaskData{ID: ptr("linked"), Name: "linked", PeriodicRuleID: ptr("boot")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "linked", nf.ID)
}

func TestRepository_UpdateMergesKnownFields(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	due := fixedNow.Add(3 * time.Hour)
	mustCreate(t, b, model.TaskData{ID: ptr("a"), Name: "a", Value: ptr(4.0), DueTo: &due, Actions: []model.ActionRef{"notify"}, Auto: ptr(true)})

	ft := newFlaky(b)
	repo := New(ft)
	_, err := repo.FetchAll(ctx)
	require.NoError(t, err)

	got, err := repo.Update(ctx, "a", model.TaskData{Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 4.0, got.Value)
	assert.Equal(t, []model.ActionRef{"notify"}, got.Actions)
	require.NotNil(t, got.DueTo)
	assert.Equal(t, due.Unix(), got.DueTo.Unix())

	require.Len(t, ft.updates, 1)
	require.NotNil(t, ft.updates[0].Value)
	assert.Equal(t, 4.0, *ft.updates[0].Value)

	require.NoError(t, repo.ToggleCompletion(ctx, "a"))
	got, err = repo.Update(ctx, "a", model.TaskData{Value: ptr(5.0)})
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Value)
	assert.True(t, got.Completed, "value-only update keeps completion")
	assert.True(t, got.Auto)

	updated, err := repo.BulkUpdate(ctx, []string{"a"}, model.TaskData{Name: "bulk"})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "bulk", updated[0].Name)
	assert.True(t, updated[0].Completed)
}

func TestRepository_UpdateUnknownIsNotFound(t *testing.T) {
	repo := New(newBackend(t))
	_, err := repo.Update(context.Background(), "missing", model.TaskData{Name: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "update_task", te.Op)
}

func TestRepository_DeleteClearsCurrent(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	mustCreate(t, b, model.TaskData{ID: ptr("a"), Name: "a"})
	mustCreate(t, b, model.TaskData{ID: ptr("b"), Name: "b"})

	repo := New(b)
	_, err := repo.FetchAll(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.SetCurrent("b"))
	require.NoError(t, repo.Delete(ctx, "a"))
	cur, ok := repo.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.ID)

	require.NoError(t, repo.Delete(ctx, "b"))
	_, ok = repo.Current()
	assert.False(t, ok)
	assert.Empty(t, repo.Snapshot())

	assert.ErrorIs(t, repo.SetCurrent("nope"), ErrNotFound)
}

func TestRepository_ToggleIsAnInvolution(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	mustCreate(t, b, model.TaskData{ID: ptr("root"), Name: "root", Value: ptr(5.0), Completed: ptr(true)})
	mustCreate(t, b, model.TaskData{ID: ptr("kid"), Name: "kid", Value: ptr(3.0), ParentID: ptr("root")})

	repo := New(b)
	_, err := repo.FetchAll(ctx)
	require.NoError(t, err)
	before := repo.Snapshot()

	require.NoError(t, repo.ToggleCompletion(ctx, "kid"))
	kid, _ := repo.Get("kid")
	assert.True(t, kid.Completed)
	assert.Equal(t, 100.0, progress.Aggregate(repo.Snapshot()).ProgressPercent)

	require.NoError(t, repo.ToggleCompletion(ctx, "kid"))
	if diff := cmp.Diff(before, repo.Snapshot()); diff != "" {
		t.Fatalf("snapshot after double toggle (-want +got):\n%s", diff)
	}

	// The backend saw the same writes.
	fresh, err := b.FetchAllTasks(ctx)
	require.NoError(t, err)
	assert.False(t, fresh[0].Children[0].Completed)
}

func TestRepository_ToggleUnknownIsNotFound(t *testing.T) {
	repo := New(newBackend(t))
	err := repo.ToggleCompletion(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_TransportErrorLeavesSnapshot(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	mustCreate(t, b, model.TaskData{ID: ptr("a"), Name: "a"})

	ft := newFlaky(b)
	events := telemetry.NewMemoryRepository(0)
	repo := New(ft, WithEvents(events))
	_, err := repo.FetchAll(ctx)
	require.NoError(t, err)
	before := repo.Snapshot()

	boom := errors.New("ipc down")
	ft.failWith("complete", boom)
	err = repo.ToggleCompletion(ctx, "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "set_task_completion", te.Op)
	assert.Equal(t, before, repo.Snapshot())

	ft.failWith("fetch", boom)
	mustCreate(t, b, model.TaskData{ID: ptr("b"), Name: "b"})
	_, err = repo.FetchAll(ctx)
	require.Error(t, err)
	assert.Equal(t, before, repo.Snapshot())
	assert.ErrorIs(t, repo.LastError(), boom)

	ft.failWith("fetch", nil)
	_, err = repo.FetchAll(ctx)
	require.NoError(t, err)
	assert.NoError(t, repo.LastError())
	assert.Len(t, repo.Snapshot(), 2)

	evs, err := events.GetEvents(time.Time{}, []telemetry.EventType{telemetry.EventSyncFailed})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestRepository_StaleFetchDoesNotClobberNewer(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	mustCreate(t, b, model.TaskData{ID: ptr("a"), Name: "a"})

	ft := newFlaky(b)
	entered := make(chan struct{})
	release := make(chan struct{})
	ft.gate = func(call int) {
		if call == 1 {
			close(entered)
			<-release
		}
	}
	repo := New(ft)

	type result struct {
		tasks []model.Task
		err   error
	}
	slow := make(chan result, 1)
	go func() {
		tasks, err := repo.FetchAll(ctx)
		slow <- result{tasks, err}
	}()
	<-entered

	// The slow fetch already read a = pending; the backend moves on.
	_, err := b.SetTaskCompletion(ctx, "a", true)
	require.NoError(t, err)
	fresh, err := repo.FetchAll(ctx)
	require.NoError(t, err)
	require.True(t, fresh[0].Completed)

	close(release)
	res := <-slow
	require.NoError(t, res.err)
	assert.True(t, res.tasks[0].Completed, "stale fetch returns the newer snapshot")

	got, ok := repo.Get("a")
	require.True(t, ok)
	assert.True(t, got.Completed)
	assert.Equal(t, uint64(2), repo.State().Seq)
}

func TestRepository_ToggleSupersedesInFlightFetch(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	mustCreate(t, b, model.TaskData{ID: ptr("a"), Name: "a"})

	ft := newFlaky(b)
	repo := New(ft)
	_, err := repo.FetchAll(ctx)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	ft.gate = func(call int) {
		if call == 2 {
			close(entered)
			<-release
		}
	}
	done := make(chan error, 1)
	go func() {
		_, err := repo.FetchAll(ctx)
		done <- err
	}()
	<-entered

	require.NoError(t, repo.ToggleCompletion(ctx, "a"))
	close(release)
	require.NoError(t, <-done)

	got, _ := repo.Get("a")
	assert.True(t, got.Completed)
}

func TestRepository_BulkOperations(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	for _, id := range []string{"a", "b", "c"} {
		mustCreate(t, b, model.TaskData{ID: ptr(id), Name: id, Value: ptr(1.0)})
	}
	ft := newFlaky(b)
	repo := New(ft)
	_, err := repo.FetchAll(ctx)
	require.NoError(t, err)

	updated, err := repo.BulkUpdate(ctx, []string{"a", "b"}, model.TaskData{Completed: ptr(true)})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	for _, u := range updated {
		assert.True(t, u.Completed)
		assert.Equal(t, 1.0, u.Value)
		assert.Equal(t, u.ID, u.Name)
	}
	assert.Len(t, repo.Completed(), 2)
	assert.Len(t, repo.Pending(), 1)

	boom := errors.New("locked")
	ft.failWith("delete:b", boom)
	err = repo.BulkDelete(ctx, []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	ids := []string{}
	for _, tk := range repo.Snapshot() {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestRepository_Filter(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	early := fixedNow.Add(-48 * time.Hour)
	mustCreate(t, b, model.TaskData{ID: ptr("a"), Name: "Buy Milk", CreatedAt: &early})
	mustCreate(t, b, model.TaskData{ID: ptr("b"), Name: "milk the cow", Completed: ptr(true)})
	mustCreate(t, b, model.TaskData{ID: ptr("c"), Name: "taxes"})

	repo := New(b)
	_, err := repo.FetchAll(ctx)
	require.NoError(t, err)

	got := repo.Filter(Filters{Search: "MILK"})
	require.Len(t, got, 2)

	done := false
	got = repo.Filter(Filters{Search: "milk", Completed: &done})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	from := fixedNow.Add(-time.Hour)
	got = repo.Filter(Filters{CreatedFrom: &from})
	require.Len(t, got, 2)

	repo.Reset()
	assert.Empty(t, repo.Snapshot())
}

func TestRepository_SubscribeReceivesSnapshots(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	mustCreate(t, b, model.TaskData{ID: ptr("a"), Name: "a"})
	repo := New(b)

	var got []Snapshot
	unsubscribe := repo.Subscribe(func(s Snapshot) { got = append(got, s) })

	_, err := repo.FetchAll(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.ToggleCompletion(ctx, "a"))
	require.Len(t, got, 2)
	assert.False(t, got[0].Tasks[0].Completed)
	assert.True(t, got[1].Tasks[0].Completed)
	assert.Greater(t, got[1].Seq, got[0].Seq)

	unsubscribe()
	unsubscribe()
	_, err = repo.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRepository_WatchResyncsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newBackend(t)
	repo := New(b)

	synced := make(chan Snapshot, 16)
	repo.Subscribe(func(s Snapshot) { synced <- s })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- repo.Watch(ctx, b) }()

	// Wait for Watch to subscribe before mutating.
	require.Eventually(t, func() bool { return b.changes.Len() == 1 }, time.Second, 5*time.Millisecond)

	mustCreate(t, b, model.TaskData{ID: ptr("x"), Name: "from elsewhere"})

	select {
	case s := <-synced:
		require.Len(t, s.Tasks, 1)
		assert.Equal(t, "x", s.Tasks[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no resync after change")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.Eventually(t, func() bool { return b.changes.Len() == 0 }, time.Second, 5*time.Millisecond)
}

type closedSource struct{}

func (closedSource) Changes(context.Context) (<-chan Change, error) {
	ch := make(chan Change)
	close(ch)
	return ch, nil
}

func TestRepository_WatchStopsWhenSourceCloses(t *testing.T) {
	repo := New(newBackend(t))
	assert.NoError(t, repo.Watch(context.Background(), closedSource{}))
}

func TestToggle_UnknownIDSharesNotFound(t *testing.T) {
	repo := New(newBackend(t))
	_, err := progress.Toggle(context.Background(), repo, "ghost", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.ToggleCompletion(context.Background(), "ghost"), model.ErrTaskNotFound)
}
