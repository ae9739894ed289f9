package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/periodic"
	"github.com/Yoak3n/ducker/internal/telemetry"
)

// Snapshot is what subscribers receive after every change to the repository
// state. Callers must treat it as read-only.
type Snapshot struct {
	Tasks []model.Task
	Rules []model.PeriodicTask
	// Seq is the fetch sequence number the tasks were derived from.
	Seq uint64
	At  time.Time
}

type Listener func(Snapshot)

type Option func(*Repository)

func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.log = l
		}
	}
}

// WithEvents records repository activity into a telemetry repository.
func WithEvents(ev telemetry.Repository) Option {
	return func(r *Repository) { r.events = ev }
}

func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// Repository holds the in-memory snapshot of all tasks and keeps it in sync
// with a Transport. Every mutation except ToggleCompletion writes, then
// refetches the whole snapshot.
//
// Mutations are serialised. Each fetch takes a sequence number when it is
// issued and only replaces the snapshot if nothing newer has been applied
// since, so a slow response can never overwrite a fresher one.
type Repository struct {
	transport Transport
	log       *zap.Logger
	events    telemetry.Repository
	now       func() time.Time

	// write serialises mutate+refetch sequences.
	write sync.Mutex

	mu      sync.RWMutex
	tasks   []model.Task
	rules   []model.PeriodicTask
	current string
	lastErr error
	applied uint64
	at      time.Time

	issued atomic.Uint64

	subMu   sync.Mutex
	subs    map[int]Listener
	nextSub int
}

func New(transport Transport, opts ...Option) *Repository {
	r := &Repository{
		transport: transport,
		log:       zap.NewNop(),
		now:       time.Now,
		subs:      map[int]Listener{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchAll loads enabled periodic rules and all tasks, drops tasks whose rule
// is not schedulable, and replaces the snapshot. On failure the snapshot is
// left as it was.
func (r *Repository) FetchAll(ctx context.Context) ([]model.Task, error) {
	seq := r.issued.Add(1)

	var (
		tasks []model.Task
		rules []model.PeriodicTask
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rules, err = r.transport.FetchEnabledPeriodicTasks(gctx)
		return transportErr("fetch_enabled_periodic_tasks", err)
	})
	g.Go(func() error {
		var err error
		tasks, err = r.transport.FetchAllTasks(gctx)
		return transportErr("fetch_all_tasks", err)
	})
	if err := g.Wait(); err != nil {
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		r.log.Warn("sync failed", zap.Uint64("seq", seq), zap.Error(err))
		r.record(telemetry.EventSyncFailed, telemetry.EventMetadata{"seq": seq, "error": err.Error()})
		return nil, err
	}

	filtered := periodic.Filter(tasks, rules)
	if orphans := periodic.Orphans(tasks, rules); len(orphans) > 0 {
		ids := make([]string, 0, len(orphans))
		for _, o := range orphans {
			ids = append(ids, o.ID)
		}
		r.log.Debug("tasks hidden by periodic rules", zap.Strings("ids", ids))
	}

	r.mu.Lock()
	if seq < r.applied {
		out := model.CloneTasks(r.tasks)
		applied := r.applied
		r.mu.Unlock()
		r.log.Debug("stale sync discarded", zap.Uint64("seq", seq), zap.Uint64("applied", applied))
		r.record(telemetry.EventSnapshotSynced, telemetry.EventMetadata{"seq": seq, "stale": true})
		return out, nil
	}
	r.tasks = filtered
	r.rules = rules
	r.applied = seq
	r.lastErr = nil
	r.at = r.now()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.log.Debug("snapshot synced", zap.Uint64("seq", seq), zap.Int("tasks", len(filtered)), zap.Int("rules", len(rules)))
	r.record(telemetry.EventSnapshotSynced, telemetry.EventMetadata{"seq": seq, "tasks": len(filtered)})
	r.notify(snap)
	return model.CloneTasks(filtered), nil
}

// Create sends data to the backend, refetches, and returns the created task
// as it appears in the refreshed snapshot.
func (r *Repository) Create(ctx context.Context, data model.TaskData) (model.Task, error) {
	r.write.Lock()
	defer r.write.Unlock()

	id, err := r.transport.CreateTask(ctx, data)
	if err != nil {
		return model.Task{}, r.fail(transportErr("create_task", err))
	}
	tasks, err := r.FetchAll(ctx)
	if err != nil {
		return model.Task{}, err
	}
	created, ok := FindView(tasks, id)
	if !ok {
		r.log.Warn("created task missing after refresh", zap.String("id", id))
		return model.Task{}, &NotFoundError{ID: id}
	}
	r.log.Info("task created", zap.String("id", id), zap.String("name", created.Name))
	r.record(telemetry.EventTaskCreated, telemetry.EventMetadata{"id": id})
	return created, nil
}

// Update merges data over the known task, sends it, refetches, and returns
// the refreshed task.
func (r *Repository) Update(ctx context.Context, id string, data model.TaskData) (model.Task, error) {
	r.write.Lock()
	defer r.write.Unlock()

	if known, ok := r.Get(id); ok {
		data = mergeKnown(known, data)
	}
	if _, err := r.transport.UpdateTask(ctx, id, data); err != nil {
		return model.Task{}, r.fail(transportErr("update_task", err))
	}
	tasks, err := r.FetchAll(ctx)
	if err != nil {
		return model.Task{}, err
	}
	updated, ok := FindView(tasks, id)
	if !ok {
		return model.Task{}, &NotFoundError{ID: id}
	}
	r.log.Info("task updated", zap.String("id", id))
	r.record(telemetry.EventTaskUpdated, telemetry.EventMetadata{"id": id})
	return updated, nil
}

// mergeKnown fills fields the caller left unset from the known task so an
// update never clears them by accident.
func mergeKnown(known model.Task, data model.TaskData) model.TaskData {
	if data.Value == nil {
		v := known.Value
		data.Value = &v
	}
	if strings.TrimSpace(data.Name) == "" {
		data.Name = known.Name
	}
	if data.Completed == nil {
		v := known.Completed
		data.Completed = &v
	}
	if data.Auto == nil {
		v := known.Auto
		data.Auto = &v
	}
	if data.DueTo == nil && known.DueTo != nil {
		v := *known.DueTo
		data.DueTo = &v
	}
	if data.Reminder == nil && known.Reminder != nil {
		v := *known.Reminder
		data.Reminder = &v
	}
	if data.PeriodicRuleID == nil && known.PeriodicRuleID != nil {
		v := *known.PeriodicRuleID
		data.PeriodicRuleID = &v
	}
	if data.Actions == nil && known.Actions != nil {
		data.Actions = append([]model.ActionRef(nil), known.Actions...)
	}
	return data
}

// Delete removes the task and refetches. The current task is cleared if it
// was the one deleted.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.write.Lock()
	defer r.write.Unlock()

	if err := r.transport.DeleteTask(ctx, id); err != nil {
		return r.fail(transportErr("delete_task", err))
	}
	r.mu.Lock()
	if r.current == id {
		r.current = ""
	}
	r.mu.Unlock()

	r.log.Info("task deleted", zap.String("id", id))
	r.record(telemetry.EventTaskDeleted, telemetry.EventMetadata{"id": id})
	_, err := r.FetchAll(ctx)
	return err
}

// ToggleCompletion flips the completed flag of a root or child task. On
// success the snapshot entry is patched in place without a refetch.
func (r *Repository) ToggleCompletion(ctx context.Context, id string) error {
	r.write.Lock()
	defer r.write.Unlock()

	cur, ok := r.Get(id)
	if !ok {
		return &NotFoundError{ID: id}
	}
	next := !cur.Completed
	if _, err := r.transport.SetTaskCompletion(ctx, id, next); err != nil {
		return r.fail(transportErr("set_task_completion", err))
	}

	r.mu.Lock()
	patched := patchCompletion(r.tasks, id, next)
	// Fetches issued before this patch would carry the old value.
	r.applied = r.issued.Add(1)
	r.at = r.now()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if !patched {
		r.log.Warn("toggled task vanished from snapshot", zap.String("id", id))
	}
	r.log.Info("task toggled", zap.String("id", id), zap.Bool("completed", next))
	r.record(telemetry.EventTaskToggled, telemetry.EventMetadata{"id": id, "completed": next})
	r.notify(snap)
	return nil
}

func patchCompletion(tasks []model.Task, id string, completed bool) bool {
	for i := range tasks {
		if tasks[i].ID == id {
			tasks[i].Completed = completed
			return true
		}
	}
	for i := range tasks {
		for j := range tasks[i].Children {
			if tasks[i].Children[j].ID == id {
				tasks[i].Children[j].Completed = completed
				return true
			}
		}
	}
	return false
}

// BulkUpdate applies data to every id and refetches once. Ids that fail are
// reported together; the refetch runs regardless so the snapshot reflects the
// writes that did succeed.
func (r *Repository) BulkUpdate(ctx context.Context, ids []string, data model.TaskData) ([]model.Task, error) {
	r.write.Lock()
	defer r.write.Unlock()

	var errs []error
	for _, id := range ids {
		d := data
		if known, ok := r.Get(id); ok {
			d = mergeKnown(known, data)
		}
		if _, err := r.transport.UpdateTask(ctx, id, d); err != nil {
			errs = append(errs, transportErr("update_task", err))
			continue
		}
		r.record(telemetry.EventTaskUpdated, telemetry.EventMetadata{"id": id, "bulk": true})
	}
	tasks, err := r.FetchAll(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return tasks, r.fail(errors.Join(errs...))
	}

	out := make([]model.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := FindView(tasks, id); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// BulkDelete removes every id and refetches once.
func (r *Repository) BulkDelete(ctx context.Context, ids []string) error {
	r.write.Lock()
	defer r.write.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.transport.DeleteTask(ctx, id); err != nil {
			errs = append(errs, transportErr("delete_task", err))
			continue
		}
		r.mu.Lock()
		if r.current == id {
			r.current = ""
		}
		r.mu.Unlock()
		r.record(telemetry.EventTaskDeleted, telemetry.EventMetadata{"id": id, "bulk": true})
	}
	if _, err := r.FetchAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return r.fail(errors.Join(errs...))
	}
	return nil
}

// Snapshot returns a deep copy of the current tasks.
func (r *Repository) Snapshot() []model.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return model.CloneTasks(r.tasks)
}

// State returns the full snapshot including rules and sequence number.
func (r *Repository) State() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// PeriodicRules returns the enabled rules seen by the last applied fetch.
func (r *Repository) PeriodicRules() []model.PeriodicTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.PeriodicTask(nil), r.rules...)
}

// Get finds a root or child task in the snapshot.
func (r *Repository) Get(id string) (model.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := FindView(r.tasks, id)
	if !ok {
		return model.Task{}, false
	}
	return t.Clone(), true
}

// SetCurrent marks id as the focused task. An empty id clears it.
func (r *Repository) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" {
		if _, ok := FindView(r.tasks, id); !ok {
			return &NotFoundError{ID: id}
		}
	}
	r.current = id
	return nil
}

// Current returns the focused task as it appears in the latest snapshot.
func (r *Repository) Current() (model.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == "" {
		return model.Task{}, false
	}
	t, ok := FindView(r.tasks, r.current)
	if !ok {
		return model.Task{}, false
	}
	return t.Clone(), true
}

type Filters struct {
	Completed   *bool
	Search      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// Filter returns the root tasks matching every set criterion, in snapshot
// order.
func (r *Repository) Filter(f Filters) []model.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]model.Task, 0)
	for _, t := range r.tasks {
		if f.Completed != nil && t.Completed != *f.Completed {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Name), search) {
			continue
		}
		if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && t.CreatedAt.After(*f.CreatedTo) {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

func (r *Repository) Completed() []model.Task {
	done := true
	return r.Filter(Filters{Completed: &done})
}

func (r *Repository) Pending() []model.Task {
	done := false
	return r.Filter(Filters{Completed: &done})
}

// Reset drops all local state. In-flight fetches issued before the reset are
// discarded when they resolve.
func (r *Repository) Reset() {
	r.mu.Lock()
	r.tasks = nil
	r.rules = nil
	r.current = ""
	r.lastErr = nil
	r.applied = r.issued.Add(1)
	r.at = r.now()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
}

// LastError returns the most recent failure, cleared by the next successful
// sync.
func (r *Repository) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Subscribe registers fn to be called after every snapshot change. Listeners
// run synchronously on the goroutine that made the change.
func (r *Repository) Subscribe(fn Listener) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// Watch resyncs on every notification from src until ctx is done or src
// closes its channel. Bursts of notifications collapse into one fetch.
// Fetch failures are logged and do not stop the loop.
func (r *Repository) Watch(ctx context.Context, src ChangeSource) error {
	ch, err := src.Changes(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			drained := drain(ch)
			r.log.Debug(ChangeTopic,
				zap.String("source", c.Source),
				zap.String("task_id", c.TaskID),
				zap.Int("coalesced", drained))
			if _, err := r.FetchAll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Warn("resync after change failed", zap.Error(err))
			}
		}
	}
}

func drain(ch <-chan Change) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func (r *Repository) snapshotLocked() Snapshot {
	return Snapshot{
		Tasks: model.CloneTasks(r.tasks),
		Rules: append([]model.PeriodicTask(nil), r.rules...),
		Seq:   r.applied,
		At:    r.at,
	}
}

func (r *Repository) notify(s Snapshot) {
	r.subMu.Lock()
	subs := make([]Listener, 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subMu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

func (r *Repository) fail(err error) error {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
	r.log.Warn("task operation failed", zap.Error(err))
	r.record(telemetry.EventSyncFailed, telemetry.EventMetadata{"error": err.Error()})
	return err
}

func (r *Repository) record(t telemetry.EventType, md telemetry.EventMetadata) {
	if r.events == nil {
		return
	}
	if err := r.events.RecordEvent(t, md); err != nil {
		r.log.Debug("telemetry record failed", zap.Error(err))
	}
}
