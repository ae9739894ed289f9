package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/task"
)

//go:embed schema.sql
var schemaSQL string

// DBFile is the database file name inside the data directory.
const DBFile = "ducker.db"

// SQLiteBackend stores tasks and periodic rules in SQLite. Timestamps are
// Unix seconds; actions are a JSON array.
type SQLiteBackend struct {
	db      *sql.DB
	path    string
	log     *zap.Logger
	now     func() time.Time
	changes *task.Broadcaster
}

var _ task.Backend = (*SQLiteBackend)(nil)

// Open opens (creating if needed) dataDir/ducker.db.
func Open(dataDir string, log *zap.Logger) (*SQLiteBackend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	path := filepath.Join(dataDir, DBFile)

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("sqlite backend opened", zap.String("path", path))
	return &SQLiteBackend{
		db:      db,
		path:    path,
		log:     log,
		now:     time.Now,
		changes: task.NewBroadcaster(8),
	}, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// Path is the database file on disk.
func (s *SQLiteBackend) Path() string {
	return s.path
}

func (s *SQLiteBackend) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLiteBackend) Changes(ctx context.Context) (<-chan task.Change, error) {
	return s.changes.Subscribe(ctx), nil
}

func (s *SQLiteBackend) publish(id string) {
	s.changes.Publish(task.Change{Source: "sqlite", TaskID: id, At: s.now()})
}

const taskColumns = `id, value, completed, auto, parent_id, name, actions, created_at, due_to, reminder, periodic`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (task.Record, error) {
	var (
		rec       task.Record
		value     sql.NullFloat64
		completed sql.NullBool
		auto      sql.NullBool
		parentID  sql.NullString
		actions   sql.NullString
		createdAt sql.NullInt64
		dueTo     sql.NullInt64
		reminder  sql.NullInt64
		periodic  sql.NullString
	)
	err := row.Scan(&rec.Task.ID, &value, &completed, &auto, &parentID, &rec.Task.Name,
		&actions, &createdAt, &dueTo, &reminder, &periodic)
	if err != nil {
		return task.Record{}, err
	}

	rec.Task.Value = value.Float64
	rec.Task.Completed = completed.Bool
	rec.Task.Auto = auto.Bool
	rec.ParentID = parentID.String
	if actions.Valid && strings.TrimSpace(actions.String) != "" {
		if err := json.Unmarshal([]byte(actions.String), &rec.Task.Actions); err != nil {
			return task.Record{}, fmt.Errorf("task %s actions: %w", rec.Task.ID, err)
		}
	}
	if createdAt.Valid {
		rec.Task.CreatedAt = time.Unix(createdAt.Int64, 0).In(time.Local)
	}
	rec.Task.DueTo = fromUnix(dueTo)
	rec.Task.Reminder = fromUnix(reminder)
	if periodic.Valid && periodic.String != "" {
		v := periodic.String
		rec.Task.PeriodicRuleID = &v
	}
	return rec, nil
}

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).In(time.Local)
	return &t
}

func toUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeActions(a []model.ActionRef) (string, error) {
	if a == nil {
		a = []model.ActionRef{}
	}
	b, err := json.Marshal(a)
	return string(b), err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteBackend) records(ctx context.Context, q queryer) ([]task.Record, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) record(ctx context.Context, q queryer, id string) (task.Record, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return task.Record{}, &task.NotFoundError{ID: id}
	}
	return rec, err
}

func (s *SQLiteBackend) view(ctx context.Context, id string) (model.Task, error) {
	recs, err := s.records(ctx, s.db)
	if err != nil {
		return model.Task{}, err
	}
	t, ok := task.FindView(task.AssembleViews(recs), id)
	if !ok {
		return model.Task{}, &task.NotFoundError{ID: id}
	}
	return t, nil
}

func (s *SQLiteBackend) FetchAllTasks(ctx context.Context) ([]model.Task, error) {
	recs, err := s.records(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return task.AssembleViews(recs), nil
}

func (s *SQLiteBackend) CreateTask(ctx context.Context, data model.TaskData) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id, err := s.insertTask(ctx, tx, data)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	s.log.Debug("task created", zap.String("id", id))
	s.publish(id)
	return id, nil
}

func (s *SQLiteBackend) insertTask(ctx context.Context, tx *sql.Tx, data model.TaskData) (string, error) {
	if strings.TrimSpace(data.Name) == "" {
		return "", fmt.Errorf("%w: name is required", task.ErrInvalidTask)
	}
	rec := task.RecordFromData(data, s.now())

	if _, err := s.record(ctx, tx, rec.Task.ID); err == nil {
		return "", fmt.Errorf("%w: id %q already exists", task.ErrInvalidTask, rec.Task.ID)
	} else if !errors.Is(err, task.ErrNotFound) {
		return "", err
	}
	if rec.ParentID != "" {
		if _, err := s.record(ctx, tx, rec.ParentID); err != nil {
			return "", err
		}
	}
	if err := s.writeRecord(ctx, tx, rec, true); err != nil {
		return "", err
	}
	return rec.Task.ID, nil
}

func (s *SQLiteBackend) writeRecord(ctx context.Context, q queryer, rec task.Record, insert bool) error {
	actions, err := encodeActions(rec.Task.Actions)
	if err != nil {
		return err
	}
	var periodic any
	if rec.Task.PeriodicRuleID != nil {
		periodic = *rec.Task.PeriodicRuleID
	}
	args := []any{
		rec.Task.Value, rec.Task.Completed, rec.Task.Auto, nullString(rec.ParentID), rec.Task.Name,
		actions, rec.Task.CreatedAt.Unix(), toUnix(rec.Task.DueTo), toUnix(rec.Task.Reminder), periodic,
		rec.Task.ID,
	}
	query := `UPDATE tasks
		SET value = ?, completed = ?, auto = ?, parent_id = ?, name = ?, actions = ?,
		    created_at = ?, due_to = ?, reminder = ?, periodic = ?
		WHERE id = ?`
	if insert {
		query = `INSERT INTO tasks (value, completed, auto, parent_id, name, actions, created_at, due_to, reminder, periodic, id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write task %s: %w", rec.Task.ID, err)
	}
	return nil
}

func (s *SQLiteBackend) UpdateTask(ctx context.Context, id string, data model.TaskData) (model.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Task{}, err
	}
	defer tx.Rollback()

	rec, err := s.record(ctx, tx, id)
	if err != nil {
		return model.Task{}, err
	}
	task.ApplyData(&rec, data)
	if err := s.writeRecord(ctx, tx, rec, false); err != nil {
		return model.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Task{}, err
	}
	s.publish(id)
	return s.view(ctx, id)
}

// DeleteTask removes the task, its children and its linked periodic rule.
func (s *SQLiteBackend) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec, err := s.record(ctx, tx, id)
	if err != nil {
		return err
	}
	if rule := rec.Task.PeriodicRuleID; rule != nil {
		res, err := tx.ExecContext(ctx, `DELETE FROM periodic_tasks WHERE id = ?`, *rule)
		if err != nil {
			return fmt.Errorf("delete periodic task %s: %w", *rule, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.log.Warn("linked periodic rule missing", zap.String("task", id), zap.String("rule", *rule))
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? OR parent_id = ?`, id, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("task deleted", zap.String("id", id))
	s.publish(id)
	return nil
}

func (s *SQLiteBackend) SetTaskCompletion(ctx context.Context, id string, completed bool) (model.Task, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET completed = ? WHERE id = ?`, completed, id)
	if err != nil {
		return model.Task{}, fmt.Errorf("update task status %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.Task{}, &task.NotFoundError{ID: id}
	}
	s.publish(id)
	return s.view(ctx, id)
}

const ruleColumns = `id, name, interval, last_period, next_period, enabled`

func (s *SQLiteBackend) rules(ctx context.Context, where string) ([]model.PeriodicTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM periodic_tasks `+where+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query periodic tasks: %w", err)
	}
	defer rows.Close()

	var out []model.PeriodicTask
	for rows.Next() {
		var (
			p        model.PeriodicTask
			interval int
			last     sql.NullInt64
			next     sql.NullInt64
			enabled  bool
		)
		if err := rows.Scan(&p.ID, &p.Name, &interval, &last, &next, &enabled); err != nil {
			return nil, err
		}
		if p.Interval, err = model.ParseInterval(interval); err != nil {
			return nil, fmt.Errorf("periodic task %s: %w", p.ID, err)
		}
		p.LastPeriod = fromUnix(last)
		p.NextPeriod = fromUnix(next)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		rec, err := s.record(ctx, s.db, out[i].ID)
		if err == nil {
			out[i].TaskTemplate = model.DataFromTask(rec.Task)
		} else if !errors.Is(err, task.ErrNotFound) {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteBackend) FetchEnabledPeriodicTasks(ctx context.Context) ([]model.PeriodicTask, error) {
	return s.rules(ctx, `WHERE enabled = 1`)
}

func (s *SQLiteBackend) ListPeriodicTasks(ctx context.Context) ([]model.PeriodicTask, error) {
	return s.rules(ctx, ``)
}

// CreatePeriodicTask inserts the template task and a rule under the same id,
// linked through the task's periodic column.
func (s *SQLiteBackend) CreatePeriodicTask(ctx context.Context, data model.PeriodicTaskData) (string, error) {
	if _, err := model.ParseInterval(int(data.Interval)); err != nil {
		return "", err
	}
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id, err := s.insertTask(ctx, tx, tmpl)
	if err != nil {
		return "", err
	}
	rec, err := s.record(ctx, tx, id)
	if err != nil {
		return "", err
	}
	rule := task.NewPeriodicRule(id, data, rec.Task)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO periodic_tasks (id, name, interval, next_period) VALUES (?, ?, ?, ?)`,
		rule.ID, rule.Name, int(rule.Interval), toUnix(rule.NextPeriod))
	if err != nil {
		return "", fmt.Errorf("insert periodic task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	s.log.Debug("periodic task created", zap.String("id", id), zap.Stringer("interval", rule.Interval))
	s.publish(id)
	return id, nil
}

func (s *SQLiteBackend) SetPeriodicTaskEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE periodic_tasks SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("update periodic task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &task.NotFoundError{ID: id}
	}
	s.publish(id)
	return nil
}
