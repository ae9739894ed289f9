package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Yoak3n/ducker/internal/model"
)

// ChangeTopic is the name of the notification channel backends publish on.
const ChangeTopic = "task-changed"

var (
	ErrNotFound    = model.ErrTaskNotFound
	ErrInvalidTask = errors.New("invalid task")
)

// NotFoundError reports an id the backend or the refreshed snapshot does not
// know about.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TransportError wraps any failure of a backend command.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// Transport is the command surface of the source of truth.
type Transport interface {
	FetchAllTasks(ctx context.Context) ([]model.Task, error)
	FetchEnabledPeriodicTasks(ctx context.Context) ([]model.PeriodicTask, error)
	CreateTask(ctx context.Context, data model.TaskData) (string, error)
	UpdateTask(ctx context.Context, id string, data model.TaskData) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	SetTaskCompletion(ctx context.Context, id string, completed bool) (model.Task, error)
}

// Change is one "task-changed" notification. Its fields are informational
// only; receivers always resync.
type Change struct {
	Source string    `json:"source,omitempty"`
	TaskID string    `json:"task_id,omitempty"`
	At     time.Time `json:"at"`
}

// ChangeSource delivers change notifications until ctx is done, then closes
// the channel.
type ChangeSource interface {
	Changes(ctx context.Context) (<-chan Change, error)
}

// Backend is a complete source of truth: the transport commands, change
// notifications and periodic rule management.
type Backend interface {
	Transport
	ChangeSource
	CreatePeriodicTask(ctx context.Context, data model.PeriodicTaskData) (string, error)
	ListPeriodicTasks(ctx context.Context) ([]model.PeriodicTask, error)
	SetPeriodicTaskEnabled(ctx context.Context, id string, enabled bool) error
}
