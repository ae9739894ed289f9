package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidInterval = errors.New("invalid periodic interval")

// PeriodicInterval is the recurrence of a periodic rule. The numeric values
// are the wire values.
type PeriodicInterval uint8

const (
	OnStart     PeriodicInterval = 0
	Daily       PeriodicInterval = 1
	Weekly      PeriodicInterval = 7
	Monthly     PeriodicInterval = 30
	OnceStarted PeriodicInterval = 100
)

func ParseInterval(v int) (PeriodicInterval, error) {
	switch v {
	case int(OnStart), int(Daily), int(Weekly), int(Monthly), int(OnceStarted):
		return PeriodicInterval(v), nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidInterval, v)
}

// IntervalFromName accepts the names String produces or a wire integer.
func IntervalFromName(s string) (PeriodicInterval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on_start", "onstart":
		return OnStart, nil
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	case "once_started", "oncestarted":
		return OnceStarted, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return ParseInterval(n)
}

func (p PeriodicInterval) String() string {
	switch p {
	case OnStart:
		return "on_start"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case OnceStarted:
		return "once_started"
	default:
		return fmt.Sprintf("interval(%d)", uint8(p))
	}
}

// IsStartupTrigger reports whether the rule fires at process start rather
// than on a calendar schedule.
func (p PeriodicInterval) IsStartupTrigger() bool {
	return p == OnStart || p == OnceStarted
}

// NextPeriod returns the next firing time after from. Startup triggers have
// no calendar successor.
func (p PeriodicInterval) NextPeriod(from time.Time) (time.Time, bool) {
	switch p {
	case Daily:
		return from.AddDate(0, 0, 1), true
	case Weekly:
		return from.AddDate(0, 0, 7), true
	case Monthly:
		return from.AddDate(0, 1, 0), true
	default:
		return from, false
	}
}

func (p PeriodicInterval) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint8(p))
}

func (p *PeriodicInterval) UnmarshalJSON(b []byte) error {
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, string(b))
	}
	iv, err := ParseInterval(v)
	if err != nil {
		return err
	}
	*p = iv
	return nil
}

type PeriodicTask struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Interval     PeriodicInterval `json:"interval"`
	LastPeriod   *time.Time       `json:"-"`
	NextPeriod   *time.Time       `json:"-"`
	TaskTemplate TaskData         `json:"task"`
}

// PeriodicTaskData is the create payload for a periodic rule.
type PeriodicTaskData struct {
	Name     string           `json:"name"`
	Interval PeriodicInterval `json:"interval"`
	Task     TaskData         `json:"task"`
}

type periodicWire struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Interval   PeriodicInterval `json:"interval"`
	LastPeriod *int64           `json:"last_period,omitempty"`
	NextPeriod *int64           `json:"next_period,omitempty"`
	Task       TaskData         `json:"task"`
}

// last_period/next_period travel as Unix seconds.
func (p PeriodicTask) MarshalJSON() ([]byte, error) {
	return json.Marshal(periodicWire{
		ID:         p.ID,
		Name:       p.Name,
		Interval:   p.Interval,
		LastPeriod: unixOpt(p.LastPeriod),
		NextPeriod: unixOpt(p.NextPeriod),
		Task:       p.TaskTemplate,
	})
}

func (p *PeriodicTask) UnmarshalJSON(b []byte) error {
	var w periodicWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*p = PeriodicTask{
		ID:           w.ID,
		Name:         w.Name,
		Interval:     w.Interval,
		LastPeriod:   fromUnixOpt(w.LastPeriod),
		NextPeriod:   fromUnixOpt(w.NextPeriod),
		TaskTemplate: w.Task,
	}
	return nil
}

func unixOpt(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.Unix()
	return &v
}

func fromUnixOpt(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).In(time.Local)
	return &t
}
