package progress

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoak3n/ducker/internal/model"
)

func TestAggregate_RootAndChildren(t *testing.T) {
	tasks := []model.Task{{
		ID: "r", Value: 5, Completed: true,
		Children: []model.Task{{ID: "c", Value: 3, Completed: false}},
	}}

	got := Aggregate(tasks)

	assert.Equal(t, Summary{CompletedValue: 5, TotalValue: 8, ProgressPercent: 62.5}, got)
}

func TestAggregate_ZeroTotalIsZeroPercent(t *testing.T) {
	for _, tasks := range [][]model.Task{
		nil,
		{},
		{{ID: "a", Completed: true}, {ID: "b"}},
	} {
		got := Aggregate(tasks)
		assert.Zero(t, got.ProgressPercent)
		assert.False(t, math.IsNaN(got.ProgressPercent))
	}
}

func TestAggregate_IgnoresGrandchildren(t *testing.T) {
	tasks := []model.Task{{
		ID: "r", Value: 1,
		Children: []model.Task{{
			ID: "c", Value: 1, Completed: true,
			Children: []model.Task{{ID: "g", Value: 100, Completed: true}},
		}},
	}}

	got := Aggregate(tasks)

	assert.Equal(t, 2.0, got.TotalValue)
	assert.Equal(t, 1.0, got.CompletedValue)
	assert.Equal(t, 50.0, got.ProgressPercent)
}

type fakeToggler struct {
	state map[string]bool
	calls []string
	err   error
}

func (f *fakeToggler) ToggleCompletion(_ context.Context, id string) error {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return f.err
	}
	f.state[id] = !f.state[id]
	return nil
}

func TestToggle_FindsRootsThenChildren(t *testing.T) {
	tasks := []model.Task{
		{ID: "r1", Children: []model.Task{{ID: "shared", Value: 1}}},
		{ID: "shared", Value: 7},
		{ID: "r2", Children: []model.Task{{ID: "c2"}}},
	}

	got, ok := Locate("shared", tasks)
	require.True(t, ok)
	assert.Equal(t, 7.0, got.Value, "root match wins over child match")

	tog := &fakeToggler{state: map[string]bool{}}
	id, err := Toggle(context.Background(), tog, "c2", tasks)
	require.NoError(t, err)
	assert.Equal(t, "c2", id)
	assert.Equal(t, []string{"c2"}, tog.calls)
}

func TestToggle_IsAnInvolution(t *testing.T) {
	tasks := []model.Task{{ID: "t1"}}
	tog := &fakeToggler{state: map[string]bool{"t1": false}}

	_, err := Toggle(context.Background(), tog, "t1", tasks)
	require.NoError(t, err)
	assert.True(t, tog.state["t1"])

	_, err = Toggle(context.Background(), tog, "t1", tasks)
	require.NoError(t, err)
	assert.False(t, tog.state["t1"])
}

func TestToggle_UnknownAndFailingIDs(t *testing.T) {
	tog := &fakeToggler{state: map[string]bool{}}
	_, err := Toggle(context.Background(), tog, "missing", []model.Task{{ID: "t1"}})
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
	assert.Empty(t, tog.calls)

	boom := errors.New("backend down")
	tog.err = boom
	_, err = Toggle(context.Background(), tog, "t1", []model.Task{{ID: "t1"}})
	assert.ErrorIs(t, err, boom)
}

func TestStats(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	tasks := []model.Task{
		{ID: "a", Completed: true, Value: 2},
		{ID: "b", DueTo: &past, Value: 1},
		{ID: "c", DueTo: &future, Value: 1},
		{ID: "d", Completed: true, DueTo: &past},
	}

	st := Stats(tasks, now)

	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 1, st.Overdue)
	assert.Equal(t, 50.0, st.CompletionRate)
	assert.Equal(t, 4.0, st.TotalValue)
	assert.Equal(t, 2.0, st.CompletedValue)
}
