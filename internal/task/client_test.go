package task

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoak3n/ducker/internal/model"
)

func newTestServer(t *testing.T) (*httptest.Server, *MemoryBackend) {
	t.Helper()
	b := newBackend(t)
	h := NewHandler(b, nil)
	h.SetHeartbeat(50 * time.Millisecond)

	mux := http.NewServeMux()
	for _, r := range h.Routes() {
		mux.HandleFunc(r.Pattern, r.Handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, b
}

func jsonReq(method, path string, body any) *http.Request {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandler_StatusCodes(t *testing.T) {
	b := newBackend(t)
	h := NewHandler(b, nil)
	mux := http.NewServeMux()
	for _, r := range h.Routes() {
		mux.HandleFunc(r.Pattern, r.Handler)
	}

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"create without name", jsonReq(http.MethodPost, "/api/tasks", map[string]any{"completed": false}), http.StatusBadRequest},
		{"create", jsonReq(http.MethodPost, "/api/tasks", map[string]any{"id": "t1", "name": "one", "completed": false, "auto": false, "actions": []string{}}), http.StatusCreated},
		{"bad json", httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{")), http.StatusBadRequest},
		{"bad due_to", jsonReq(http.MethodPost, "/api/tasks", map[string]any{"name": "x", "due_to": "tomorrow"}), http.StatusBadRequest},
		{"update unknown", jsonReq(http.MethodPut, "/api/tasks/nope", map[string]any{"name": "x"}), http.StatusNotFound},
		{"completion missing field", jsonReq(http.MethodPut, "/api/tasks/t1/completion", map[string]any{}), http.StatusBadRequest},
		{"completion", jsonReq(http.MethodPut, "/api/tasks/t1/completion", map[string]any{"completed": true}), http.StatusOK},
		{"bad interval", jsonReq(http.MethodPost, "/api/periodic-tasks", map[string]any{"name": "x", "interval": 2, "task": map[string]any{"name": "x"}}), http.StatusBadRequest},
		{"enable unknown", jsonReq(http.MethodPut, "/api/periodic-tasks/nope/enabled", map[string]any{"enabled": true}), http.StatusNotFound},
		{"delete", jsonReq(http.MethodDelete, "/api/tasks/t1", nil), http.StatusNoContent},
		{"delete again", jsonReq(http.MethodDelete, "/api/tasks/t1", nil), http.StatusNotFound},
		{"wrong method", jsonReq(http.MethodPatch, "/api/tasks", nil), http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, tc.req)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestClient_RoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	c := NewClient(srv.URL, srv.Client(), nil)

	due := time.Date(2024, 6, 10, 18, 30, 0, 0, time.Local)
	id, err := c.CreateTask(ctx, model.TaskData{Name: "write report", Value: ptr(3.0), DueTo: &due})
	require.NoError(t, err)
	_, err = c.CreateTask(ctx, model.TaskData{Name: "outline", Value: ptr(1.0), ParentID: &id})
	require.NoError(t, err)

	tasks, err := c.FetchAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "write report", tasks[0].Name)
	assert.True(t, due.Equal(*tasks[0].DueTo))
	require.Len(t, tasks[0].Children, 1)

	updated, err := c.UpdateTask(ctx, id, model.TaskData{Name: "write final report", Value: ptr(4.0)})
	require.NoError(t, err)
	assert.Equal(t, "write final report", updated.Name)
	assert.Equal(t, 4.0, updated.Value)

	done, err := c.SetTaskCompletion(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, done.Completed)

	ruleID, err := c.CreatePeriodicTask(ctx, model.PeriodicTaskData{
		Name: "standup", Interval: model.Daily, Task: model.TaskData{Name: "standup"},
	})
	require.NoError(t, err)
	rules, err := c.FetchEnabledPeriodicTasks(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.Daily, rules[0].Interval)

	require.NoError(t, c.SetPeriodicTaskEnabled(ctx, ruleID, false))
	rules, err = c.FetchEnabledPeriodicTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
	all, err := c.ListPeriodicTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, c.DeleteTask(ctx, id))
	err = c.DeleteTask(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_DrivesRepository(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	repo := New(NewClient(srv.URL, srv.Client(), nil))

	a, err := repo.Create(ctx, model.TaskData{Name: "a", Value: ptr(5.0), Completed: ptr(true)})
	require.NoError(t, err)
	_, err = repo.Create(ctx, model.TaskData{Name: "a.1", Value: ptr(3.0), ParentID: &a.ID})
	require.NoError(t, err)

	snap := repo.Snapshot()
	require.Len(t, snap, 1)
	require.Len(t, snap[0].Children, 1)

	kid := snap[0].Children[0].ID
	require.NoError(t, repo.ToggleCompletion(ctx, kid))
	got, ok := repo.Get(kid)
	require.True(t, ok)
	assert.True(t, got.Completed)

	err = repo.ToggleCompletion(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ChangesStream(t *testing.T) {
	srv, b := newTestServer(t)
	c := NewClient(srv.URL, srv.Client(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Changes(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.changes.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	id := mustCreate(t, b, model.TaskData{Name: "from another window"})

	select {
	case got := <-ch:
		assert.Equal(t, id, got.TaskID)
		assert.Equal(t, "memory", got.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no change received")
	}

	cancel()
	for range ch {
	}
}

func TestParseChange(t *testing.T) {
	c, ok := parseChange(`{"source":"sqlite","task_id":"t1","at":"2024-06-10T15:00:00Z"}`)
	require.True(t, ok)
	assert.Equal(t, "sqlite", c.Source)
	assert.Equal(t, "t1", c.TaskID)
	assert.Equal(t, int64(1718031600), c.At.Unix())

	_, ok = parseChange("not json")
	assert.False(t, ok)
}
