package task

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Yoak3n/ducker/internal/model"
)

// Client is a Backend that talks to a Handler over HTTP.
type Client struct {
	base      string
	http      *http.Client
	stream    *http.Client
	log       *zap.Logger
	reconnect time.Duration
	token     string
}

func NewClient(baseURL string, hc *http.Client, log *zap.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:      strings.TrimRight(baseURL, "/"),
		http:      hc,
		stream:    &http.Client{Transport: hc.Transport},
		log:       log,
		reconnect: 2 * time.Second,
	}
}

// SetToken sends token as a bearer token on every request.
func (c *Client) SetToken(token string) {
	c.token = strings.TrimSpace(token)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// SetReconnectDelay sets the pause before an event stream is reopened.
func (c *Client) SetReconnectDelay(d time.Duration) {
	c.reconnect = d
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, statusErr(method, path, resp.StatusCode, raw)
	}
	return raw, nil
}

func statusErr(method, path string, code int, raw []byte) error {
	msg := strings.TrimSpace(string(raw))
	if gjson.ValidBytes(raw) {
		if e := gjson.GetBytes(raw, "error"); e.Exists() {
			msg = e.String()
		}
	}
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidTask, msg)
	default:
		return fmt.Errorf("%s %s: status %d: %s", method, path, code, msg)
	}
}

func (c *Client) FetchAllTasks(ctx context.Context) ([]model.Task, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/tasks", nil)
	if err != nil {
		return nil, err
	}
	var out []model.Task
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return out, nil
}

func (c *Client) FetchEnabledPeriodicTasks(ctx context.Context) ([]model.PeriodicTask, error) {
	return c.rules(ctx, "/api/periodic-tasks/enabled")
}

func (c *Client) ListPeriodicTasks(ctx context.Context) ([]model.PeriodicTask, error) {
	return c.rules(ctx, "/api/periodic-tasks")
}

func (c *Client) rules(ctx context.Context, path string) ([]model.PeriodicTask, error) {
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out []model.PeriodicTask
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode periodic tasks: %w", err)
	}
	return out, nil
}

func (c *Client) CreateTask(ctx context.Context, data model.TaskData) (string, error) {
	raw, err := c.do(ctx, http.MethodPost, "/api/tasks", data)
	if err != nil {
		return "", err
	}
	return createdID(raw)
}

func (c *Client) CreatePeriodicTask(ctx context.Context, data model.PeriodicTaskData) (string, error) {
	raw, err := c.do(ctx, http.MethodPost, "/api/periodic-tasks", data)
	if err != nil {
		return "", err
	}
	return createdID(raw)
}

func createdID(raw []byte) (string, error) {
	id := gjson.GetBytes(raw, "id")
	if !id.Exists() || id.String() == "" {
		return "", fmt.Errorf("create response without id: %s", raw)
	}
	return id.String(), nil
}

func (c *Client) UpdateTask(ctx context.Context, id string, data model.TaskData) (model.Task, error) {
	raw, err := c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id), data)
	if err != nil {
		return model.Task{}, err
	}
	var t model.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) SetTaskCompletion(ctx context.Context, id string, completed bool) (model.Task, error) {
	raw, err := c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id)+"/completion",
		map[string]bool{"completed": completed})
	if err != nil {
		return model.Task{}, err
	}
	var t model.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}

func (c *Client) SetPeriodicTaskEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := c.do(ctx, http.MethodPut, "/api/periodic-tasks/"+url.PathEscape(id)+"/enabled",
		map[string]bool{"enabled": enabled})
	return err
}

// Changes opens the server's event stream. When the stream drops it is
// reopened after the reconnect delay and a synthetic change is delivered,
// since notifications may have been missed in between.
func (c *Client) Changes(ctx context.Context) (<-chan Change, error) {
	body, err := c.openStream(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Change, 8)
	go func() {
		defer close(out)
		for {
			c.readStream(ctx, body, out)
			_ = body.Close()

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.reconnect):
				}
				body, err = c.openStream(ctx)
				if err == nil {
					break
				}
				c.log.Debug("event stream reconnect failed", zap.Error(err))
			}
			select {
			case out <- Change{Source: "reconnect", At: time.Now()}:
			case <-ctx.Done():
				_ = body.Close()
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) openStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, statusErr(http.MethodGet, "/api/events", resp.StatusCode, raw)
	}
	return resp.Body, nil
}

// readStream forwards every ChangeTopic event until the body ends or ctx is
// done.
func (c *Client) readStream(ctx context.Context, body io.Reader, out chan<- Change) {
	sc := bufio.NewScanner(body)
	event := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if event != ChangeTopic {
				continue
			}
			ch, ok := parseChange(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			if !ok {
				continue
			}
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}
}

func parseChange(data string) (Change, bool) {
	if !gjson.Valid(data) {
		return Change{}, false
	}
	ch := Change{
		Source: gjson.Get(data, "source").String(),
		TaskID: gjson.Get(data, "task_id").String(),
	}
	if at := gjson.Get(data, "at"); at.Exists() {
		ch.At = at.Time()
	}
	return ch, true
}
