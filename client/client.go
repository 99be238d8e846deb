// Package client talks to prism-api over HTTP. *Client satisfies
// matrix.Remote, so a Session can confirm reassignments against the server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"prism-plan/domain"
	"prism-plan/matrix"
)

const maxErrorBody = 4 << 10

var _ matrix.Remote = (*Client)(nil)

// Client is safe for concurrent use.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New returns a Client for baseURL authenticating with a bearer token.
func New(baseURL, token string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, HTTP: http.DefaultClient}
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// CreateInput describes a new task.
type CreateInput struct {
	Title    string `json:"title"`
	Notes    string `json:"notes,omitempty"`
	Quadrant string `json:"quadrant,omitempty"`
	Status   string `json:"status,omitempty"`
	Order    int    `json:"order,omitempty"`
}

func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var resp tasksResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, nil, &t)
	return t, err
}

// CreateTask posts a new task. A non-empty idempotencyKey makes retries safe.
func (c *Client) CreateTask(ctx context.Context, in CreateInput, idempotencyKey string) (domain.Task, error) {
	var hdr http.Header
	if idempotencyKey != "" {
		hdr = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var t domain.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", hdr, in, &t)
	return t, err
}

// UpdateQuadrant implements matrix.Remote.
func (c *Client) UpdateQuadrant(ctx context.Context, id string, q domain.Quadrant) (domain.Task, error) {
	body := map[string]string{"quadrant": string(q)}
	var t domain.Task
	err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id)+"/quadrant", nil, body, &t)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		apiErr.kind = domain.ErrInvalidQuadrant
	}
	return t, err
}

func (c *Client) UpdateStatus(ctx context.Context, id string, s domain.Status) (domain.Task, error) {
	body := map[string]string{"status": string(s)}
	var t domain.Task
	err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id)+"/status", nil, body, &t)
	return t, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil, nil)
}

// Matrix fetches the server-side grouping.
func (c *Client) Matrix(ctx context.Context, scope domain.Scope) (matrix.Grouping, error) {
	var g matrix.Grouping
	path := "/api/matrix?scope=" + url.QueryEscape(string(scope))
	err := c.do(ctx, http.MethodGet, path, nil, nil, &g)
	return g, err
}

func (c *Client) do(ctx context.Context, method, path string, hdr http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s %s: %v", domain.ErrRemoteUnavailable, method, path, ctxErr)
		}
		return fmt.Errorf("%w: %s %s: %v", domain.ErrRemoteUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", domain.ErrRemoteUnavailable, method, path, err)
	}
	return nil
}

// APIError carries the server's error message. It wraps the domain error
// that matches the status code.
type APIError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (status %d)", e.kind, e.StatusCode)
	}
	return fmt.Sprintf("%v (status %d): %s", e.kind, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

// ErrConflict is returned for replayed idempotency keys.
var ErrConflict = errors.New("conflict")

// ErrBadRequest covers 400 responses that are not about the quadrant.
var ErrBadRequest = errors.New("bad request")

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := sonic.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg, kind: kindForStatus(resp.StatusCode, msg)}
}

func kindForStatus(code int, msg string) error {
	switch {
	case code == http.StatusBadRequest:
		if strings.Contains(msg, domain.ErrInvalidQuadrant.Error()) {
			return domain.ErrInvalidQuadrant
		}
		return ErrBadRequest
	case code == http.StatusNotFound:
		return domain.ErrNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return domain.ErrPermissionDenied
	case code == http.StatusConflict:
		return ErrConflict
	default:
		return domain.ErrRemoteUnavailable
	}
}
