package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-plan/domain"
	"prism-plan/matrix"
)

const publishTimeout = 5 * time.Second

// Register wires up all API routes on the provided Echo instance. pub and
// dedupe may be nil.
func Register(e *echo.Echo, store Storage, auth Authenticator, dedupe Deduper, pub Publisher, logger *log.Logger) {
	h := &handlers{store: store, auth: auth, dedupe: dedupe, pub: pub, log: logger}
	e.GET("/api/tasks", h.listTasks)
	e.GET("/api/tasks/:id", h.getTask)
	e.POST("/api/tasks", h.createTask)
	e.PATCH("/api/tasks/:id/quadrant", h.updateQuadrant)
	e.PATCH("/api/tasks/:id/status", h.updateStatus)
	e.DELETE("/api/tasks/:id", h.deleteTask)
	e.GET("/api/matrix", h.getMatrix)
	e.GET("/healthz", healthz)
}

type handlers struct {
	store  Storage
	auth   Authenticator
	dedupe Deduper
	pub    Publisher
	log    *log.Logger
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// begin starts request metrics and authenticates the caller. A non-nil error
// means the response has already been written.
func (h *handlers) begin(c echo.Context, route string) (*requestMetrics, context.Context, string, error) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), h.log, route)
	c.SetRequest(c.Request().WithContext(ctx))

	authStart := time.Now()
	userID, err := h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	metrics.ObserveAuth(time.Since(authStart))
	if err != nil {
		metrics.SetErrorStage("auth")
		if werr := c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()}); werr != nil {
			return metrics, ctx, "", werr
		}
		return metrics, ctx, "", err
	}
	return metrics, ctx, userID, nil
}

func (h *handlers) listTasks(c echo.Context) (err error) {
	metrics, ctx, userID, authErr := h.begin(c, "/api/tasks")
	defer func() { metrics.Log(c.Response().Status, err) }()
	if authErr != nil {
		return nil
	}

	start := time.Now()
	tasks, storeErr := h.store.ListTasks(ctx, userID)
	metrics.ObserveStorage(time.Since(start))
	if storeErr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, storeErr)
	}
	metrics.SetTasksReturned(len(tasks))
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
}

func (h *handlers) getTask(c echo.Context) (err error) {
	metrics, ctx, userID, authErr := h.begin(c, "/api/tasks/:id")
	defer func() { metrics.Log(c.Response().Status, err) }()
	if authErr != nil {
		return nil
	}

	start := time.Now()
	task, storeErr := h.store.GetTask(ctx, userID, c.Param("id"))
	metrics.ObserveStorage(time.Since(start))
	if storeErr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, storeErr)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) createTask(c echo.Context) (err error) {
	metrics, ctx, userID, authErr := h.begin(c, "/api/tasks")
	defer func() { metrics.Log(c.Response().Status, err) }()
	if authErr != nil {
		return nil
	}

	var req createTaskRequest
	if decErr := decodeBody(c, &req); decErr != nil {
		metrics.SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	if strings.TrimSpace(req.Title) == "" {
		metrics.SetErrorStage("validate")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "title is required"})
	}
	q, qErr := domain.ParseQuadrant(req.Quadrant)
	if qErr != nil {
		metrics.SetErrorStage("validate")
		return writeError(c, qErr)
	}
	status := domain.StatusOpen
	if req.Status != "" {
		st, stErr := domain.ParseStatus(req.Status)
		if stErr != nil {
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: stErr.Error()})
		}
		status = st
	}
	metrics.SetQuadrant(q.String())

	key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
	if key != "" && h.dedupe != nil {
		added, dErr := h.dedupe.Add(ctx, userID, key)
		if dErr != nil {
			metrics.SetErrorStage("idempotency")
			return writeError(c, dErr)
		}
		if !added {
			metrics.SetErrorStage("duplicate")
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
	}

	task := domain.Task{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(req.Title),
		Notes:     req.Notes,
		Quadrant:  q,
		Status:    status,
		Order:     req.Order,
		UpdatedAt: serverTime(time.Time{}),
	}
	start := time.Now()
	putErr := h.store.PutTask(ctx, userID, task)
	metrics.ObserveStorage(time.Since(start))
	if putErr != nil {
		if key != "" && h.dedupe != nil {
			if rmErr := h.dedupe.Remove(ctx, userID, key); rmErr != nil {
				h.logger().WithError(rmErr).Warn("release idempotency key")
			}
		}
		metrics.SetErrorStage("storage")
		return writeError(c, putErr)
	}
	h.publish(ctx, userID, domain.ChangeInsert, task)
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) updateQuadrant(c echo.Context) (err error) {
	metrics, ctx, userID, authErr := h.begin(c, "/api/tasks/:id/quadrant")
	defer func() { metrics.Log(c.Response().Status, err) }()
	if authErr != nil {
		return nil
	}

	var req quadrantRequest
	if decErr := decodeBody(c, &req); decErr != nil || req.Quadrant == nil {
		metrics.SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	q, qErr := domain.ParseQuadrant(*req.Quadrant)
	if qErr != nil {
		metrics.SetErrorStage("validate")
		return writeError(c, qErr)
	}
	metrics.SetQuadrant(q.String())

	task, mErr := h.mutate(ctx, metrics, userID, c.Param("id"), func(t *domain.Task) { t.Quadrant = q })
	if mErr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, mErr)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) updateStatus(c echo.Context) (err error) {
	metrics, ctx, userID, authErr := h.begin(c, "/api/tasks/:id/status")
	defer func() { metrics.Log(c.Response().Status, err) }()
	if authErr != nil {
		return nil
	}

	var req statusRequest
	if decErr := decodeBody(c, &req); decErr != nil {
		metrics.SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	status, stErr := domain.ParseStatus(req.Status)
	if stErr != nil {
		metrics.SetErrorStage("validate")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: stErr.Error()})
	}

	task, mErr := h.mutate(ctx, metrics, userID, c.Param("id"), func(t *domain.Task) { t.Status = status })
	if mErr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, mErr)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) deleteTask(c echo.Context) (err error) {
	metrics, ctx, userID, authErr := h.begin(c, "/api/tasks/:id")
	defer func() { metrics.Log(c.Response().Status, err) }()
	if authErr != nil {
		return nil
	}

	id := c.Param("id")
	start := time.Now()
	delErr := h.store.DeleteTask(ctx, userID, id)
	metrics.ObserveStorage(time.Since(start))
	if delErr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, delErr)
	}
	h.publish(ctx, userID, domain.ChangeDelete, domain.Task{ID: id, UpdatedAt: serverTime(time.Time{})})
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) getMatrix(c echo.Context) (err error) {
	metrics, ctx, userID, authErr := h.begin(c, "/api/matrix")
	defer func() { metrics.Log(c.Response().Status, err) }()
	if authErr != nil {
		return nil
	}

	scope, scErr := domain.ParseScope(c.QueryParam("scope"))
	if scErr != nil {
		metrics.SetErrorStage("validate")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: scErr.Error()})
	}
	start := time.Now()
	tasks, storeErr := h.store.ListTasks(ctx, userID)
	metrics.ObserveStorage(time.Since(start))
	if storeErr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, storeErr)
	}
	g := matrix.GroupTasks(tasks, scope)
	metrics.SetTasksReturned(g.Len())
	return c.JSON(http.StatusOK, g)
}

// mutate applies fn to the stored task, stamps a fresh server time and
// writes it back.
func (h *handlers) mutate(ctx context.Context, metrics *requestMetrics, userID, id string, fn func(*domain.Task)) (domain.Task, error) {
	start := time.Now()
	defer func() { metrics.ObserveStorage(time.Since(start)) }()

	task, err := h.store.GetTask(ctx, userID, id)
	if err != nil {
		return domain.Task{}, err
	}
	fn(&task)
	task.UpdatedAt = serverTime(task.UpdatedAt)
	if err := h.store.PutTask(ctx, userID, task); err != nil {
		return domain.Task{}, err
	}
	h.publish(ctx, userID, domain.ChangeUpdate, task)
	return task, nil
}

// publish never fails the request; subscribers that miss an event catch up
// on their next resync.
func (h *handlers) publish(ctx context.Context, userID string, kind domain.ChangeKind, task domain.Task) {
	if h.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	ev := domain.ChangeEvent{UserID: userID, Kind: kind, Task: task}
	if err := h.pub.Publish(ctx, ev); err != nil {
		h.logger().WithError(err).WithFields(log.Fields{
			"userId": userID,
			"taskId": task.ID,
			"type":   kind,
		}).Warn("publish change event")
	}
}

func (h *handlers) logger() *log.Logger {
	if h.log != nil {
		return h.log
	}
	return log.StandardLogger()
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidQuadrant):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrPermissionDenied):
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
