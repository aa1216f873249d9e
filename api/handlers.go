package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services, logger *log.Logger) {
	s := &server{Services: svc, log: logger}

	e.GET("/healthz", healthz)

	g := e.Group("/api")
	g.PUT("/tasks/reorder", s.route("/api/tasks/reorder", s.idempotent(s.reorderTasks)))
	g.GET("/tasks/stats", s.route("/api/tasks/stats", s.getSummary))
	g.POST("/tasks", s.route("/api/tasks", s.idempotent(s.createTask)))
	g.GET("/tasks", s.route("/api/tasks", s.listTasks))
	g.GET("/tasks/:id", s.route("/api/tasks/:id", s.getTask))
	g.PUT("/tasks/:id", s.route("/api/tasks/:id", s.updateTask))
	g.PATCH("/tasks/:id/status", s.route("/api/tasks/:id/status", s.updateTaskStatus))
	g.DELETE("/tasks/:id", s.route("/api/tasks/:id", s.deleteTask))
	if svc.Events != nil {
		g.GET("/tasks/events", s.streamEvents)
	}
}

type server struct {
	Services
	log *log.Logger
}

// handlerFunc serves a request of an authenticated user.
type handlerFunc func(c echo.Context, userID string, m *requestMetrics) error

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// route authenticates the caller and reports request metrics around fn.
func (s *server) route(name string, fn handlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), s.log, name)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			metrics.SetCause(authErr)
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
		}
		return fn(c, userID, metrics)
	}
}

// idempotent refuses a request whose Idempotency-Key was already seen for
// the user. The key is released again when the request does not succeed.
func (s *server) idempotent(fn handlerFunc) handlerFunc {
	return func(c echo.Context, userID string, m *requestMetrics) error {
		key := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
		if s.Deduper == nil || key == "" {
			return fn(c, userID, m)
		}
		ctx := c.Request().Context()
		added, err := s.Deduper.Add(ctx, userID, key)
		if err != nil {
			// the store of keys is an optimisation, serve the request anyway
			s.log.WithFields(log.Fields{"user": userID, "key": key}).Warnf("idempotency check failed: %v", err)
			return fn(c, userID, m)
		}
		if !added {
			m.SetErrorStage("duplicate")
			return c.JSON(http.StatusConflict, errorResponse{Error: msgDuplicateRequest})
		}

		err = fn(c, userID, m)
		if err != nil || c.Response().Status >= http.StatusBadRequest {
			if rerr := s.Deduper.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil {
				s.log.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, key, userID)
			}
		}
		return err
	}
}

func (s *server) createTask(c echo.Context, userID string, m *requestMetrics) error {
	const serverMsg = "Server error. Could not create task."
	body, err := decodeObject(c)
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}
	in, err := decodeTaskInput(body)
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}

	start := time.Now()
	task, err := s.Tasks.Create(c.Request().Context(), userID, in)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}
	return encode(c, m, http.StatusCreated, newTaskResponse(task, time.Now()))
}

func (s *server) listTasks(c echo.Context, userID string, m *requestMetrics) error {
	start := time.Now()
	tasks, err := s.Tasks.Search(c.Request().Context(), userID, c.QueryParam("status"), c.QueryParam("q"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err, "Server error. Could not fetch tasks.")
	}
	m.SetTasksReturned(len(tasks))
	return encode(c, m, http.StatusOK, newTaskResponses(tasks, time.Now()))
}

func (s *server) getSummary(c echo.Context, userID string, m *requestMetrics) error {
	start := time.Now()
	summary, err := s.Tasks.Summary(c.Request().Context(), userID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err, "Server error. Could not fetch task statistics.")
	}
	return encode(c, m, http.StatusOK, summary)
}

func (s *server) getTask(c echo.Context, userID string, m *requestMetrics) error {
	start := time.Now()
	task, err := s.Tasks.Get(c.Request().Context(), userID, c.Param("id"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err, "Server error. Could not fetch task.")
	}
	return encode(c, m, http.StatusOK, newTaskResponse(task, time.Now()))
}

func (s *server) updateTask(c echo.Context, userID string, m *requestMetrics) error {
	const serverMsg = "Server error. Could not update task."
	body, err := decodeObject(c)
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}
	patch, err := decodeTaskPatch(body)
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}

	start := time.Now()
	task, err := s.Tasks.UpdateFields(c.Request().Context(), userID, c.Param("id"), patch)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}
	return encode(c, m, http.StatusOK, newTaskResponse(task, time.Now()))
}

func (s *server) updateTaskStatus(c echo.Context, userID string, m *requestMetrics) error {
	const serverMsg = "Server error. Could not update task status."
	body, err := decodeObject(c)
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}
	status, _ := body["status"].(string)

	start := time.Now()
	task, err := s.Tasks.UpdateStatus(c.Request().Context(), userID, c.Param("id"), status)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}
	return encode(c, m, http.StatusOK, newTaskResponse(task, time.Now()))
}

func (s *server) deleteTask(c echo.Context, userID string, m *requestMetrics) error {
	start := time.Now()
	err := s.Tasks.Delete(c.Request().Context(), userID, c.Param("id"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err, "Server error. Could not delete task.")
	}
	return encode(c, m, http.StatusOK, messageResponse{Message: "Task deleted successfully"})
}

func (s *server) reorderTasks(c echo.Context, userID string, m *requestMetrics) error {
	const serverMsg = "Server error. Could not reorder tasks."
	body, err := decodeObject(c)
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}
	assignments, err := decodeAssignments(body)
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}

	start := time.Now()
	_, err = s.Reorder.Reorder(c.Request().Context(), userID, assignments)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err, serverMsg)
	}
	return encode(c, m, http.StatusOK, messageResponse{Message: "Tasks reordered successfully"})
}

func encode(c echo.Context, m *requestMetrics, status int, v any) error {
	start := time.Now()
	err := c.JSON(status, v)
	m.ObserveEncode(time.Since(start))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}
