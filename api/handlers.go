package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

type handlers struct {
	sessions *Sessions
	auth     Authenticator
	deduper  Deduper
	logger   *log.Logger
}

// Register wires up all API routes on the provided Echo instance. auth and
// deduper may be nil; without auth every request is anonymous.
func Register(e *echo.Echo, sessions *Sessions, auth Authenticator, deduper Deduper, logger *log.Logger) {
	h := &handlers{sessions: sessions, auth: auth, deduper: deduper, logger: logger}

	e.GET("/healthz", h.healthz)

	g := e.Group("/api", RequestMetrics(logger))
	g.GET("/board", h.getBoard)
	g.POST("/board/reload", h.reloadBoard)
	g.GET("/board/stream", h.streamBoard)
	g.POST("/tasks", h.postTask)
	g.DELETE("/tasks/:id", h.deleteTask)
	g.POST("/tasks/:id/toggle", h.toggleTask)
	g.POST("/tasks/:id/move", h.moveTask)
}

func (h *handlers) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "sessions": h.sessions.Len()})
}

// session resolves the session of a request. A bearer token selects the
// user's session; otherwise the X-Board-Session header does, and a fresh id
// is issued when it is missing. Browsers cannot set headers on EventSource,
// so token and session are also read from the query string.
func (h *handlers) session(c echo.Context) (*Session, error) {
	m := metricsFrom(c)
	req := c.Request()

	authHeader := req.Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if token := c.QueryParam("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	var userID string
	if authHeader != "" {
		if h.auth == nil {
			m.SetErrorStage("auth")
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication is not configured")
		}
		var err error
		userID, err = h.auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			m.SetErrorStage("auth")
			return nil, echo.NewHTTPError(http.StatusUnauthorized, err.Error()).SetInternal(err)
		}
	}

	anonID := ""
	if userID == "" {
		anonID = strings.TrimSpace(req.Header.Get(headerSession))
		if anonID == "" {
			anonID = strings.TrimSpace(c.QueryParam("session"))
		}
		if anonID == "" {
			anonID = uuid.NewString()
		}
		c.Response().Header().Set(headerSession, anonID)
		m.SetSessionKind("anonymous")
	} else {
		m.SetSessionKind("user")
	}

	sess, err := h.sessions.Get(req.Context(), userID, anonID)
	if err != nil {
		m.SetErrorStage("session")
		return nil, err
	}
	return sess, nil
}

func (h *handlers) getBoard(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	filter := domain.Filter{Query: c.QueryParam("q"), Priority: c.QueryParam("priority")}
	if p := strings.ToLower(strings.TrimSpace(filter.Priority)); p != "" && p != "all" {
		if _, err := domain.ParsePriority(p); err != nil {
			return h.fail(c, "invalid_filter", err)
		}
	}

	tasks := sess.Engine.Tasks()
	resp := boardResponse{
		Identity:      sess.UserID,
		Tasks:         tasks,
		Columns:       domain.GroupByColumn(filter.Apply(tasks)),
		Stats:         sess.Engine.Stats(),
		Notifications: sess.Drain(),
		PendingWrites: sess.Engine.PendingWrites(),
	}
	metricsFrom(c).SetTasksReturned(len(tasks))
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) reloadBoard(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	if err := h.sessions.Reload(c.Request().Context(), sess); err != nil {
		return h.fail(c, "load", err)
	}
	tasks := sess.Engine.Tasks()
	metricsFrom(c).SetTasksReturned(len(tasks))
	return c.JSON(http.StatusOK, tasks)
}

func (h *handlers) postTask(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var in domain.NewTask
	if err := c.Bind(&in); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return err
	}

	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key != "" && h.deduper != nil {
		added, err := h.deduper.Add(ctx, sess.Key, key)
		if err != nil {
			// Deduplication is best effort.
			h.logger.WithError(err).Warn("idempotency check failed")
		} else if !added {
			metricsFrom(c).SetErrorStage("duplicate")
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
	}

	task, err := sess.Engine.AddTask(ctx, in)
	if err != nil {
		if key != "" && h.deduper != nil {
			if rerr := h.deduper.Remove(ctx, sess.Key, key); rerr != nil {
				h.logger.WithError(rerr).Warn("release idempotency key")
			}
		}
		return h.fail(c, "add", err)
	}
	h.sessions.Save(ctx, sess)
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) deleteTask(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	sess.Engine.DeleteTask(c.Request().Context(), c.Param("id"))
	h.sessions.Save(c.Request().Context(), sess)
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) toggleTask(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	task, err := sess.Engine.ToggleTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "toggle", err)
	}
	h.sessions.Save(c.Request().Context(), sess)
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) moveTask(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req moveRequest
	if err := c.Bind(&req); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return err
	}
	target, err := domain.ParseColumn(req.Column)
	if err != nil {
		return h.fail(c, "move", err)
	}
	task, err := sess.Engine.MoveTask(c.Request().Context(), c.Param("id"), target, req.FailureReason)
	if err != nil {
		return h.fail(c, "move", err)
	}
	h.sessions.Save(c.Request().Context(), sess)
	return c.JSON(http.StatusOK, task)
}

// fail maps board errors to responses.
func (h *handlers) fail(c echo.Context, stage string, err error) error {
	metricsFrom(c).SetErrorStage(stage)

	var validation *domain.ValidationError
	var readErr *domain.RemoteReadError
	switch {
	case errors.As(err, &validation):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: validation.Reason, Field: validation.Field})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &readErr):
		return c.JSON(http.StatusBadGateway, errorResponse{Error: readErr.Error()})
	}
	h.logger.WithError(err).Errorf("%s failed", stage)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}
