package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// streamKeepAlive bounds how long an idle stream stays silent.
var streamKeepAlive = 20 * time.Second

// streamBoard sends the task list as a server-sent event now and after every
// change, until the client leaves or the session is closed.
func (h *handlers) streamBoard(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	sess.streams.Add(1)
	defer sess.streams.Add(-1)

	changes, cancel := sess.Engine.Subscribe()
	defer cancel()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		data, err := sonic.Marshal(sess.Engine.Tasks())
		if err != nil {
			return err
		}
		if _, err := res.Write([]byte("data: ")); err != nil {
			return nil
		}
		if _, err := res.Write(data); err != nil {
			return nil
		}
		if _, err := res.Write([]byte("\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		for changed := false; !changed; {
			select {
			case <-ctx.Done():
				return nil
			case _, open := <-changes:
				if !open {
					return nil
				}
				changed = true
			case <-ticker.C:
				if _, err := res.Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
