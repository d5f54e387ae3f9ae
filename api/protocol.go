package api

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"taskboard/domain"
)

const (
	postTaskMaxSize = 16 * 1024 // 16 KiB

	headerSession        = "X-Board-Session"
	headerIdempotencyKey = "Idempotency-Key"
)

// GET /api/board response body
type boardResponse struct {
	Identity      string                `json:"identity,omitempty"`
	Tasks         []domain.Task         `json:"tasks"`
	Columns       domain.Columns        `json:"columns"`
	Stats         domain.Stats          `json:"stats"`
	Notifications []domain.Notification `json:"notifications"`
	PendingWrites int                   `json:"pendingWrites"`
}

// POST /api/tasks/:id/move request body
type moveRequest struct {
	Column        string `json:"column"`
	FailureReason string `json:"failureReason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// SonicSerializer is an echo.JSONSerializer backed by sonic.
type SonicSerializer struct{}

func (SonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	var (
		data []byte
		err  error
	)
	if indent != "" {
		data, err = sonic.ConfigStd.MarshalIndent(i, "", indent)
	} else {
		data, err = sonic.Marshal(i)
	}
	if err != nil {
		return err
	}
	_, err = c.Response().Write(data)
	return err
}

func (SonicSerializer) Deserialize(c echo.Context, i any) error {
	lr := io.LimitReader(c.Request().Body, postTaskMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}
