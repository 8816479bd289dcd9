package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pillfolio/pillfolio/internal/validation"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// ErrorHandler renders handler errors. Validation failures become 422 with
// their field messages, echo errors keep their status, and anything else is
// logged and reported as 500.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := ErrorResponse{Message: "internal server error"}

		var verr *validation.Error
		var herr *echo.HTTPError
		switch {
		case errors.As(err, &verr):
			status = http.StatusUnprocessableEntity
			body = ErrorResponse{Message: "validation failed", Errors: verr.Fields}
		case errors.As(err, &herr):
			status = herr.Code
			if msg, ok := herr.Message.(string); ok {
				body.Message = msg
			} else {
				body.Message = http.StatusText(status)
			}
		default:
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}
