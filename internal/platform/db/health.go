package db

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthStatus is the body of the store health endpoint.
type HealthStatus struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Migrations string `json:"migrations"`
}

// HealthHandler returns a handler that pings the store and reports the
// migrator state.
func HealthHandler(d Driver, m *Migrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := HealthStatus{Status: "healthy", Migrations: m.State().String()}
		if err := d.Ping(ctx); err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, status)
		}
		return c.JSON(http.StatusOK, status)
	}
}
