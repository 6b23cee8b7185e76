package handler

import (
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
)

// Health reports process and database liveness.
func Health(db *sqlx.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := http.StatusOK
		dbState := "up"
		if err := db.PingContext(c.Request().Context()); err != nil {
			status = http.StatusServiceUnavailable
			dbState = "down"
		}
		return c.JSON(status, map[string]string{"status": "ok", "database": dbState})
	}
}
