// Errors translates component-level sentinel errors into HTTP status
// codes, grounded on the teacher's pkg/api/errors.go mapServiceError --
// same errors.Is/errors.As dispatch shape, translated from an
// echo.HTTPError return value to a direct gin.Context write.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgerun/forge/pkg/scheduler"
)

// writeError maps a component error to the appropriate HTTP status and
// writes a JSON body of {"error": "..."}.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrGoalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "goal not found"})
	case errors.Is(err, scheduler.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	default:
		slog.Error("unexpected api error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
