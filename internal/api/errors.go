package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jensholdgaard/event-scheduler/internal/schedule"
	"github.com/jensholdgaard/event-scheduler/internal/store"
)

// statusFor maps an operation error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schedule.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAlreadyScheduled), errors.Is(err, store.ErrIllegalState):
		return http.StatusConflict
	case errors.Is(err, store.ErrNoResult):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as {"error": ...}. Unclassified failures are logged and
// their detail withheld from the client.
func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "unhandled request error",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		msg = http.StatusText(code)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
