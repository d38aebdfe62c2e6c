package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ValidationError is a 400: malformed input or a failed cross-reference
// check (e.g. evidence_run_mismatch, lesson_context_required).
type ValidationError struct {
	ReasonCode string
	Message    string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErr(reasonCode, message string) *ValidationError {
	return &ValidationError{ReasonCode: reasonCode, Message: message}
}

// ErrNotFound marks a lookup that found nothing within the workspace.
var ErrNotFound = errors.New("not found")

// mapError writes the appropriate HTTP status and body for err,
// following the spec's error kind table: a *ValidationError is a 400
// and ErrNotFound a 404; there is no conflict (409) mapping, so
// anything else is an opaque 500.
func mapError(c *gin.Context, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "reason_code": verr.ReasonCode})
		return
	}
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}

	slog.Error("unhandled api error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
