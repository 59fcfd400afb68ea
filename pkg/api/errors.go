package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// kindStatus maps a terrors.Kind to the HTTP status code it should surface
// as. Kinds not listed fall back to 500.
var kindStatus = map[terrors.Kind]int{
	terrors.KindValidation:     http.StatusBadRequest,
	terrors.KindPathNotAllowed: http.StatusForbidden,
	terrors.KindCommandBlocked: http.StatusForbidden,
	terrors.KindRateLimited:    http.StatusTooManyRequests,
	terrors.KindNotFound:       http.StatusNotFound,
	terrors.KindIO:             http.StatusBadGateway,
	terrors.KindTimeout:        http.StatusGatewayTimeout,
	terrors.KindCorrupted:      http.StatusUnprocessableEntity,
	terrors.KindStateConflict:  http.StatusConflict,
	terrors.KindInternal:       http.StatusInternalServerError,
}

// writeError maps err to an HTTP status and JSON body and writes it. Any
// *terrors.Error is rendered with its full Kind/Suggestion/Retryable
// detail; anything else is logged and reported as an opaque 500 so
// internal error text never reaches a client.
func writeError(c *gin.Context, err error) {
	var te *terrors.Error
	if errors.As(err, &te) {
		status, ok := kindStatus[te.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		c.JSON(status, ErrorResponse{
			Kind:       string(te.Kind),
			Message:    te.Message,
			Suggestion: te.Suggestion,
			Retryable:  te.Retryable,
			RetryAfter: te.RetryAfter,
		})
		return
	}

	slog.Error("unhandled api error", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Kind:    string(terrors.KindInternal),
		Message: "internal server error",
	})
}
