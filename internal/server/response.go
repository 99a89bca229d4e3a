package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
	"github.com/vyrodovalexey/keyrelay/internal/tokeninfo"
)

// Envelope is the body of every API response.
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
	Data       any    `json:"data"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{StatusCode: status, Message: message, Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Envelope{
		StatusCode: status,
		Message:    message,
		Error:      http.StatusText(status),
	})
}

// writeError maps a domain error to a status code and a client-safe
// message. Infrastructure causes are logged, never returned.
func writeError(c *gin.Context, logger observability.Logger, err error) {
	var verr *accesskey.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(c, http.StatusBadRequest, verr.Error())
	case errors.Is(err, accesskey.ErrConflict):
		respondError(c, http.StatusConflict, "Key already exists")
	case errors.Is(err, accesskey.ErrNotFound):
		respondError(c, http.StatusNotFound, "Key not found")
	case errors.Is(err, tokeninfo.ErrUnsupportedPlatform):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, tokeninfo.ErrMissingTokenID):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, accesskey.ErrInfrastructure):
		logger.Error("request failed",
			observability.String("path", c.FullPath()),
			observability.String("request_id", observability.RequestIDFromContext(c.Request.Context())),
			observability.Error(errors.Unwrap(err)),
		)
		respondError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		logger.Error("unexpected error",
			observability.String("path", c.FullPath()),
			observability.Error(err),
		)
		respondError(c, http.StatusInternalServerError, "Internal server error")
	}
}
