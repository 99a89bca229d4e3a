package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keyrelay/internal/observability"
	"github.com/vyrodovalexey/keyrelay/internal/tokeninfo"
)

// TokenLookup resolves token information. tokeninfo.Service implements it.
type TokenLookup interface {
	Lookup(ctx context.Context, platform, tokenID string) (*tokeninfo.Info, error)
}

// TokenHandler serves GET /token. It expects to run behind the access
// guard middleware.
type TokenHandler struct {
	lookup TokenLookup
	logger observability.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(lookup TokenLookup, logger observability.Logger) *TokenHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TokenHandler{lookup: lookup, logger: logger}
}

// Get handles GET /token?tokenId=&platform=.
func (h *TokenHandler) Get(c *gin.Context) {
	info, err := h.lookup.Lookup(c.Request.Context(), c.Query("platform"), c.Query("tokenId"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Token info retrieved", info)
}
