package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
	"github.com/vyrodovalexey/keyrelay/internal/guard"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

// KeyService is the mutation and read surface the admin API needs.
// coordinator.Coordinator implements it.
type KeyService interface {
	Create(ctx context.Context, rec accesskey.Record) (*accesskey.Record, error)
	Update(ctx context.Context, key string, patch accesskey.Patch) (*accesskey.Record, error)
	Delete(ctx context.Context, key string) error
	Disable(ctx context.Context, key string) (*accesskey.Record, bool, error)
	Get(ctx context.Context, key string) (*accesskey.Record, error)
	List(ctx context.Context) ([]*accesskey.Record, error)
}

// createKeyRequest is the POST /admin/key body. Enabled is not accepted;
// new keys are always enabled.
type createKeyRequest struct {
	Key             string `json:"key"`
	RateLimitPerMin int64  `json:"rateLimitPerMin"`
	ExpiresAt       int64  `json:"expiresAt"`
}

// KeyHandler serves the admin and user key routes.
type KeyHandler struct {
	keys   KeyService
	logger observability.Logger
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(keys KeyService, logger observability.Logger) *KeyHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &KeyHandler{keys: keys, logger: logger}
}

// RegisterAdminRoutes mounts the /admin routes on g.
func (h *KeyHandler) RegisterAdminRoutes(g *gin.RouterGroup) {
	g.POST("/key", h.create)
	g.GET("/keys", h.list)
	g.GET("/key/:id", h.get)
	g.PUT("/key/:id", h.update)
	g.DELETE("/key/:id", h.delete)
}

// RegisterUserRoutes mounts the /user routes on g.
func (h *KeyHandler) RegisterUserRoutes(g *gin.RouterGroup) {
	g.GET("/key-info", h.keyInfo)
	g.PUT("/disable-key", h.disableKey)
}

func (h *KeyHandler) create(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.keys.Create(c.Request.Context(), accesskey.Record{
		Key:             req.Key,
		RateLimitPerMin: req.RateLimitPerMin,
		ExpiresAt:       req.ExpiresAt,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, "Key created", rec)
}

func (h *KeyHandler) list(c *gin.Context) {
	recs, err := h.keys.List(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Keys retrieved", recs)
}

func (h *KeyHandler) get(c *gin.Context) {
	rec, err := h.keys.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Key retrieved", rec)
}

func (h *KeyHandler) update(c *gin.Context) {
	var patch accesskey.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.keys.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Key updated", rec)
}

func (h *KeyHandler) delete(c *gin.Context) {
	if err := h.keys.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Key deleted", nil)
}

func (h *KeyHandler) keyInfo(c *gin.Context) {
	key, ok := apiKey(c)
	if !ok {
		return
	}

	rec, err := h.keys.Get(c.Request.Context(), key)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Key info retrieved", rec)
}

func (h *KeyHandler) disableKey(c *gin.Context) {
	key, ok := apiKey(c)
	if !ok {
		return
	}

	rec, changed, err := h.keys.Disable(c.Request.Context(), key)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !changed {
		respond(c, http.StatusOK, "Key already disabled", rec)
		return
	}
	respond(c, http.StatusOK, "Key disabled", rec)
}

var userKeyExtractor = guard.NewHeaderExtractor(HeaderAPIKey)

// apiKey reads the caller's own key from the x-api-key header, writing a
// 400 when it is absent.
func apiKey(c *gin.Context) (string, bool) {
	key, err := userKeyExtractor.Extract(c.Request)
	if err != nil {
		respondError(c, http.StatusBadRequest, "x-api-key header is required")
		return "", false
	}
	return key, true
}
