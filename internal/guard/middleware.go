package guard

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKey is the gin context key holding the authorized access key.
const ContextKey = "accessKey"

// unauthorizedBody is the single response body for every denial.
var unauthorizedBody = gin.H{
	"statusCode": http.StatusUnauthorized,
	"message":    "Unauthorized",
	"error":      "Unauthorized",
	"data":       nil,
}

// Middleware returns a gin handler that aborts denied requests with 401
// and stores the key of allowed ones under ContextKey.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Evaluate(c.Request.Context(), c.Request)
		if !d.Allowed {
			c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorizedBody)
			return
		}
		c.Set(ContextKey, d.Key)
		c.Next()
	}
}

// KeyFromContext returns the access key stored by Middleware.
func KeyFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextKey)
	if !ok {
		return "", false
	}
	key, ok := v.(string)
	return key, ok
}
