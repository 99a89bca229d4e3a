package guard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(g *Guard) *gin.Engine {
	r := gin.New()
	r.GET("/token", g.Middleware(), func(c *gin.Context) {
		key, _ := KeyFromContext(c)
		c.JSON(http.StatusOK, gin.H{"key": key})
	})
	return r
}

func TestMiddleware_DenialsAreUniform(t *testing.T) {
	t.Parallel()

	g, _ := newGuard(t,
		accesskey.Record{Key: "disabled", RateLimitPerMin: 5, ExpiresAt: future},
		accesskey.Record{Key: "expired", RateLimitPerMin: 5, ExpiresAt: past, Enabled: true},
		accesskey.Record{Key: "limited", RateLimitPerMin: 1, ExpiresAt: future, Enabled: true},
	)
	router := newRouter(g)

	// Spend the only call allowed for "limited".
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	req.Header.Set("Authorization", "Bearer limited")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var bodies []string
	for _, header := range []string{"", "Token abc", "Bearer unknown", "Bearer disabled", "Bearer expired", "Bearer limited"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/token", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		bodies = append(bodies, w.Body.String())
	}

	for _, body := range bodies[1:] {
		assert.JSONEq(t, bodies[0], body, "denial body does not reveal the failed check")
	}

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &resp))
	assert.InDelta(t, 401, resp["statusCode"], 0)
	assert.Equal(t, "Unauthorized", resp["message"])
	assert.Nil(t, resp["data"])
}

func TestMiddleware_AllowsAndExposesKey(t *testing.T) {
	t.Parallel()

	g, _ := newGuard(t, accesskey.Record{Key: "abc", RateLimitPerMin: 5, ExpiresAt: future, Enabled: true})
	router := newRouter(g)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	req.Header.Set("Authorization", "Bearer abc")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"key":"abc"}`, w.Body.String())
}
