package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.RemoteAddr = "10.0.0.1:4567"
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthentication(t *testing.T) {
	open := newRouter(Authentication(""))
	assert.Equal(t, http.StatusNoContent, do(open, "", "").Code)

	r := newRouter(Authentication("s3cret"))
	assert.Equal(t, http.StatusUnauthorized, do(r, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Authorization", "s3cret").Code)

	w := do(r, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, "", "")
	assert.JSONEq(t, `{"error":{"code":"UNAUTHORIZED","message":"missing or invalid bearer token"}}`, w.Body.String())
}

func TestRateLimit(t *testing.T) {
	r := newRouter(RateLimit(1, 2))

	assert.Equal(t, http.StatusNoContent, do(r, "", "").Code)
	assert.Equal(t, http.StatusNoContent, do(r, "", "").Code)

	w := do(r, "", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// another client has its own bucket
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.RemoteAddr = "10.0.0.2:1111"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAccessLog_PassesThrough(t *testing.T) {
	r := newRouter(AccessLog())
	assert.Equal(t, http.StatusNoContent, do(r, "", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
