package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/logmon/internal/monitoring/model"
)

// Authentication checks a static bearer token. An empty token allows all requests.
func Authentication(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
				Error: model.ErrorDetail{Code: "UNAUTHORIZED", Message: "missing or invalid bearer token"},
			})
			return
		}
		c.Next()
	}
}
