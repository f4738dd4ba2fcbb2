package apiserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const authInfoKey = "apiserver_auth_info"

// AuthMiddleware resolves the bearer token in the Authorization header
// through auth and stores the resulting AuthInfo on the gin context for
// handlers to read via GetAuthInfo. A resolution failure aborts the
// request with 401 before any handler or consent check runs.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		info, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: "unauthorized"})
			return
		}
		c.Set(authInfoKey, info)
		c.Next()
	}
}

// GetAuthInfo returns the AuthInfo AuthMiddleware attached to c, or the
// zero value if the middleware was not installed.
func GetAuthInfo(c *gin.Context) AuthInfo {
	v, ok := c.Get(authInfoKey)
	if !ok {
		return AuthInfo{}
	}
	info, _ := v.(AuthInfo)
	return info
}
