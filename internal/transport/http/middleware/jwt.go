package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"studymate/internal/pkg/jwtutil"
	"studymate/internal/transport/http/response"
)

const (
	ContextUserIDKey   = "user_id"
	ContextUsernameKey = "username"

	// queryTokenParam carries the JWT for clients that cannot set headers,
	// such as a browser EventSource on the progress stream.
	queryTokenParam = "access_token"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return authJWT(secret, false)
}

// AuthJWTWithQuery also accepts the token from the access_token query parameter.
func AuthJWTWithQuery(secret string) gin.HandlerFunc {
	return authJWT(secret, true)
}

func authJWT(secret string, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		var token string
		switch {
		case authHeader != "":
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				response.Error(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
				c.Abort()
				return
			}
			token = strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		case allowQuery && c.Query(queryTokenParam) != "":
			token = strings.TrimSpace(c.Query(queryTokenParam))
		default:
			response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil || claims.UserID == "" {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextUsernameKey, claims.Username)
		c.Next()
	}
}
