package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by the middleware for downstream handlers
const (
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "user_email"
)

// Middleware rejects requests without a valid Bearer access token
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := claimsFromRequest(c, jwtManager)
		if err != nil {
			authErr, ok := err.(AuthError)
			if !ok {
				authErr = ErrUnauthorized
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": authErr.Message,
				"code":    authErr.Code,
			})
			return
		}
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Next()
	}
}

// OptionalMiddleware attaches identity when a valid token is present but
// never rejects the request
func OptionalMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, err := claimsFromRequest(c, jwtManager); err == nil {
			c.Set(ContextKeyUserID, claims.UserID)
			c.Set(ContextKeyEmail, claims.Email)
		}
		c.Next()
	}
}

func claimsFromRequest(c *gin.Context, jwtManager *JWTManager) (*Claims, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, ErrInvalidToken
	}
	return jwtManager.ValidateAccessToken(parts[1])
}

// UserID extracts the authenticated user from the gin context
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
