// VibePHP Authentication Middleware

package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/InvictusSEO/vibephp/internal/auth"
)

const clientKeyKey = "client_key"

// RequireToken validates bearer tokens and stores the client key. Browsers
// cannot set headers on WebSocket upgrades, so a token query parameter is
// accepted too. A nil service disables the check.
func RequireToken(svc *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			c.Next()
			return
		}

		token, err := tokenFromRequest(c)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "INVALID_AUTH_HEADER", err.Error(), nil)
			return
		}
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Authorization header is required", nil)
			return
		}

		claims, err := svc.Validate(token)
		if err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, auth.ErrTokenExpired) {
				code = "TOKEN_EXPIRED"
			}
			abortWithError(c, http.StatusUnauthorized, code, err.Error(), nil)
			return
		}

		c.Set(clientKeyKey, claims.ClientKey)
		c.Next()
	}
}

func tokenFromRequest(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return c.Query("token"), nil
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", errors.New("invalid authorization header format, expected 'Bearer <token>'")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", errors.New("token cannot be empty")
	}
	return token, nil
}

// ClientKey returns the authenticated client key, if any.
func ClientKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(clientKeyKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
