package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/abdihakim148/beekeeper/internal/service"
)

const tokenInfoKey = "tokenInfo"

// Auth guards routes behind a verified bearer access token.
type Auth struct {
	Tokens *service.TokenService
}

// ValidateToken verifies the Authorization header and stashes the token info
// on the request context for handlers.
func (m *Auth) ValidateToken(c *gin.Context) {
	material, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.Header("WWW-Authenticate", "Bearer")
		unauthorized(c, "Bearer token required.")
		return
	}

	info, err := m.Tokens.Verify(c.Request.Context(), material, "")
	if err != nil {
		unauthorized(c, "Invalid access token.")
		return
	}

	c.Set(tokenInfoKey, info)
	c.Next()
}

// GetTokenInfo exposes the verified token to handlers.
func GetTokenInfo(c *gin.Context) (*service.TokenInfo, bool) {
	value, ok := c.Get(tokenInfoKey)
	if !ok {
		return nil, false
	}
	info, ok := value.(*service.TokenInfo)
	return info, ok
}

func bearerToken(header string) (string, bool) {
	scheme, material, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	material = strings.TrimSpace(material)
	return material, material != ""
}

func unauthorized(c *gin.Context, description string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             "invalid_token",
		"error_description": description,
	})
}
