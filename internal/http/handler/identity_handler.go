package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abdihakim148/beekeeper/internal/domain"
	"github.com/abdihakim148/beekeeper/internal/http/middleware"
	"github.com/abdihakim148/beekeeper/internal/jwt"
	"github.com/abdihakim148/beekeeper/internal/service"
	"github.com/abdihakim148/beekeeper/internal/service/flow"
)

// IdentityHandler exposes the credential and OAuth endpoints.
type IdentityHandler struct {
	Credentials *service.CredentialService
	Tokens      *service.TokenService
	Flow        *flow.Engine
	Keys        *jwt.KeyManager
	Discovery   *service.DiscoveryService
}

// NewIdentityHandler creates the handler set.
func NewIdentityHandler(credentials *service.CredentialService, tokens *service.TokenService, flowEngine *flow.Engine, keys *jwt.KeyManager, discovery *service.DiscoveryService) *IdentityHandler {
	return &IdentityHandler{
		Credentials: credentials,
		Tokens:      tokens,
		Flow:        flowEngine,
		Keys:        keys,
		Discovery:   discovery,
	}
}

// Register creates a new user from email and password.
func (h *IdentityHandler) Register(c *gin.Context) {
	var req struct {
		Email    string   `json:"email" binding:"required"`
		Name     string   `json:"name"`
		Password string   `json:"password" binding:"required"`
		Scopes   []string `json:"scopes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email and password are required."})
		return
	}

	user, err := h.Credentials.Register(c.Request.Context(), service.RegisterInput{
		Email:  req.Email,
		Name:   req.Name,
		Secret: req.Password,
		Scopes: req.Scopes,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrWeakSecret):
			c.JSON(http.StatusBadRequest, gin.H{"error": "weak_password", "error_description": err.Error()})
		case errors.Is(err, domain.ErrDuplicateIdentity):
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate_identity", "error_description": "An account with this email already exists."})
		default:
			respondServiceError(c, err)
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":    strconv.FormatInt(user.ID, 10),
		"email": user.Email,
		"name":  user.Name,
	})
}

// RotatePassword changes the caller's password after verifying the old one.
func (h *IdentityHandler) RotatePassword(c *gin.Context) {
	info, ok := middleware.GetTokenInfo(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}
	userID, err := strconv.ParseInt(info.Subject, 10, 64)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid_token", "error_description": "Token has no user subject."})
		return
	}

	var req struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "old_password and new_password are required."})
		return
	}

	if err := h.Credentials.Rotate(c.Request.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredential):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credential", "error_description": "Current password is incorrect."})
		case errors.Is(err, domain.ErrWeakSecret):
			c.JSON(http.StatusBadRequest, gin.H{"error": "weak_password", "error_description": err.Error()})
		default:
			respondServiceError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rotated"})
}

// Me returns the verified claims behind the bearer token.
func (h *IdentityHandler) Me(c *gin.Context) {
	info, ok := middleware.GetTokenInfo(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sub":        info.Subject,
		"scope":      strings.Join(info.Scopes, " "),
		"session_id": strconv.FormatInt(info.SessionID, 10),
		"expires_at": info.ExpiresAt.Unix(),
	})
}

// Authorize runs the front half of the authorization code flow. The resource
// owner authenticates with email and password in the same request; on
// success the code rides back on the redirect URI.
func (h *IdentityHandler) Authorize(c *gin.Context) {
	var req struct {
		ResponseType string `form:"response_type"`
		ClientID     string `form:"client_id" binding:"required"`
		RedirectURI  string `form:"redirect_uri" binding:"required"`
		Scope        string `form:"scope"`
		State        string `form:"state"`
		Email        string `form:"email" binding:"required"`
		Password     string `form:"password" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "client_id, redirect_uri, email and password are required."})
		return
	}
	if req.ResponseType != "" && !strings.EqualFold(req.ResponseType, "code") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_response_type", "error_description": "Only response_type=code is supported."})
		return
	}

	parsedRedirect, err := url.Parse(req.RedirectURI)
	if err != nil || parsedRedirect.Scheme == "" || parsedRedirect.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "redirect_uri must be absolute."})
		return
	}

	user, err := h.Credentials.Verify(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredential) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "access_denied", "error_description": "Invalid credentials."})
			return
		}
		respondServiceError(c, err)
		return
	}

	result, err := h.Flow.Authorize(c.Request.Context(), flow.AuthorizeInput{
		ClientID:    req.ClientID,
		UserID:      user.ID,
		RedirectURI: req.RedirectURI,
		Scopes:      domain.SplitScope(req.Scope),
	})
	if err != nil {
		respondOAuthError(c, err)
		return
	}

	q := parsedRedirect.Query()
	q.Set("code", result.Code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	parsedRedirect.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, parsedRedirect.String())
}

// Token handles the OAuth token endpoint grant switch.
func (h *IdentityHandler) Token(c *gin.Context) {
	var req struct {
		GrantType    string `form:"grant_type" binding:"required"`
		ClientID     string `form:"client_id"`
		ClientSecret string `form:"client_secret"`
		Code         string `form:"code"`
		RedirectURI  string `form:"redirect_uri"`
		RefreshToken string `form:"refresh_token"`
		Username     string `form:"username"`
		Password     string `form:"password"`
		Scope        string `form:"scope"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid token request."})
		return
	}

	var (
		grant *service.Grant
		err   error
	)
	switch strings.ToLower(req.GrantType) {
	case domain.GrantAuthorizationCode:
		grant, err = h.Flow.Exchange(c.Request.Context(), flow.ExchangeInput{
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			Code:         req.Code,
			RedirectURI:  req.RedirectURI,
		})
	case domain.GrantClientCredentials:
		grant, err = h.Flow.ClientCredentials(c.Request.Context(), req.ClientID, req.ClientSecret, domain.SplitScope(req.Scope))
	case domain.GrantRefreshToken:
		grant, err = h.Tokens.Refresh(c.Request.Context(), req.RefreshToken)
	case domain.GrantPassword:
		grant, err = h.Flow.Password(c.Request.Context(), flow.PasswordInput{
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			Identifier:   req.Username,
			Secret:       req.Password,
			Scopes:       domain.SplitScope(req.Scope),
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type", "error_description": "Unsupported grant type."})
		return
	}
	if err != nil {
		respondOAuthError(c, err)
		return
	}

	resp := gin.H{
		"access_token": grant.AccessToken,
		"token_type":   grant.TokenType,
		"expires_in":   grant.ExpiresIn,
		"scope":        grant.Scope,
	}
	if grant.RefreshToken != "" {
		resp["refresh_token"] = grant.RefreshToken
	}
	if grant.IDToken != "" {
		resp["id_token"] = grant.IDToken
	}
	c.JSON(http.StatusOK, resp)
}

// Introspect validates tokens per RFC 7662. Verification failures report
// active=false rather than an error.
func (h *IdentityHandler) Introspect(c *gin.Context) {
	var req struct {
		Token string `form:"token" json:"token" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}

	info, err := h.Tokens.Verify(c.Request.Context(), strings.TrimSpace(req.Token), "")
	if err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":    true,
		"sub":       info.Subject,
		"scope":     strings.Join(info.Scopes, " "),
		"token_use": string(info.Kind),
		"iat":       info.IssuedAt.Unix(),
		"exp":       info.ExpiresAt.Unix(),
	})
}

// Revoke processes RFC 7009 token revocation. Unknown tokens still succeed.
func (h *IdentityHandler) Revoke(c *gin.Context) {
	var req struct {
		Token string `form:"token" json:"token" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}

	material := strings.TrimSpace(req.Token)
	info, err := h.Tokens.Verify(c.Request.Context(), material, "")
	if err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			respondServiceError(c, err)
			return
		}
		// Already invalid tokens revoke to a no-op.
		c.JSON(http.StatusOK, gin.H{"status": "revoked"})
		return
	}

	if info.SessionID != 0 {
		err = h.Tokens.RevokeSession(c.Request.Context(), info.SessionID)
	} else if id, parseErr := strconv.ParseInt(info.TokenID, 10, 64); parseErr == nil {
		err = h.Tokens.Revoke(c.Request.Context(), id)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// OpenIDConfig returns the OpenID discovery document.
func (h *IdentityHandler) OpenIDConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Discovery.Configuration())
}

// JWKS exposes the signing key set.
func (h *IdentityHandler) JWKS(c *gin.Context) {
	jwks, err := h.Keys.JWKS(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, jwks)
}

// respondOAuthError maps domain errors onto RFC 6749 error responses.
func respondOAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidClient):
		c.Header("WWW-Authenticate", "Basic")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client", "error_description": "Client authentication failed."})
	case errors.Is(err, domain.ErrInvalidScope):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scope", "error_description": "Requested scope exceeds what was granted."})
	case errors.Is(err, domain.ErrInvalidRedirectURI):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "redirect_uri not registered for this client."})
	case errors.Is(err, domain.ErrInvalidGrant),
		errors.Is(err, domain.ErrInvalidCredential),
		errors.Is(err, domain.ErrExpiredToken),
		errors.Is(err, domain.ErrRevokedToken),
		errors.Is(err, domain.ErrMalformedToken),
		errors.Is(err, domain.ErrAudienceMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "Grant is invalid, expired or revoked."})
	default:
		respondServiceError(c, err)
	}
}

func respondServiceError(c *gin.Context, err error) {
	logger := zap.L()
	if errors.Is(err, domain.ErrStorageUnavailable) {
		logger.Error("storage unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable", "error_description": "Service temporarily unavailable."})
		return
	}
	logger.Error("identity service failure", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}
