package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/abdihakim148/beekeeper/internal/config"
	"github.com/abdihakim148/beekeeper/internal/domain"
	httptransport "github.com/abdihakim148/beekeeper/internal/http"
	httpHandler "github.com/abdihakim148/beekeeper/internal/http/handler"
	httpmiddleware "github.com/abdihakim148/beekeeper/internal/http/middleware"
	customjwt "github.com/abdihakim148/beekeeper/internal/jwt"
	"github.com/abdihakim148/beekeeper/internal/password"
	"github.com/abdihakim148/beekeeper/internal/repository"
	"github.com/abdihakim148/beekeeper/internal/service"
	"github.com/abdihakim148/beekeeper/internal/service/flow"
)

const (
	testIssuer   = "https://identity.example.com"
	clientSecret = "console-secret"
)

func newTestRouter(t *testing.T) (*gin.Engine, *repository.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	mem := repository.NewMemory()
	hasher := password.Argon2{}

	credentials, err := service.NewCredentialService(mem.Users(), node, hasher, domain.PasswordPolicy{MinLength: 12}, password.Algorithm, nil)
	require.NoError(t, err)

	keys := customjwt.NewKeyManager(mem.Keys())
	signer := customjwt.NewGenerator(keys, testIssuer)
	tokens := service.NewTokenService(mem.Tokens(), mem.Sessions(), mem.Users(), mem.Clients(), node, signer, service.TokenServiceConfig{
		Issuer: testIssuer,
		Policies: service.TokenPolicies{
			domain.AccessToken:  {TTL: time.Hour},
			domain.IDToken:      {TTL: time.Hour},
			domain.RefreshToken: {TTL: 24 * time.Hour, StoreBacked: true},
		},
		RefreshTokenBytes:   32,
		RotateRefreshTokens: true,
	}, nil)

	engine, err := flow.NewEngine(mem.Clients(), mem.Users(), mem.Codes(), tokens, credentials, node, hasher, 10*time.Minute, nil)
	require.NoError(t, err)

	secretDigest, err := hasher.Hash(clientSecret)
	require.NoError(t, err)
	_, err = mem.Clients().Create(ctx, domain.Client{
		ClientID:     "console",
		SecretDigest: secretDigest,
		RedirectURIs: []string{"https://app.example.com/callback"},
		GrantTypes: []string{
			domain.GrantAuthorizationCode,
			domain.GrantClientCredentials,
			domain.GrantRefreshToken,
			domain.GrantPassword,
		},
		Scopes:       []string{"openid", "profile", "email"},
		Confidential: true,
	})
	require.NoError(t, err)

	handler := httpHandler.NewIdentityHandler(credentials, tokens, engine, keys, service.NewDiscoveryService(testIssuer))
	cfg := config.Config{
		ServiceName:        "identity-test",
		CORSAllowedOrigins: []string{"*"},
	}
	router := httptransport.NewRouter(cfg, handler, &httpmiddleware.Auth{Tokens: tokens}, nil)
	return router, mem
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func postForm(t *testing.T, router *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestOpenIDConfiguration(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "authorization_endpoint")
	require.Contains(t, body, "jwks_uri")
	require.Contains(t, body, testIssuer)
}

func TestJWKSEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "keys")
}

func TestRegisterEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := postJSON(t, router, "/auth/register", map[string]any{
		"email":    "bee@example.com",
		"name":     "Bee",
		"password": "SuperSecret123",
		"scopes":   []string{"openid", "profile"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Same email again conflicts.
	w = postJSON(t, router, "/auth/register", map[string]any{
		"email":    "bee@example.com",
		"password": "SuperSecret123",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	// Weak passwords are rejected up front.
	w = postJSON(t, router, "/auth/register", map[string]any{
		"email":    "short@example.com",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "weak_password")
}

func TestAuthorizationCodeFlowOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	w := postJSON(t, router, "/auth/register", map[string]any{
		"email":    "bee@example.com",
		"password": "SuperSecret123",
		"scopes":   []string{"openid", "profile"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = postForm(t, router, "/oauth/authorize", url.Values{
		"response_type": {"code"},
		"client_id":     {"console"},
		"redirect_uri":  {"https://app.example.com/callback"},
		"scope":         {"openid profile"},
		"state":         {"xyz"},
		"email":         {"bee@example.com"},
		"password":      {"SuperSecret123"},
	})
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "app.example.com", location.Host)
	require.Equal(t, "xyz", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	w = postForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"console"},
		"client_secret": {clientSecret},
		"code":          {code},
		"redirect_uri":  {"https://app.example.com/callback"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		TokenType    string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokenResp))
	require.NotEmpty(t, tokenResp.AccessToken)
	require.NotEmpty(t, tokenResp.RefreshToken)
	require.NotEmpty(t, tokenResp.IDToken)
	require.Equal(t, "Bearer", tokenResp.TokenType)

	// The access token opens the protected endpoints.
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Replaying the code fails and revokes the session behind it.
	w = postForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"console"},
		"client_secret": {clientSecret},
		"code":          {code},
		"redirect_uri":  {"https://app.example.com/callback"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid_grant")

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenEndpointRefreshGrant(t *testing.T) {
	router, _ := newTestRouter(t)

	w := postJSON(t, router, "/auth/register", map[string]any{
		"email":    "bee@example.com",
		"password": "SuperSecret123",
		"scopes":   []string{"openid"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = postForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"password"},
		"client_id":     {"console"},
		"client_secret": {clientSecret},
		"username":      {"bee@example.com"},
		"password":      {"SuperSecret123"},
		"scope":         {"openid"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var grant struct {
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))
	require.NotEmpty(t, grant.RefreshToken)

	w = postForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {grant.RefreshToken},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var refreshed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refreshed))
	require.NotEmpty(t, refreshed.AccessToken)
	require.NotEqual(t, grant.RefreshToken, refreshed.RefreshToken)

	// Rotated material stops working.
	w = postForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {grant.RefreshToken},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTokenEndpointUnsupportedGrant(t *testing.T) {
	router, _ := newTestRouter(t)

	w := postForm(t, router, "/oauth/token", url.Values{
		"grant_type": {"device_code"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "unsupported_grant_type")
}

func TestIntrospectAndRevoke(t *testing.T) {
	router, _ := newTestRouter(t)

	w := postForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"console"},
		"client_secret": {clientSecret},
		"scope":         {"profile"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var grant struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))

	w = postForm(t, router, "/oauth/introspect", url.Values{"token": {grant.AccessToken}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"active":true`)

	// Garbage introspects to inactive, never an error.
	w = postForm(t, router, "/oauth/introspect", url.Values{"token": {"garbage"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"active":false`)

	w = postForm(t, router, "/oauth/revoke", url.Values{"token": {grant.AccessToken}})
	require.Equal(t, http.StatusOK, w.Code)

	// Revoking unknown material still succeeds per RFC 7009.
	w = postForm(t, router, "/oauth/revoke", url.Values{"token": {"garbage"}})
	require.Equal(t, http.StatusOK, w.Code)
}
