package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/abdihakim148/beekeeper/internal/config"
	"github.com/abdihakim148/beekeeper/internal/http/handler"
	httpmiddleware "github.com/abdihakim148/beekeeper/internal/http/middleware"
	"github.com/abdihakim148/beekeeper/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, identityHandler *handler.IdentityHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	auth := r.Group("/auth")
	{
		auth.POST("/register", identityHandler.Register)
		auth.POST("/password/rotate", authMiddleware.ValidateToken, identityHandler.RotatePassword)
		auth.GET("/me", authMiddleware.ValidateToken, identityHandler.Me)
	}

	oauth := r.Group("/oauth")
	{
		oauth.POST("/authorize", identityHandler.Authorize)
		oauth.POST("/token", identityHandler.Token)
		oauth.POST("/introspect", identityHandler.Introspect)
		oauth.POST("/revoke", identityHandler.Revoke)
	}

	r.GET("/.well-known/openid-configuration", identityHandler.OpenIDConfig)
	r.GET("/.well-known/jwks.json", identityHandler.JWKS)

	return r
}
