package app

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dsr.gov.ph/registry/internal/api/handlers"
	"dsr.gov.ph/registry/internal/api/middleware"
	"dsr.gov.ph/registry/internal/config"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// defaultAllowedOrigins are the local operator consoles allowed when no
// origins are configured.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

func newRouter(cfg *config.Config, server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.New(buildCORSConfig(cfg)))

	// Operational endpoints stay outside authentication.
	server.RegisterHealth(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	level := gin.WrapH(logger.LevelHandler())
	router.GET("/log/level", level)
	router.PUT("/log/level", level)

	v1 := router.Group("/api/v1")
	if cfg.Security.AuthEnabled {
		v1.Use(middleware.JWTAuth(middleware.JWTConfig{
			SigningKey: []byte(cfg.Security.JWTSigningKey),
			Issuer:     cfg.Security.JWTIssuer,
		}))
	}
	server.RegisterRoutes(v1)
	return router
}

// buildCORSConfig drops "*" from the allowlist unless all origins are
// explicitly allowed, in which case credentials are disabled.
func buildCORSConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
		return c
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		if o == "" || o == "*" {
			continue
		}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		origins = append(origins, defaultAllowedOrigins...)
	}
	c.AllowOrigins = origins
	return c
}
