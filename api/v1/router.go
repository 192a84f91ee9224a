package v1

import (
	"domainpilot/api/v1/auth"
	"domainpilot/api/v1/domains"
	"domainpilot/api/v1/middleware"
	"domainpilot/api/v1/providerconfig"
	"domainpilot/internal/config"
	"domainpilot/internal/httpx"
	"domainpilot/internal/lifecycle"
	"domainpilot/internal/registry"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, db *gorm.DB, cfg *config.Config, reg *registry.Registry, orch *lifecycle.Orchestrator) {
	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", auth.LoginHandler(db, cfg))
		}

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/me", meHandler)

			domainsHandler := domains.NewHandler(reg, orch)
			domainsGroup := protected.Group("/domains")
			{
				domainsGroup.GET("", domainsHandler.List)
				domainsGroup.POST("", domainsHandler.Add)
				domainsGroup.GET("/:id", domainsHandler.Get)
				domainsGroup.DELETE("/:id", domainsHandler.Remove)
				domainsGroup.POST("/:id/retry", domainsHandler.Retry)
			}

			providerHandler := providerconfig.NewHandler(db)
			providerGroup := protected.Group("/provider-config")
			{
				providerGroup.GET("", providerHandler.Get)
				providerGroup.PUT("", providerHandler.Update)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns the authenticated store
func meHandler(c *gin.Context) {
	email, _ := c.Get("email")

	httpx.OK(c, gin.H{
		"store_id": middleware.StoreID(c),
		"email":    email,
	})
}
