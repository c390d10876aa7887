package main

import (
	"voice-platform/internal/auth"
	"voice-platform/internal/httpapi"
	"voice-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Health)

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireTenant())
	{
		// Identity echo, useful for debugging token wiring.
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
		})

		// TELEPHONY config + trunk lifecycle.
		telephony := v1.Group("/telephony")
		{
			telephony.GET("/config", h.GetTelephonyConfig)

			setup := telephony.Group("")
			setup.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin))
			{
				setup.POST("/trunk", h.SetupTrunk)
				setup.DELETE("/trunk", h.CleanupTrunk)
			}
		}

		// NUMBER routes.
		numbers := v1.Group("/numbers")
		{
			numbers.GET("", h.ListNumbers)
			numbers.GET("/search", h.SearchNumbers)

			manage := numbers.Group("")
			manage.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin))
			{
				manage.POST("/purchase", h.PurchaseNumber)
				manage.POST("/import", h.ImportNumber)
				manage.PATCH("/:number/assignment", h.UpdateAssignment)
				manage.DELETE("/:number", h.ReleaseNumber)
			}
		}
	}
}
