package main

import (
	"net/http"

	"outreach-platform/internal/httpapi"
	"outreach-platform/internal/rbac"
	"outreach-platform/internal/telemetry"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// TOUCH routes (cadence enqueue)
		touches := v1.Group("/touches")
		touches.Use(httpapi.RequireAccountAndAnyRole(rbac.RoleOwner, rbac.RoleOperator)...)
		{
			touches.POST("", h.EnqueueTouch)
		}

		// DISPATCH routes
		dispatchGroup := v1.Group("/dispatch")
		dispatchGroup.Use(httpapi.RequireAccountAndAnyRole(rbac.RoleOwner, rbac.RoleOperator)...)
		{
			dispatchGroup.POST("/run", h.RunDispatch)
		}

		// USAGE LEDGER routes
		usage := v1.Group("/usage")
		usage.Use(httpapi.RequireAccountAndAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleFinance, rbac.RoleBillingBot)...)
		{
			usage.POST("/events", h.RecordUsageEvent)
		}

		// BILLING routes
		statements := v1.Group("/billing/statements")
		statements.Use(httpapi.RequireAccountAndAnyRole(rbac.RoleOwner, rbac.RoleFinance, rbac.RoleBillingBot)...)
		{
			statements.POST("/finalize", h.FinalizeStatement)
			statements.GET("", h.GetStatement)
		}
	}
}
