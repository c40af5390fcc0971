package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register mounts every route on r. adminAuth guards the /api/v1/admin group.
func (h *Handlers) Register(r gin.IRouter, adminAuth gin.HandlerFunc) {
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/queries", h.SubmitQuery)
		v1.POST("/queries/process", h.ProcessQuery)
		v1.POST("/queries/:id/analyze", h.AnalyzeQuery)
		v1.POST("/queries/:id/allocate", h.AllocateQuery)
		v1.POST("/queries/:id/complete", h.CompleteQuery)
		v1.POST("/queries/:id/fail", h.FailQuery)
		v1.GET("/queries/:id/result", h.GetQueryResult)

		v1.POST("/feedback", h.SubmitFeedback)
		v1.GET("/models", h.ListModels)
	}

	admin := v1.Group("/admin")
	admin.Use(adminAuth)
	{
		admin.GET("/queries", h.ListQueries)
		admin.GET("/feedback", h.ListFeedback)
		admin.GET("/finance/metrics", h.FinanceMetrics)
		admin.GET("/system/health", h.SystemHealth)

		admin.POST("/users", h.CreateUser)
		admin.PUT("/users/:id", h.ManageUser)

		admin.PUT("/models/:name/availability", h.SetModelAvailability)
		admin.POST("/models/refresh", h.RefreshModels)

		admin.GET("/budget", h.GetBudget)
		admin.POST("/budget/reset", h.ResetBudget)
	}
}
