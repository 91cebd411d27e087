package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/service"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/sse"
	"github.com/bitfantasy/nimo-ecn/internal/middleware"
)

// 构建信息，编译时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Handlers 处理器集合
type Handlers struct {
	ECN       *ECNHandler
	BOMImpact *BOMImpactHandler
	Admin     *AdminHandler
	SSE       *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(ecnSvc *service.ECNService, analyzer *service.BOMImpactAnalyzer, sweeper Sweeper, hub *sse.Hub, logger *zap.Logger) *Handlers {
	return &Handlers{
		ECN:       NewECNHandler(ecnSvc, logger),
		BOMImpact: NewBOMImpactHandler(analyzer, logger),
		Admin:     NewAdminHandler(sweeper, logger),
		SSE:       NewSSEHandler(hub),
	}
}

// ReadinessCheck 就绪检查，返回 nil 表示依赖可用
type ReadinessCheck func(ctx context.Context) error

// RegisterRoutes 注册全部路由
func RegisterRoutes(r *gin.Engine, h *Handlers, jwtSecret string, ready ReadinessCheck) {
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "Not found"})
	})

	v1 := r.Group("/api/v1")
	{
		sseGroup := v1.Group("/sse")
		sseGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			sseGroup.GET("/events", h.SSE.Stream)
		}

		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtSecret))
		{
			ecns := authorized.Group("/ecns")
			{
				ecns.GET("", h.ECN.List)
				ecns.POST("", h.ECN.Create)
				ecns.GET("/:id", h.ECN.Get)
				ecns.POST("/:id/submit", h.ECN.Submit)
				ecns.POST("/:id/cancel", h.ECN.Cancel)
				ecns.POST("/:id/close", h.ECN.Close)
				ecns.POST("/:id/rework", h.ECN.Rework)
				ecns.GET("/:id/logs", h.ECN.ListLogs)

				ecns.GET("/:id/affected-materials", h.ECN.ListAffectedMaterials)
				ecns.POST("/:id/affected-materials", h.ECN.AddAffectedMaterial)

				ecns.GET("/:id/evaluations", h.ECN.ListEvaluations)
				ecns.POST("/:id/evaluations", h.ECN.CreateEvaluation)

				ecns.GET("/:id/approvals", h.ECN.ListApprovals)
				ecns.POST("/:id/approvals", h.ECN.CreateApproval)

				ecns.POST("/:id/start-execution", h.ECN.StartExecution)
				ecns.GET("/:id/tasks", h.ECN.ListTasks)
				ecns.POST("/:id/tasks", h.ECN.CreateTask)
				ecns.POST("/:id/verify", h.ECN.Verify)

				ecns.GET("/:id/bom-impact", h.BOMImpact.ListResults)
				ecns.POST("/:id/bom-impact", h.BOMImpact.Analyze)
				ecns.GET("/:id/bom-impact/export", h.BOMImpact.Export)
			}

			authorized.POST("/evaluations/:id/submit", h.ECN.SubmitEvaluation)

			approvals := authorized.Group("/approvals")
			{
				approvals.POST("/:id/approve", h.ECN.Approve)
				approvals.POST("/:id/reject", h.ECN.Reject)
				approvals.PUT("/:id/approver", h.ECN.AssignApprover)
			}

			authorized.PUT("/tasks/:id/progress", h.ECN.UpdateTaskProgress)

			admin := authorized.Group("/admin")
			admin.Use(middleware.RequireRole(middleware.AdminRole))
			{
				admin.POST("/overdue-sweep", h.Admin.RunOverdueSweep)
			}
		}
	}
}
