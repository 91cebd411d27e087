package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/service"
)

// Sweeper 逾期扫描
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (*service.SweepResult, error)
}

// AdminHandler 运维接口
type AdminHandler struct {
	sweeper Sweeper
	logger  *zap.Logger
}

// NewAdminHandler 创建运维处理器
func NewAdminHandler(sweeper Sweeper, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, logger: logger}
}

// RunOverdueSweep POST /admin/overdue-sweep
func (h *AdminHandler) RunOverdueSweep(c *gin.Context) {
	result, err := h.sweeper.Run(c.Request.Context(), time.Now())
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, result)
}
