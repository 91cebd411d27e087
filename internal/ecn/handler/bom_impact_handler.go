package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/service"
)

// BOMImpactHandler BOM影响分析处理器
type BOMImpactHandler struct {
	analyzer *service.BOMImpactAnalyzer
	logger   *zap.Logger
}

// NewBOMImpactHandler 创建处理器
func NewBOMImpactHandler(analyzer *service.BOMImpactAnalyzer, logger *zap.Logger) *BOMImpactHandler {
	return &BOMImpactHandler{analyzer: analyzer, logger: logger}
}

// analyzeRequest machine_id 为空时取ECN关联的整机
type analyzeRequest struct {
	MachineID      string `json:"machine_id"`
	IncludeCascade *bool  `json:"include_cascade"`
}

// Analyze POST /ecns/:id/bom-impact
func (h *BOMImpactHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			BadRequest(c, "Invalid request: "+err.Error())
			return
		}
	}
	includeCascade := true
	if req.IncludeCascade != nil {
		includeCascade = *req.IncludeCascade
	}
	result, err := h.analyzer.Analyze(c.Request.Context(), c.Param("id"), req.MachineID, includeCascade, GetUserID(c))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, result)
}

// ListResults GET /ecns/:id/bom-impact
func (h *BOMImpactHandler) ListResults(c *gin.Context) {
	results, err := h.analyzer.ListResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, gin.H{"items": results})
}

// Export GET /ecns/:id/bom-impact/export
func (h *BOMImpactHandler) Export(c *gin.Context) {
	f, filename, err := h.analyzer.ExportXLSX(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		h.logger.Error("write impact export", zap.String("file", filename), zap.Error(err))
	}
}
