package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/service"
)

// ECNHandler ECN处理器
type ECNHandler struct {
	svc    *service.ECNService
	logger *zap.Logger
}

// NewECNHandler 创建ECN处理器
func NewECNHandler(svc *service.ECNService, logger *zap.Logger) *ECNHandler {
	return &ECNHandler{svc: svc, logger: logger}
}

// noteRequest 取消/关闭/返工的备注
type noteRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

func (r noteRequest) text() string {
	if r.Note != "" {
		return r.Note
	}
	return r.Reason
}

// bindNote 备注可选，允许空请求体，格式错误的请求体返回400
func bindNote(c *gin.Context) (noteRequest, bool) {
	var req noteRequest
	if c.Request.Body == nil {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, "Invalid request: "+err.Error())
		return req, false
	}
	return req, true
}

// List GET /ecns
func (h *ECNHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filter := repository.NoticeFilter{
		Keyword:     c.Query("keyword"),
		Status:      c.Query("status"),
		ChangeType:  c.Query("change_type"),
		ApplicantID: c.Query("applicant_id"),
		ProjectID:   c.Query("project_id"),
		Priority:    c.Query("priority"),
	}
	result, err := h.svc.List(c.Request.Context(), page, pageSize, filter)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, ListResponse{
		Items: result.Items,
		Pagination: &Pagination{
			Page:       result.Page,
			PageSize:   result.PageSize,
			Total:      result.Total,
			TotalPages: result.TotalPages,
		},
	})
}

// Get GET /ecns/:id
func (h *ECNHandler) Get(c *gin.Context) {
	notice, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, notice)
}

// Create POST /ecns
func (h *ECNHandler) Create(c *gin.Context) {
	var req service.CreateNoticeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	notice, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Created(c, notice)
}

// Submit POST /ecns/:id/submit
func (h *ECNHandler) Submit(c *gin.Context) {
	notice, err := h.svc.Submit(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, notice)
}

// Cancel POST /ecns/:id/cancel
func (h *ECNHandler) Cancel(c *gin.Context) {
	req, ok := bindNote(c)
	if !ok {
		return
	}
	notice, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), GetUserID(c), req.text())
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, notice)
}

// Close POST /ecns/:id/close
func (h *ECNHandler) Close(c *gin.Context) {
	req, ok := bindNote(c)
	if !ok {
		return
	}
	notice, err := h.svc.Close(c.Request.Context(), c.Param("id"), GetUserID(c), req.text())
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, notice)
}

// Rework POST /ecns/:id/rework
func (h *ECNHandler) Rework(c *gin.Context) {
	req, ok := bindNote(c)
	if !ok {
		return
	}
	notice, err := h.svc.Rework(c.Request.Context(), c.Param("id"), GetUserID(c), req.text())
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, notice)
}

// ListLogs GET /ecns/:id/logs
func (h *ECNHandler) ListLogs(c *gin.Context) {
	logs, err := h.svc.ListLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, gin.H{"items": logs})
}

// ListAffectedMaterials GET /ecns/:id/affected-materials
func (h *ECNHandler) ListAffectedMaterials(c *gin.Context) {
	items, err := h.svc.ListAffectedMaterials(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, gin.H{"items": items})
}

// AddAffectedMaterial POST /ecns/:id/affected-materials
func (h *ECNHandler) AddAffectedMaterial(c *gin.Context) {
	var req service.AffectedMaterialInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	item, err := h.svc.AddAffectedMaterial(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Created(c, item)
}

// ==================== 评估 ====================

// ListEvaluations GET /ecns/:id/evaluations
func (h *ECNHandler) ListEvaluations(c *gin.Context) {
	evals, err := h.svc.ListEvaluations(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, gin.H{"items": evals})
}

// CreateEvaluation POST /ecns/:id/evaluations
func (h *ECNHandler) CreateEvaluation(c *gin.Context) {
	var req service.CreateEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	eval, err := h.svc.CreateEvaluation(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Created(c, eval)
}

// SubmitEvaluation POST /evaluations/:id/submit
func (h *ECNHandler) SubmitEvaluation(c *gin.Context) {
	var req service.SubmitEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	eval, err := h.svc.SubmitEvaluation(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, eval)
}

// ==================== 审批 ====================

type decisionRequest struct {
	Opinion string `json:"opinion"`
}

type assignApproverRequest struct {
	ApproverID string `json:"approver_id" binding:"required"`
}

// ListApprovals GET /ecns/:id/approvals
func (h *ECNHandler) ListApprovals(c *gin.Context) {
	overview, err := h.svc.ListApprovals(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, overview)
}

// CreateApproval POST /ecns/:id/approvals
func (h *ECNHandler) CreateApproval(c *gin.Context) {
	var req service.CreateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	approvals, err := h.svc.CreateApproval(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Created(c, gin.H{"items": approvals})
}

// Approve POST /approvals/:id/approve
func (h *ECNHandler) Approve(c *gin.Context) {
	var req decisionRequest
	_ = c.ShouldBindJSON(&req)
	approval, err := h.svc.Approve(c.Request.Context(), c.Param("id"), GetUserID(c), req.Opinion)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, approval)
}

// Reject POST /approvals/:id/reject
func (h *ECNHandler) Reject(c *gin.Context) {
	var req decisionRequest
	_ = c.ShouldBindJSON(&req)
	approval, err := h.svc.Reject(c.Request.Context(), c.Param("id"), GetUserID(c), req.Opinion)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, approval)
}

// AssignApprover PUT /approvals/:id/approver
func (h *ECNHandler) AssignApprover(c *gin.Context) {
	var req assignApproverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	approval, err := h.svc.AssignApprover(c.Request.Context(), c.Param("id"), GetUserID(c), req.ApproverID)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, approval)
}

// ==================== 执行 ====================

// StartExecution POST /ecns/:id/start-execution
func (h *ECNHandler) StartExecution(c *gin.Context) {
	notice, err := h.svc.StartExecution(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, notice)
}

// ListTasks GET /ecns/:id/tasks
func (h *ECNHandler) ListTasks(c *gin.Context) {
	tasks, err := h.svc.ListTasks(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, gin.H{"items": tasks})
}

// CreateTask POST /ecns/:id/tasks
func (h *ECNHandler) CreateTask(c *gin.Context) {
	var req service.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	task, err := h.svc.CreateTask(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Created(c, task)
}

// UpdateTaskProgress PUT /tasks/:id/progress
func (h *ECNHandler) UpdateTaskProgress(c *gin.Context) {
	var req service.UpdateTaskProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	task, err := h.svc.UpdateTaskProgress(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, task)
}

// Verify POST /ecns/:id/verify
func (h *ECNHandler) Verify(c *gin.Context) {
	var req service.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	notice, err := h.svc.Verify(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		Fail(c, h.logger, err)
		return
	}
	Success(c, notice)
}
