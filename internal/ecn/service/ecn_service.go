package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/config"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/event"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/metrics"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/workflow"
	"github.com/bitfantasy/nimo-ecn/internal/shared/apperr"
)

// EventSink 事务提交后的事件消费方
type EventSink interface {
	Dispatch(ctx context.Context, events []event.Event)
}

// ECNService ECN状态机与流程编排
type ECNService struct {
	repos          *repository.Repositories
	resolver       *AssignmentResolver
	evalRouter     *EvaluationRouter
	approvalRouter *ApprovalRouter
	codes          CodeGenerator
	sink           EventSink
	cfg            config.ECNConfig
	logger         *zap.Logger
	now            func() time.Time
}

// NewECNService 创建ECN服务
func NewECNService(
	repos *repository.Repositories,
	resolver *AssignmentResolver,
	evalRouter *EvaluationRouter,
	approvalRouter *ApprovalRouter,
	codes CodeGenerator,
	sink EventSink,
	cfg config.ECNConfig,
	logger *zap.Logger,
) *ECNService {
	s := &ECNService{
		repos:          repos,
		resolver:       resolver,
		evalRouter:     evalRouter,
		approvalRouter: approvalRouter,
		codes:          codes,
		sink:           sink,
		cfg:            cfg,
		logger:         logger,
		now:            time.Now,
	}
	// 评估、审批记录的时间戳统一取服务时钟
	clock := func() time.Time { return s.now() }
	if evalRouter != nil {
		evalRouter.now = clock
	}
	if approvalRouter != nil {
		approvalRouter.now = clock
	}
	return s
}

// mutation 一次ECN变更：在事务内累积状态迁移日志和待发事件
type mutation struct {
	notice *entity.ChangeNotice
	actor  string
	now    time.Time
	logs   []*entity.ChangeLog
	events []event.Event
}

// transition 执行一次状态迁移并记录日志
func (m *mutation) transition(action workflow.Action, note string) error {
	next, err := workflow.Transition(m.notice.Status, action)
	if err != nil {
		return err
	}
	old := m.notice.Status
	m.notice.Status = next
	if step, ok := workflow.StepFor(next); ok {
		m.notice.CurrentStep = step
	}
	m.logs = append(m.logs, &entity.ChangeLog{
		ID:        entity.NewID(),
		NoticeID:  m.notice.ID,
		OldStatus: old,
		NewStatus: next,
		Action:    string(action),
		ActorID:   m.actor,
		Note:      note,
		CreatedAt: m.now,
	})
	return nil
}

func (m *mutation) event(t event.Type) event.Event {
	e := event.New(t, m.notice.ID, m.notice.Code, m.actor)
	e.Link = noticeLink(m.notice.ID)
	e.OccurredAt = m.now
	return e
}

func (m *mutation) emit(e event.Event) {
	m.events = append(m.events, e)
}

// orApplicant 没有具体责任人时通知申请人
func (m *mutation) orApplicant(userID string) string {
	if userID != "" {
		return userID
	}
	return m.notice.ApplicantID
}

func noticeLink(id string) string {
	return "/ecns/" + id
}

// mutate 在一个事务内加锁读取ECN、执行 fn 并按版本号写回
// 成功提交后才分发事件
func (s *ECNService) mutate(ctx context.Context, op, noticeID, actorID string, fn func(ctx context.Context, m *mutation) error) (*entity.ChangeNotice, error) {
	var m *mutation
	err := s.repos.Transaction(ctx, func(ctx context.Context) error {
		notice, err := s.repos.Notice.FindByIDForUpdate(ctx, noticeID)
		if err != nil {
			return notFoundAs(err, "ECN", noticeID)
		}
		m = &mutation{notice: notice, actor: actorID, now: s.now()}
		if err := fn(ctx, m); err != nil {
			return err
		}
		if err := s.repos.Notice.SaveVersioned(ctx, notice); err != nil {
			return err
		}
		for _, l := range m.logs {
			if err := s.repos.Notice.AppendLog(ctx, l); err != nil {
				return fmt.Errorf("append change log: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		err = s.translate(err, noticeID)
		metrics.RecordTransition(op, resultLabel(err))
		return nil, err
	}

	metrics.RecordTransition(op, "success")
	s.dispatch(ctx, m.events)
	return m.notice, nil
}

func (s *ECNService) dispatch(ctx context.Context, events []event.Event) {
	if s.sink == nil || len(events) == 0 {
		return
	}
	s.sink.Dispatch(ctx, events)
}

func (s *ECNService) translate(err error, noticeID string) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return apperr.Conflict("ECN %s 已被其他操作修改，请刷新后重试", noticeID).WithCause(err)
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound("ECN", noticeID)
	}
	return err
}

func resultLabel(err error) string {
	switch apperr.CodeOf(err) {
	case apperr.CodePreconditionViolation, apperr.CodeInvalidArgument:
		return "rejected"
	case apperr.CodeConflict:
		return "conflict"
	case apperr.CodeNotFound:
		return "not_found"
	}
	return "error"
}

// notFoundAs 把仓储的 ErrNotFound 转成带实体名的错误
func notFoundAs(err error, entityName, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(entityName, id)
	}
	return err
}

// CreateNoticeRequest 创建ECN请求
type CreateNoticeRequest struct {
	Title             string                  `json:"title" binding:"required"`
	ChangeType        string                  `json:"change_type" binding:"required"`
	Reason            string                  `json:"reason"`
	Description       string                  `json:"description"`
	ProjectID         string                  `json:"project_id"`
	MachineID         string                  `json:"machine_id"`
	CostImpact        decimal.Decimal         `json:"cost_impact"`
	ScheduleImpact    int                     `json:"schedule_impact"`
	Priority          string                  `json:"priority"`
	AffectedMaterials []AffectedMaterialInput `json:"affected_materials"`
}

// Create 创建ECN草稿
func (s *ECNService) Create(ctx context.Context, actorID string, req *CreateNoticeRequest) (*entity.ChangeNotice, error) {
	if req.Title == "" {
		return nil, apperr.InvalidArgument("标题不能为空")
	}
	if req.ScheduleImpact < 0 {
		return nil, apperr.InvalidArgument("工期影响不能为负数")
	}
	priority := req.Priority
	if priority == "" {
		priority = entity.PriorityMedium
	}
	switch priority {
	case entity.PriorityLow, entity.PriorityMedium, entity.PriorityHigh, entity.PriorityUrgent:
	default:
		return nil, apperr.InvalidArgument("未知的优先级: %s", priority)
	}

	ct, err := s.repos.ChangeType.FindByCode(ctx, req.ChangeType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.InvalidArgument("变更类型 %s 不存在", req.ChangeType)
		}
		return nil, fmt.Errorf("find change type: %w", err)
	}
	if !ct.IsActive {
		return nil, apperr.InvalidArgument("变更类型 %s 已停用", req.ChangeType)
	}
	if req.MachineID != "" {
		if _, err := s.repos.BOM.FindMachine(ctx, req.MachineID); err != nil {
			return nil, notFoundAs(err, "Machine", req.MachineID)
		}
	}
	for i := range req.AffectedMaterials {
		if err := req.AffectedMaterials[i].validate(); err != nil {
			return nil, err
		}
	}

	code, err := s.codes.NextCode(ctx, s.cfg.CodePrefix, s.cfg.CodeDateFormat, s.cfg.CodeWidth)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	now := s.now()
	notice := &entity.ChangeNotice{
		ID:             entity.NewID(),
		Code:           code,
		Title:          req.Title,
		ChangeType:     ct.Code,
		Reason:         req.Reason,
		Description:    req.Description,
		ProjectID:      optional(req.ProjectID),
		MachineID:      optional(req.MachineID),
		CostImpact:     req.CostImpact,
		ScheduleImpact: req.ScheduleImpact,
		Priority:       priority,
		Status:         workflow.StatusDraft,
		CurrentStep:    workflow.StepDraft,
		ApplicantID:    actorID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.repos.Transaction(ctx, func(ctx context.Context) error {
		if err := s.repos.Notice.Create(ctx, notice); err != nil {
			return fmt.Errorf("create notice: %w", err)
		}
		for i := range req.AffectedMaterials {
			if _, err := s.createAffected(ctx, notice.ID, &req.AffectedMaterials[i]); err != nil {
				return err
			}
		}
		return s.repos.Notice.AppendLog(ctx, &entity.ChangeLog{
			NoticeID:  notice.ID,
			NewStatus: workflow.StatusDraft,
			Action:    "create",
			ActorID:   actorID,
			CreatedAt: now,
		})
	})
	if err != nil {
		metrics.RecordTransition("create", resultLabel(err))
		return nil, err
	}
	metrics.RecordTransition("create", "success")

	s.dispatch(ctx, []event.Event{
		event.New(event.NoticeCreated, notice.ID, notice.Code, actorID).
			Message("ECN已创建", fmt.Sprintf("%s %s", notice.Code, notice.Title)),
	})
	return notice, nil
}

// Submit 提交ECN；变更类型有必需评估部门时进入评估
func (s *ECNService) Submit(ctx context.Context, noticeID, actorID string) (*entity.ChangeNotice, error) {
	return s.mutate(ctx, string(workflow.ActionSubmit), noticeID, actorID, func(ctx context.Context, m *mutation) error {
		if err := m.transition(workflow.ActionSubmit, ""); err != nil {
			return err
		}
		m.notice.SubmittedAt = &m.now

		ct, err := s.repos.ChangeType.FindByCode(ctx, m.notice.ChangeType)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.ConfigurationGap("变更类型 %s 不存在", m.notice.ChangeType)
			}
			return fmt.Errorf("find change type: %w", err)
		}

		m.emit(m.event(event.NoticeSubmitted).
			To(m.notice.ApplicantID).
			Message("ECN已提交", fmt.Sprintf("%s %s 已提交", m.notice.Code, m.notice.Title)))

		evals, err := s.evalRouter.Route(ctx, m.notice, ct)
		if err != nil {
			return err
		}
		if len(evals) == 0 {
			return nil
		}
		if err := m.transition(workflow.ActionBeginEvaluation, fmt.Sprintf("创建 %d 个部门评估", len(evals))); err != nil {
			return err
		}
		for _, e := range evals {
			m.emit(s.evaluationRequested(m, &e))
		}
		return nil
	})
}

func (s *ECNService) evaluationRequested(m *mutation, e *entity.Evaluation) event.Event {
	body := fmt.Sprintf("请完成 %s 对 %s %s 的变更评估", e.Department, m.notice.Code, m.notice.Title)
	if e.EvaluatorID == "" {
		body = fmt.Sprintf("%s 未能自动分配评估人，请指定 %s 的评估人", m.notice.Code, e.Department)
	}
	return m.event(event.EvaluationCreated).
		To(m.orApplicant(e.EvaluatorID)).
		Message("ECN评估待处理", body).
		With("evaluation_id", e.ID).
		With("department", e.Department)
}

// Cancel 取消ECN
func (s *ECNService) Cancel(ctx context.Context, noticeID, actorID, reason string) (*entity.ChangeNotice, error) {
	return s.mutate(ctx, string(workflow.ActionCancel), noticeID, actorID, func(ctx context.Context, m *mutation) error {
		if err := m.transition(workflow.ActionCancel, reason); err != nil {
			return err
		}
		m.notice.CancelledAt = &m.now
		m.emit(m.event(event.NoticeCancelled).
			To(m.notice.ApplicantID).
			Message("ECN已取消", fmt.Sprintf("%s %s 已取消：%s", m.notice.Code, m.notice.Title, reason)))
		return nil
	})
}

// Close 关闭已完成的ECN
func (s *ECNService) Close(ctx context.Context, noticeID, actorID, note string) (*entity.ChangeNotice, error) {
	return s.mutate(ctx, string(workflow.ActionClose), noticeID, actorID, func(ctx context.Context, m *mutation) error {
		if err := m.transition(workflow.ActionClose, note); err != nil {
			return err
		}
		m.notice.ClosedAt = &m.now
		m.emit(m.event(event.NoticeClosed).
			To(m.notice.ApplicantID).
			Message("ECN已关闭", fmt.Sprintf("%s %s 已关闭", m.notice.Code, m.notice.Title)))
		return nil
	})
}

// Get 获取ECN详情，附带对外展示状态
func (s *ECNService) Get(ctx context.Context, id string) (*entity.ChangeNotice, error) {
	notice, err := s.repos.Notice.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "ECN", id)
	}
	pending, err := s.repos.Approval.CountPending(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count pending approvals: %w", err)
	}
	notice.EffectiveStatus = workflow.Effective(notice.Status, int(pending))
	return notice, nil
}

// NoticeListResult ECN列表结果
type NoticeListResult struct {
	Items      []entity.ChangeNotice `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// List 获取ECN列表
func (s *ECNService) List(ctx context.Context, page, pageSize int, filter repository.NoticeFilter) (*NoticeListResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	notices, total, err := s.repos.Notice.List(ctx, page, pageSize, filter)
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}

	ids := make([]string, len(notices))
	for i := range notices {
		ids[i] = notices[i].ID
	}
	pending, err := s.repos.Approval.CountPendingByNotices(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count pending approvals: %w", err)
	}
	for i := range notices {
		notices[i].EffectiveStatus = workflow.Effective(notices[i].Status, pending[notices[i].ID])
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	return &NoticeListResult{
		Items:      notices,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// ListLogs 获取ECN状态变更日志
func (s *ECNService) ListLogs(ctx context.Context, noticeID string) ([]entity.ChangeLog, error) {
	if _, err := s.repos.Notice.FindByID(ctx, noticeID); err != nil {
		return nil, notFoundAs(err, "ECN", noticeID)
	}
	return s.repos.Notice.ListLogs(ctx, noticeID)
}

// AffectedMaterialInput 受影响物料输入
type AffectedMaterialInput struct {
	MaterialID       string          `json:"material_id"`
	MaterialCode     string          `json:"material_code"`
	MaterialName     string          `json:"material_name"`
	ChangeType       string          `json:"change_type" binding:"required"`
	OldQuantity      decimal.Decimal `json:"old_quantity"`
	NewQuantity      decimal.Decimal `json:"new_quantity"`
	OldSpecification string          `json:"old_specification"`
	NewSpecification string          `json:"new_specification"`
	NewMaterialID    string          `json:"new_material_id"`
	NewMaterialCode  string          `json:"new_material_code"`
	CostImpact       decimal.Decimal `json:"cost_impact"`
	IsObsoleteRisk   bool            `json:"is_obsolete_risk"`
	ObsoleteQuantity decimal.Decimal `json:"obsolete_quantity"`
	Remark           string          `json:"remark"`
}

func (in *AffectedMaterialInput) validate() error {
	switch in.ChangeType {
	case entity.MaterialChangeAdd, entity.MaterialChangeDelete, entity.MaterialChangeUpdate, entity.MaterialChangeReplace:
	default:
		return apperr.InvalidArgument("未知的物料变更类型: %s", in.ChangeType)
	}
	if in.MaterialID == "" && in.MaterialCode == "" {
		return apperr.InvalidArgument("物料ID和物料编码不能同时为空")
	}
	return nil
}

// AddAffectedMaterial 登记受影响物料，审批通过后不再允许修改
func (s *ECNService) AddAffectedMaterial(ctx context.Context, noticeID string, in *AffectedMaterialInput) (*entity.AffectedMaterial, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	notice, err := s.repos.Notice.FindByID(ctx, noticeID)
	if err != nil {
		return nil, notFoundAs(err, "ECN", noticeID)
	}
	switch notice.Status {
	case workflow.StatusDraft, workflow.StatusSubmitted, workflow.StatusEvaluating, workflow.StatusEvaluated:
	default:
		return nil, apperr.Precondition("ECN当前状态为 %s，只有 DRAFT/SUBMITTED/EVALUATING/EVALUATED 状态可以登记受影响物料", notice.Status)
	}
	return s.createAffected(ctx, noticeID, in)
}

func (s *ECNService) createAffected(ctx context.Context, noticeID string, in *AffectedMaterialInput) (*entity.AffectedMaterial, error) {
	materialID := in.MaterialID
	name := in.MaterialName
	if materialID == "" && in.MaterialCode != "" {
		found, err := s.repos.Material.FindByCodes(ctx, []string{in.MaterialCode})
		if err != nil {
			return nil, fmt.Errorf("find material: %w", err)
		}
		if m, ok := found[in.MaterialCode]; ok {
			materialID = m.ID
			if name == "" {
				name = m.Name
			}
		}
	}

	am := &entity.AffectedMaterial{
		ID:               entity.NewID(),
		NoticeID:         noticeID,
		MaterialID:       optional(materialID),
		MaterialCode:     in.MaterialCode,
		MaterialName:     name,
		ChangeType:       in.ChangeType,
		OldQuantity:      in.OldQuantity,
		NewQuantity:      in.NewQuantity,
		OldSpecification: in.OldSpecification,
		NewSpecification: in.NewSpecification,
		NewMaterialID:    optional(in.NewMaterialID),
		NewMaterialCode:  in.NewMaterialCode,
		CostImpact:       in.CostImpact,
		IsObsoleteRisk:   in.IsObsoleteRisk,
		ObsoleteQuantity: in.ObsoleteQuantity,
		Remark:           in.Remark,
		CreatedAt:        s.now(),
	}
	if err := s.repos.Material.CreateAffected(ctx, am); err != nil {
		return nil, fmt.Errorf("create affected material: %w", err)
	}
	return am, nil
}

// ListAffectedMaterials 获取受影响物料
func (s *ECNService) ListAffectedMaterials(ctx context.Context, noticeID string) ([]entity.AffectedMaterial, error) {
	if _, err := s.repos.Notice.FindByID(ctx, noticeID); err != nil {
		return nil, notFoundAs(err, "ECN", noticeID)
	}
	return s.repos.Material.ListAffected(ctx, noticeID)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
