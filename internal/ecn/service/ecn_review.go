package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/event"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/metrics"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/workflow"
	"github.com/bitfantasy/nimo-ecn/internal/shared/apperr"
)

// CreateEvaluationRequest 手动创建评估请求
type CreateEvaluationRequest struct {
	Department  string `json:"department" binding:"required"`
	EvaluatorID string `json:"evaluator_id"`
}

// CreateEvaluation 为ECN追加一个部门评估
func (s *ECNService) CreateEvaluation(ctx context.Context, noticeID, actorID string, req *CreateEvaluationRequest) (*entity.Evaluation, error) {
	if req.Department == "" {
		return nil, apperr.InvalidArgument("评估部门不能为空")
	}

	var created *entity.Evaluation
	_, err := s.mutate(ctx, "create_evaluation", noticeID, actorID, func(ctx context.Context, m *mutation) error {
		switch m.notice.Status {
		case workflow.StatusSubmitted:
			if err := m.transition(workflow.ActionBeginEvaluation, "手动创建评估: "+req.Department); err != nil {
				return err
			}
		case workflow.StatusEvaluating:
		default:
			return apperr.Precondition("ECN当前状态为 %s，创建评估需要状态为 SUBMITTED/EVALUATING", m.notice.Status)
		}

		exists, err := s.repos.Evaluation.ExistsForDepartment(ctx, m.notice.ID, req.Department)
		if err != nil {
			return fmt.Errorf("check evaluation: %w", err)
		}
		if exists {
			return apperr.Precondition("部门 %s 已有评估记录", req.Department)
		}
		if req.EvaluatorID != "" {
			if _, err := s.repos.Directory.FindUser(ctx, req.EvaluatorID); err != nil {
				return notFoundAs(err, "User", req.EvaluatorID)
			}
		}

		created, err = s.evalRouter.CreateFor(ctx, m.notice, req.Department, req.EvaluatorID)
		if err != nil {
			return err
		}
		m.emit(s.evaluationRequested(m, created))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SubmitEvaluationRequest 提交评估请求
type SubmitEvaluationRequest struct {
	CostEstimate     decimal.Decimal `json:"cost_estimate"`
	ScheduleEstimate int             `json:"schedule_estimate"`
	ImpactAnalysis   string          `json:"impact_analysis"`
	RiskAssessment   string          `json:"risk_assessment"`
	Result           string          `json:"result" binding:"required"`
}

// SubmitEvaluation 提交部门评估；最后一个部门提交后汇总并进入审批
func (s *ECNService) SubmitEvaluation(ctx context.Context, evaluationID, actorID string, req *SubmitEvaluationRequest) (*entity.Evaluation, error) {
	if req.Result != entity.EvaluationResultApprove && req.Result != entity.EvaluationResultReject {
		return nil, apperr.InvalidArgument("评估结论必须是 APPROVE 或 REJECT")
	}
	if req.ScheduleEstimate < 0 {
		return nil, apperr.InvalidArgument("工期评估不能为负数")
	}

	eval, err := s.repos.Evaluation.FindByID(ctx, evaluationID)
	if err != nil {
		return nil, notFoundAs(err, "Evaluation", evaluationID)
	}

	_, err = s.mutate(ctx, "submit_evaluation", eval.NoticeID, actorID, func(ctx context.Context, m *mutation) error {
		// 锁住ECN后重新读取
		current, err := s.repos.Evaluation.FindByID(ctx, evaluationID)
		if err != nil {
			return notFoundAs(err, "Evaluation", evaluationID)
		}
		eval = current

		if eval.Status != entity.EvaluationStatusPending {
			return apperr.Precondition("评估记录状态为 %s，只有 PENDING 状态可以提交", eval.Status)
		}
		if m.notice.Status != workflow.StatusEvaluating {
			return apperr.Precondition("ECN当前状态为 %s，提交评估需要状态为 %s", m.notice.Status, workflow.StatusEvaluating)
		}
		switch eval.EvaluatorID {
		case "":
			eval.EvaluatorID = actorID
		case actorID:
		default:
			return apperr.Precondition("当前用户不是部门 %s 的评估人", eval.Department)
		}

		eval.CostEstimate = req.CostEstimate
		eval.ScheduleEstimate = req.ScheduleEstimate
		eval.ImpactAnalysis = req.ImpactAnalysis
		eval.RiskAssessment = req.RiskAssessment
		eval.Result = req.Result
		eval.Status = entity.EvaluationStatusSubmitted
		eval.SubmittedAt = &m.now
		if err := s.repos.Evaluation.Update(ctx, eval); err != nil {
			return fmt.Errorf("update evaluation: %w", err)
		}
		m.emit(m.event(event.EvaluationSubmitted).
			To(m.notice.ApplicantID).
			Message("部门评估已提交", fmt.Sprintf("%s 已提交对 %s 的评估，结论 %s", eval.Department, m.notice.Code, eval.Result)).
			With("evaluation_id", eval.ID))

		evals, err := s.repos.Evaluation.ListByNotice(ctx, m.notice.ID)
		if err != nil {
			return fmt.Errorf("list evaluations: %w", err)
		}
		summary := Aggregate(evals)
		if !summary.AllSubmitted {
			return nil
		}

		m.notice.CostImpact = summary.Cost
		m.notice.ScheduleImpact = summary.Schedule
		note := fmt.Sprintf("评估完成：成本 %s，工期 %d 天", summary.Cost.String(), summary.Schedule)
		if summary.Rejected > 0 {
			note += fmt.Sprintf("，%d 个部门不同意", summary.Rejected)
		}
		if err := m.transition(workflow.ActionCompleteEvaluation, note); err != nil {
			return err
		}
		m.notice.EvaluatedAt = &m.now
		m.emit(m.event(event.EvaluationCompleted).
			To(m.notice.ApplicantID).
			Message("ECN评估完成", fmt.Sprintf("%s %s", m.notice.Code, note)).
			With("cost_impact", summary.Cost.String()).
			With("schedule_impact", summary.Schedule).
			With("rejected", summary.Rejected))

		return s.routeApprovals(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return eval, nil
}

// routeApprovals 按审批矩阵创建审批并生成通知
func (s *ECNService) routeApprovals(ctx context.Context, m *mutation) error {
	approvals, err := s.approvalRouter.Route(ctx, m.notice)
	if err != nil {
		return err
	}
	source := "matrix"
	if len(approvals) == 1 && approvals[0].RuleID == "" {
		source = "default"
	}
	metrics.ApprovalsCreatedTotal.WithLabelValues(source).Add(float64(len(approvals)))
	for i := range approvals {
		m.emit(s.approvalRequested(m, &approvals[i]))
	}
	return nil
}

func (s *ECNService) approvalRequested(m *mutation, a *entity.Approval) event.Event {
	body := fmt.Sprintf("请审批 %s %s（第 %d 级，%s）", m.notice.Code, m.notice.Title, a.ApprovalLevel, a.ApprovalRole)
	if a.ApproverID == "" {
		body = fmt.Sprintf("%s 第 %d 级审批（%s）未能自动分配审批人，请指定", m.notice.Code, a.ApprovalLevel, a.ApprovalRole)
	}
	e := m.event(event.ApprovalCreated).
		To(m.orApplicant(a.ApproverID)).
		Message("ECN审批待处理", body).
		With("approval_id", a.ID).
		With("level", a.ApprovalLevel).
		With("due_date", a.DueDate)
	if m.notice.Priority == entity.PriorityUrgent {
		e = e.Urgent()
	}
	return e
}

// CreateApprovalRequest 创建审批请求；角色为空时按审批矩阵生成
type CreateApprovalRequest struct {
	Level      int    `json:"level"`
	Role       string `json:"role"`
	ApproverID string `json:"approver_id"`
}

// CreateApproval 创建审批记录
// SUBMITTED 状态（无评估部门）下先完成评估阶段
func (s *ECNService) CreateApproval(ctx context.Context, noticeID, actorID string, req *CreateApprovalRequest) ([]entity.Approval, error) {
	var created []entity.Approval
	_, err := s.mutate(ctx, "create_approval", noticeID, actorID, func(ctx context.Context, m *mutation) error {
		switch m.notice.Status {
		case workflow.StatusSubmitted:
			evals, err := s.repos.Evaluation.ListByNotice(ctx, m.notice.ID)
			if err != nil {
				return fmt.Errorf("list evaluations: %w", err)
			}
			if sum := Aggregate(evals); sum.Total > 0 && !sum.AllSubmitted {
				return apperr.Precondition("ECN仍有 %d 个部门评估未提交", sum.Total-sum.Submitted)
			}
			if err := m.transition(workflow.ActionCompleteEvaluation, "无需部门评估"); err != nil {
				return err
			}
			m.notice.EvaluatedAt = &m.now
		case workflow.StatusEvaluated:
		default:
			return apperr.Precondition("ECN当前状态为 %s，创建审批需要状态为 SUBMITTED/EVALUATED", m.notice.Status)
		}

		if req.Role == "" {
			existing, err := s.repos.Approval.ListByNotice(ctx, m.notice.ID)
			if err != nil {
				return fmt.Errorf("list approvals: %w", err)
			}
			if len(existing) > 0 {
				return apperr.Precondition("ECN已有 %d 条审批记录，不能重复按审批矩阵生成", len(existing))
			}
			if err := s.routeApprovals(ctx, m); err != nil {
				return err
			}
			list, err := s.repos.Approval.ListByNotice(ctx, m.notice.ID)
			if err != nil {
				return fmt.Errorf("list approvals: %w", err)
			}
			created = list
			return nil
		}

		if req.ApproverID != "" {
			if _, err := s.repos.Directory.FindUser(ctx, req.ApproverID); err != nil {
				return notFoundAs(err, "User", req.ApproverID)
			}
		}
		a, err := s.approvalRouter.CreateExplicit(ctx, m.notice, req.Level, req.Role, req.ApproverID)
		if err != nil {
			return err
		}
		metrics.ApprovalsCreatedTotal.WithLabelValues("manual").Inc()
		m.emit(s.approvalRequested(m, a))
		created = []entity.Approval{*a}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// decideApproval 审批通过与驳回的公共校验
func (s *ECNService) decideApproval(ctx context.Context, approvalID, actorID string, m *mutation) (*entity.Approval, error) {
	a, err := s.repos.Approval.FindByID(ctx, approvalID)
	if err != nil {
		return nil, notFoundAs(err, "Approval", approvalID)
	}
	if a.Status != entity.ApprovalStatusPending {
		return nil, apperr.Precondition("审批记录状态为 %s，只有 PENDING 状态可以审批", a.Status)
	}
	if a.ApproverID == "" {
		return nil, apperr.Precondition("审批记录尚未指定审批人")
	}
	if a.ApproverID != actorID {
		return nil, apperr.Precondition("当前用户不是该审批记录的审批人")
	}
	if m.notice.Status != workflow.StatusEvaluated {
		return nil, apperr.Precondition("ECN当前状态为 %s，审批需要状态为 %s", m.notice.Status, workflow.StatusEvaluated)
	}
	return a, nil
}

func (s *ECNService) noticeIDOfApproval(ctx context.Context, approvalID string) (string, error) {
	a, err := s.repos.Approval.FindByID(ctx, approvalID)
	if err != nil {
		return "", notFoundAs(err, "Approval", approvalID)
	}
	return a.NoticeID, nil
}

// Approve 审批通过；最后一条待审批完成后ECN进入 APPROVED
func (s *ECNService) Approve(ctx context.Context, approvalID, actorID, opinion string) (*entity.Approval, error) {
	noticeID, err := s.noticeIDOfApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	var decided *entity.Approval
	_, err = s.mutate(ctx, string(workflow.ActionApprove), noticeID, actorID, func(ctx context.Context, m *mutation) error {
		a, err := s.decideApproval(ctx, approvalID, actorID, m)
		if err != nil {
			return err
		}
		a.Status = entity.ApprovalStatusCompleted
		a.Result = entity.ApprovalResultApproved
		a.Opinion = opinion
		a.ApprovedAt = &m.now
		if err := s.repos.Approval.Update(ctx, a); err != nil {
			return fmt.Errorf("update approval: %w", err)
		}
		decided = a
		m.emit(m.event(event.ApprovalDecided).
			To(m.notice.ApplicantID).
			Message("ECN审批通过", fmt.Sprintf("%s 第 %d 级审批（%s）已通过", m.notice.Code, a.ApprovalLevel, a.ApprovalRole)).
			With("approval_id", a.ID).
			With("result", a.Result))

		pending, err := s.repos.Approval.CountPending(ctx, m.notice.ID)
		if err != nil {
			return fmt.Errorf("count pending approvals: %w", err)
		}
		if pending > 0 {
			return nil
		}

		if err := m.transition(workflow.ActionApprove, opinion); err != nil {
			return err
		}
		m.notice.ApprovedAt = &m.now
		m.emit(m.event(event.NoticeApproved).
			To(m.notice.ApplicantID).
			Message("ECN已批准", fmt.Sprintf("%s %s 全部审批通过，可以开始执行", m.notice.Code, m.notice.Title)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}

// Reject 驳回；任意一级驳回立即使ECN进入 REJECTED
func (s *ECNService) Reject(ctx context.Context, approvalID, actorID, opinion string) (*entity.Approval, error) {
	if opinion == "" {
		return nil, apperr.InvalidArgument("驳回意见不能为空")
	}
	noticeID, err := s.noticeIDOfApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	var decided *entity.Approval
	_, err = s.mutate(ctx, string(workflow.ActionReject), noticeID, actorID, func(ctx context.Context, m *mutation) error {
		a, err := s.decideApproval(ctx, approvalID, actorID, m)
		if err != nil {
			return err
		}
		a.Status = entity.ApprovalStatusCompleted
		a.Result = entity.ApprovalResultRejected
		a.Opinion = opinion
		a.ApprovedAt = &m.now
		if err := s.repos.Approval.Update(ctx, a); err != nil {
			return fmt.Errorf("update approval: %w", err)
		}
		decided = a

		if err := m.transition(workflow.ActionReject, opinion); err != nil {
			return err
		}
		m.notice.RejectionReason = opinion
		m.emit(m.event(event.NoticeRejected).
			To(m.notice.ApplicantID).
			Urgent().
			Message("ECN被驳回", fmt.Sprintf("%s %s 在第 %d 级审批被驳回：%s", m.notice.Code, m.notice.Title, a.ApprovalLevel, opinion)).
			With("approval_id", a.ID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}

// AssignApprover 为待审批记录指定审批人
func (s *ECNService) AssignApprover(ctx context.Context, approvalID, actorID, approverID string) (*entity.Approval, error) {
	if approverID == "" {
		return nil, apperr.InvalidArgument("审批人不能为空")
	}
	noticeID, err := s.noticeIDOfApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	var assigned *entity.Approval
	_, err = s.mutate(ctx, "assign_approver", noticeID, actorID, func(ctx context.Context, m *mutation) error {
		a, err := s.repos.Approval.FindByID(ctx, approvalID)
		if err != nil {
			return notFoundAs(err, "Approval", approvalID)
		}
		if a.Status != entity.ApprovalStatusPending {
			return apperr.Precondition("审批记录状态为 %s，只有 PENDING 状态可以指定审批人", a.Status)
		}
		if m.notice.Status != workflow.StatusEvaluated {
			return apperr.Precondition("ECN当前状态为 %s，指定审批人需要状态为 %s", m.notice.Status, workflow.StatusEvaluated)
		}
		if _, err := s.repos.Directory.FindUser(ctx, approverID); err != nil {
			return notFoundAs(err, "User", approverID)
		}

		previous := a.ApproverID
		a.ApproverID = approverID
		if err := s.repos.Approval.Update(ctx, a); err != nil {
			return fmt.Errorf("update approval: %w", err)
		}
		assigned = a
		s.logger.Info("approver assigned",
			zap.String("notice", m.notice.Code),
			zap.String("approval_id", a.ID),
			zap.String("previous", previous),
			zap.String("approver", approverID),
		)
		m.emit(m.event(event.ApprovalAssigned).
			To(approverID).
			Message("ECN审批待处理", fmt.Sprintf("请审批 %s %s（第 %d 级，%s）", m.notice.Code, m.notice.Title, a.ApprovalLevel, a.ApprovalRole)).
			With("approval_id", a.ID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// ListEvaluations 获取ECN的部门评估
func (s *ECNService) ListEvaluations(ctx context.Context, noticeID string) ([]entity.Evaluation, error) {
	if _, err := s.repos.Notice.FindByID(ctx, noticeID); err != nil {
		return nil, notFoundAs(err, "ECN", noticeID)
	}
	return s.repos.Evaluation.ListByNotice(ctx, noticeID)
}

// ApprovalOverview 审批列表与当前级别
type ApprovalOverview struct {
	CurrentLevel int               `json:"current_level"`
	Approvals    []entity.Approval `json:"approvals"`
}

// ListApprovals 获取ECN的审批记录
func (s *ECNService) ListApprovals(ctx context.Context, noticeID string) (*ApprovalOverview, error) {
	if _, err := s.repos.Notice.FindByID(ctx, noticeID); err != nil {
		return nil, notFoundAs(err, "ECN", noticeID)
	}
	list, err := s.repos.Approval.ListByNotice(ctx, noticeID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return &ApprovalOverview{CurrentLevel: CurrentLevel(list), Approvals: list}, nil
}
