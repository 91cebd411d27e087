// Package workflow ECN状态机：封闭的状态枚举与唯一的迁移表
package workflow

// Status ECN状态
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusSubmitted     Status = "SUBMITTED"
	StatusEvaluating    Status = "EVALUATING"
	StatusEvaluated     Status = "EVALUATED"
	StatusInApproval    Status = "IN_APPROVAL" // 不落库，由待审批记录推导
	StatusApproved      Status = "APPROVED"
	StatusRejected      Status = "REJECTED"
	StatusExecuting     Status = "EXECUTING"
	StatusPendingVerify Status = "PENDING_VERIFY"
	StatusCompleted     Status = "COMPLETED"
	StatusClosed        Status = "CLOSED"
	StatusCancelled     Status = "CANCELLED"
)

var allStatuses = []Status{
	StatusDraft, StatusSubmitted, StatusEvaluating, StatusEvaluated, StatusInApproval,
	StatusApproved, StatusRejected, StatusExecuting, StatusPendingVerify,
	StatusCompleted, StatusClosed, StatusCancelled,
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Label 中文名称
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "草稿"
	case StatusSubmitted:
		return "已提交"
	case StatusEvaluating:
		return "评估中"
	case StatusEvaluated:
		return "已评估"
	case StatusInApproval:
		return "审批中"
	case StatusApproved:
		return "已批准"
	case StatusRejected:
		return "已驳回"
	case StatusExecuting:
		return "执行中"
	case StatusPendingVerify:
		return "待验证"
	case StatusCompleted:
		return "已完成"
	case StatusClosed:
		return "已关闭"
	case StatusCancelled:
		return "已取消"
	}
	return string(s)
}

// Effective 对外展示的状态：已评估且仍有待审批记录时视为审批中
func Effective(s Status, pendingApprovals int) Status {
	if s == StatusEvaluated && pendingApprovals > 0 {
		return StatusInApproval
	}
	return s
}

// Step 粗粒度阶段
type Step string

const (
	StepDraft        Step = "DRAFT"
	StepEvaluation   Step = "EVALUATION"
	StepApproval     Step = "APPROVAL"
	StepExecution    Step = "EXECUTION"
	StepVerification Step = "VERIFICATION"
	StepClosed       Step = "CLOSED"
)

// StepFor 状态对应的阶段；驳回与取消保留原阶段，返回 false
func StepFor(s Status) (Step, bool) {
	switch s {
	case StatusDraft:
		return StepDraft, true
	case StatusSubmitted, StatusEvaluating:
		return StepEvaluation, true
	case StatusEvaluated, StatusInApproval:
		return StepApproval, true
	case StatusApproved, StatusExecuting:
		return StepExecution, true
	case StatusPendingVerify, StatusCompleted:
		return StepVerification, true
	case StatusClosed:
		return StepClosed, true
	}
	return "", false
}
