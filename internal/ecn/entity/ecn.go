package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/workflow"
)

// ChangeNotice 工程变更通知
type ChangeNotice struct {
	ID                 string          `json:"id" gorm:"primaryKey;size:32"`
	Code               string          `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Title              string          `json:"title" gorm:"size:256;not null"`
	ChangeType         string          `json:"change_type" gorm:"size:32;not null;index"`
	Reason             string          `json:"reason" gorm:"type:text"`
	Description        string          `json:"description" gorm:"type:text"`
	ProjectID          *string         `json:"project_id" gorm:"size:32;index"`
	MachineID          *string         `json:"machine_id" gorm:"size:32"`
	CostImpact         decimal.Decimal `json:"cost_impact" gorm:"type:numeric(15,4);not null;default:0"`
	ScheduleImpact     int             `json:"schedule_impact" gorm:"not null;default:0"`
	Priority           string          `json:"priority" gorm:"size:16;not null"`
	Status             workflow.Status `json:"status" gorm:"size:20;not null;index"`
	CurrentStep        workflow.Step   `json:"current_step" gorm:"size:20;not null"`
	ApplicantID        string          `json:"applicant_id" gorm:"size:32;not null;index"`
	RejectionReason    string          `json:"rejection_reason" gorm:"type:text"`
	VerifyResult       string          `json:"verify_result" gorm:"size:16"`
	SubmittedAt        *time.Time      `json:"submitted_at"`
	EvaluatedAt        *time.Time      `json:"evaluated_at"`
	ApprovedAt         *time.Time      `json:"approved_at"`
	ExecutionStartedAt *time.Time      `json:"execution_started_at"`
	CompletedAt        *time.Time      `json:"completed_at"`
	ClosedAt           *time.Time      `json:"closed_at"`
	CancelledAt        *time.Time      `json:"cancelled_at"`
	Version            int64           `json:"version" gorm:"not null;default:1"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// 非数据库字段
	EffectiveStatus workflow.Status `json:"effective_status,omitempty" gorm:"-"`
}

func (ChangeNotice) TableName() string {
	return "change_notices"
}

// ChangeType 变更类型配置
type ChangeType struct {
	Code           string     `json:"code" gorm:"primaryKey;size:32"`
	Name           string     `json:"name" gorm:"size:64;not null"`
	Description    string     `json:"description" gorm:"type:text"`
	RequiredDepts  StringList `json:"required_depts" gorm:"type:text"`
	ApprovalMatrix JSONB      `json:"approval_matrix" gorm:"type:jsonb"`
	IsActive       bool       `json:"is_active" gorm:"not null"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (ChangeType) TableName() string {
	return "change_types"
}

// Evaluation 部门评估
type Evaluation struct {
	ID               string          `json:"id" gorm:"primaryKey;size:32"`
	NoticeID         string          `json:"notice_id" gorm:"size:32;not null;uniqueIndex:uk_evaluation_notice_dept"`
	Department       string          `json:"department" gorm:"size:64;not null;uniqueIndex:uk_evaluation_notice_dept"`
	EvaluatorID      string          `json:"evaluator_id" gorm:"size:32"`
	CostEstimate     decimal.Decimal `json:"cost_estimate" gorm:"type:numeric(15,4);not null;default:0"`
	ScheduleEstimate int             `json:"schedule_estimate" gorm:"not null;default:0"`
	ImpactAnalysis   string          `json:"impact_analysis" gorm:"type:text"`
	RiskAssessment   string          `json:"risk_assessment" gorm:"type:text"`
	Result           string          `json:"result" gorm:"size:16"`
	Status           string          `json:"status" gorm:"size:16;not null;index"`
	SubmittedAt      *time.Time      `json:"submitted_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (Evaluation) TableName() string {
	return "evaluations"
}

// ApprovalMatrixRule 审批矩阵规则
type ApprovalMatrixRule struct {
	ID            string           `json:"id" gorm:"primaryKey;size:32"`
	ChangeType    string           `json:"change_type" gorm:"size:32;not null;index"`
	ConditionType string           `json:"condition_type" gorm:"size:16;not null"`
	ConditionMin  *decimal.Decimal `json:"condition_min" gorm:"type:numeric(15,4)"`
	ConditionMax  *decimal.Decimal `json:"condition_max" gorm:"type:numeric(15,4)"`
	ApprovalLevel int              `json:"approval_level" gorm:"not null"`
	ApprovalRole  string           `json:"approval_role" gorm:"size:64;not null"`
	IsActive      bool             `json:"is_active" gorm:"not null"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (ApprovalMatrixRule) TableName() string {
	return "approval_matrix_rules"
}

// Approval 审批记录
type Approval struct {
	ID            string     `json:"id" gorm:"primaryKey;size:32"`
	NoticeID      string     `json:"notice_id" gorm:"size:32;not null;index"`
	RuleID        string     `json:"rule_id" gorm:"size:32"`
	ApprovalLevel int        `json:"approval_level" gorm:"not null"`
	ApprovalRole  string     `json:"approval_role" gorm:"size:64;not null"`
	ApproverID    string     `json:"approver_id" gorm:"size:32;index"`
	Result        string     `json:"result" gorm:"size:16"`
	Opinion       string     `json:"opinion" gorm:"type:text"`
	DueDate       time.Time  `json:"due_date" gorm:"not null"`
	IsOverdue     bool       `json:"is_overdue" gorm:"not null"`
	Status        string     `json:"status" gorm:"size:16;not null;index"`
	ApprovedAt    *time.Time `json:"approved_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Approval) TableName() string {
	return "approvals"
}

// ExecutionTask 执行任务
type ExecutionTask struct {
	ID           string     `json:"id" gorm:"primaryKey;size:32"`
	NoticeID     string     `json:"notice_id" gorm:"size:32;not null;uniqueIndex:uk_task_notice_no"`
	TaskNo       int        `json:"task_no" gorm:"not null;uniqueIndex:uk_task_notice_no"`
	Title        string     `json:"title" gorm:"size:256;not null"`
	Description  string     `json:"description" gorm:"type:text"`
	Department   string     `json:"department" gorm:"size:64"`
	AssigneeID   string     `json:"assignee_id" gorm:"size:32;index"`
	PlannedStart *time.Time `json:"planned_start"`
	PlannedEnd   *time.Time `json:"planned_end"`
	ActualStart  *time.Time `json:"actual_start"`
	ActualEnd    *time.Time `json:"actual_end"`
	Progress     int        `json:"progress" gorm:"not null;default:0"`
	Status       string     `json:"status" gorm:"size:16;not null;index"`
	Remark       string     `json:"remark" gorm:"type:text"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (ExecutionTask) TableName() string {
	return "execution_tasks"
}

// AffectedMaterial 受影响物料
type AffectedMaterial struct {
	ID               string          `json:"id" gorm:"primaryKey;size:32"`
	NoticeID         string          `json:"notice_id" gorm:"size:32;not null;index"`
	MaterialID       *string         `json:"material_id" gorm:"size:32"`
	MaterialCode     string          `json:"material_code" gorm:"size:64"`
	MaterialName     string          `json:"material_name" gorm:"size:256"`
	ChangeType       string          `json:"change_type" gorm:"size:16;not null"`
	OldQuantity      decimal.Decimal `json:"old_quantity" gorm:"type:numeric(15,4);not null;default:0"`
	NewQuantity      decimal.Decimal `json:"new_quantity" gorm:"type:numeric(15,4);not null;default:0"`
	OldSpecification string          `json:"old_specification" gorm:"type:text"`
	NewSpecification string          `json:"new_specification" gorm:"type:text"`
	NewMaterialID    *string         `json:"new_material_id" gorm:"size:32"`
	NewMaterialCode  string          `json:"new_material_code" gorm:"size:64"`
	CostImpact       decimal.Decimal `json:"cost_impact" gorm:"type:numeric(15,4);not null;default:0"`
	IsObsoleteRisk   bool            `json:"is_obsolete_risk" gorm:"not null"`
	ObsoleteQuantity decimal.Decimal `json:"obsolete_quantity" gorm:"type:numeric(15,4);not null;default:0"`
	Remark           string          `json:"remark" gorm:"type:text"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (AffectedMaterial) TableName() string {
	return "affected_materials"
}

// BomImpactResult BOM影响分析结果，每个(ECN, BOM)唯一
type BomImpactResult struct {
	ID                string          `json:"id" gorm:"primaryKey;size:32"`
	NoticeID          string          `json:"notice_id" gorm:"size:32;not null;uniqueIndex:uk_impact_notice_bom"`
	BomID             string          `json:"bom_id" gorm:"size:32;not null;uniqueIndex:uk_impact_notice_bom"`
	MachineID         string          `json:"machine_id" gorm:"size:32;not null"`
	BomVersion        string          `json:"bom_version" gorm:"size:16"`
	AffectedItemCount int             `json:"affected_item_count" gorm:"not null;default:0"`
	DirectCount       int             `json:"direct_count" gorm:"not null;default:0"`
	CascadeCount      int             `json:"cascade_count" gorm:"not null;default:0"`
	TotalCostImpact   decimal.Decimal `json:"total_cost_impact" gorm:"type:numeric(15,4);not null;default:0"`
	MaxScheduleDays   int             `json:"max_schedule_days" gorm:"not null;default:0"`
	Analysis          JSONB           `json:"analysis" gorm:"type:jsonb"`
	Status            string          `json:"status" gorm:"size:16;not null"`
	AnalyzedAt        time.Time       `json:"analyzed_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (BomImpactResult) TableName() string {
	return "bom_impact_results"
}

// ChangeLog ECN状态变更日志，只追加
type ChangeLog struct {
	ID        string          `json:"id" gorm:"primaryKey;size:32"`
	NoticeID  string          `json:"notice_id" gorm:"size:32;not null;index"`
	OldStatus workflow.Status `json:"old_status" gorm:"size:20"`
	NewStatus workflow.Status `json:"new_status" gorm:"size:20;not null"`
	Action    string          `json:"action" gorm:"size:32;not null"`
	ActorID   string          `json:"actor_id" gorm:"size:32;not null"`
	Note      string          `json:"note" gorm:"type:text"`
	CreatedAt time.Time       `json:"created_at"`
}

func (ChangeLog) TableName() string {
	return "change_logs"
}

// ECN优先级
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// 评估状态与结论
const (
	EvaluationStatusPending   = "PENDING"
	EvaluationStatusSubmitted = "SUBMITTED"

	EvaluationResultApprove = "APPROVE"
	EvaluationResultReject  = "REJECT"
)

// 审批矩阵条件类型
const (
	ConditionCost     = "COST"
	ConditionSchedule = "SCHEDULE"
)

// 审批状态与结论
const (
	ApprovalStatusPending   = "PENDING"
	ApprovalStatusCompleted = "COMPLETED"

	ApprovalResultApproved = "APPROVED"
	ApprovalResultRejected = "REJECTED"
)

// 执行任务状态
const (
	TaskStatusPending    = "PENDING"
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusCompleted  = "COMPLETED"
)

// 物料变更类型
const (
	MaterialChangeAdd     = "ADD"
	MaterialChangeDelete  = "DELETE"
	MaterialChangeUpdate  = "UPDATE"
	MaterialChangeReplace = "REPLACE"
)

// 验证结论
const (
	VerifyPass = "PASS"
	VerifyFail = "FAIL"
)

// BOM影响分析状态
const (
	ImpactStatusCompleted = "COMPLETED"
)
