package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/config"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
)

// EvaluationRouter 部门评估路由
type EvaluationRouter struct {
	evalRepo *repository.EvaluationRepository
	resolver *AssignmentResolver
	cfg      config.ECNConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewEvaluationRouter 创建评估路由
func NewEvaluationRouter(evalRepo *repository.EvaluationRepository, resolver *AssignmentResolver, cfg config.ECNConfig, logger *zap.Logger) *EvaluationRouter {
	return &EvaluationRouter{
		evalRepo: evalRepo,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// RequiredDepartments 需要评估的部门，成本超过阈值时追加财务部门
func (r *EvaluationRouter) RequiredDepartments(ct *entity.ChangeType, cost decimal.Decimal) []string {
	var depts []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		depts = append(depts, name)
	}

	if ct != nil {
		for _, d := range ct.RequiredDepts {
			add(d)
		}
	}
	if r.cfg.FinanceDepartment != "" && cost.GreaterThan(decimal.NewFromFloat(r.cfg.FinanceCostThreshold)) {
		add(r.cfg.FinanceDepartment)
	}
	return depts
}

// CreateFor 为ECN创建一条部门评估；evaluatorID 为空时按部门解析
func (r *EvaluationRouter) CreateFor(ctx context.Context, notice *entity.ChangeNotice, department, evaluatorID string) (*entity.Evaluation, error) {
	if evaluatorID == "" {
		id, ok, err := r.resolver.Resolve(ctx, DepartmentScope(department), projectOf(notice))
		if err != nil {
			return nil, fmt.Errorf("resolve evaluator: %w", err)
		}
		if ok {
			evaluatorID = id
		}
	}

	eval := &entity.Evaluation{
		ID:          entity.NewID(),
		NoticeID:    notice.ID,
		Department:  department,
		EvaluatorID: evaluatorID,
		Status:      entity.EvaluationStatusPending,
		CreatedAt:   r.now(),
	}
	if err := r.evalRepo.Create(ctx, eval); err != nil {
		return nil, fmt.Errorf("create evaluation: %w", err)
	}

	if evaluatorID == "" {
		r.logger.Warn("evaluation created without evaluator",
			zap.String("notice", notice.Code),
			zap.String("department", department),
		)
	}
	return eval, nil
}

// Route 为所有必需部门创建评估
func (r *EvaluationRouter) Route(ctx context.Context, notice *entity.ChangeNotice, ct *entity.ChangeType) ([]entity.Evaluation, error) {
	depts := r.RequiredDepartments(ct, notice.CostImpact)
	evals := make([]entity.Evaluation, 0, len(depts))
	for _, dept := range depts {
		eval, err := r.CreateFor(ctx, notice, dept, "")
		if err != nil {
			return nil, err
		}
		evals = append(evals, *eval)
	}
	return evals, nil
}

// EvaluationSummary 评估汇总
type EvaluationSummary struct {
	Total        int
	Submitted    int
	Rejected     int
	AllSubmitted bool
	Cost         decimal.Decimal
	Schedule     int
	Departments  []string
}

// Aggregate 汇总评估：成本求和，工期取最大
func Aggregate(evals []entity.Evaluation) EvaluationSummary {
	sum := EvaluationSummary{Total: len(evals), Cost: decimal.Zero}
	for _, e := range evals {
		if e.Status != entity.EvaluationStatusSubmitted {
			continue
		}
		sum.Submitted++
		sum.Cost = sum.Cost.Add(e.CostEstimate)
		if e.ScheduleEstimate > sum.Schedule {
			sum.Schedule = e.ScheduleEstimate
		}
		if e.Result == entity.EvaluationResultReject {
			sum.Rejected++
		}
		sum.Departments = append(sum.Departments, e.Department)
	}
	sum.AllSubmitted = sum.Total > 0 && sum.Submitted == sum.Total
	return sum
}

func projectOf(notice *entity.ChangeNotice) string {
	if notice.ProjectID == nil {
		return ""
	}
	return *notice.ProjectID
}
