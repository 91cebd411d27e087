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
	"github.com/bitfantasy/nimo-ecn/internal/shared/apperr"
)

// ApprovalRouter 审批矩阵路由
type ApprovalRouter struct {
	approvalRepo *repository.ApprovalRepository
	resolver     *AssignmentResolver
	cfg          config.ECNConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewApprovalRouter 创建审批路由
func NewApprovalRouter(approvalRepo *repository.ApprovalRepository, resolver *AssignmentResolver, cfg config.ECNConfig, logger *zap.Logger) *ApprovalRouter {
	return &ApprovalRouter{
		approvalRepo: approvalRepo,
		resolver:     resolver,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// MatchRules 选出命中的规则；上下限缺一不匹配，闭区间
// 多条规则同时命中时全部返回
func MatchRules(rules []entity.ApprovalMatrixRule, cost decimal.Decimal, scheduleDays int) []entity.ApprovalMatrixRule {
	var matched []entity.ApprovalMatrixRule
	schedule := decimal.NewFromInt(int64(scheduleDays))
	for _, rule := range rules {
		if !rule.IsActive || rule.ConditionMin == nil || rule.ConditionMax == nil {
			continue
		}
		var value decimal.Decimal
		switch rule.ConditionType {
		case entity.ConditionCost:
			value = cost
		case entity.ConditionSchedule:
			value = schedule
		default:
			continue
		}
		if value.GreaterThanOrEqual(*rule.ConditionMin) && value.LessThanOrEqual(*rule.ConditionMax) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// Route 根据审批矩阵为ECN创建审批记录
// 没有命中规则时回退到默认一级审批；关闭回退时返回配置缺失错误
func (r *ApprovalRouter) Route(ctx context.Context, notice *entity.ChangeNotice) ([]entity.Approval, error) {
	rules, err := r.approvalRepo.ListActiveRules(ctx, notice.ChangeType)
	if err != nil {
		return nil, fmt.Errorf("list approval rules: %w", err)
	}

	matched := MatchRules(rules, notice.CostImpact, notice.ScheduleImpact)
	if len(matched) == 0 {
		if !r.cfg.DefaultApprovalFallback || r.cfg.DefaultApprovalRole == "" {
			return nil, apperr.ConfigurationGap("变更类型 %s 没有匹配的审批规则（成本 %s，工期 %d 天）",
				notice.ChangeType, notice.CostImpact.String(), notice.ScheduleImpact)
		}
		r.logger.Info("no approval rule matched, using default",
			zap.String("notice", notice.Code),
			zap.String("role", r.cfg.DefaultApprovalRole),
		)
		matched = []entity.ApprovalMatrixRule{{
			ApprovalLevel: 1,
			ApprovalRole:  r.cfg.DefaultApprovalRole,
		}}
	}

	approvals := make([]entity.Approval, 0, len(matched))
	for _, rule := range matched {
		a, err := r.create(ctx, notice, rule.ID, rule.ApprovalLevel, rule.ApprovalRole, "")
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *a)
	}
	return approvals, nil
}

// CreateExplicit 手动指定级别和角色创建审批
func (r *ApprovalRouter) CreateExplicit(ctx context.Context, notice *entity.ChangeNotice, level int, role, approverID string) (*entity.Approval, error) {
	if level < 1 {
		return nil, apperr.InvalidArgument("审批级别必须大于0")
	}
	if role == "" {
		return nil, apperr.InvalidArgument("审批角色不能为空")
	}
	return r.create(ctx, notice, "", level, role, approverID)
}

func (r *ApprovalRouter) create(ctx context.Context, notice *entity.ChangeNotice, ruleID string, level int, role, approverID string) (*entity.Approval, error) {
	if approverID == "" {
		id, ok, err := r.resolver.Resolve(ctx, RoleScope(role), projectOf(notice))
		if err != nil {
			return nil, fmt.Errorf("resolve approver: %w", err)
		}
		if ok {
			approverID = id
		}
	}

	now := r.now()
	a := &entity.Approval{
		ID:            entity.NewID(),
		NoticeID:      notice.ID,
		RuleID:        ruleID,
		ApprovalLevel: level,
		ApprovalRole:  role,
		ApproverID:    approverID,
		DueDate:       now.AddDate(0, 0, r.dueDays()),
		Status:        entity.ApprovalStatusPending,
		CreatedAt:     now,
	}
	if err := r.approvalRepo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	return a, nil
}

func (r *ApprovalRouter) dueDays() int {
	if r.cfg.ApprovalDueDays > 0 {
		return r.cfg.ApprovalDueDays
	}
	return 3
}

// CurrentLevel 当前审批级别：待审批记录中的最低级别，没有待审批返回0
func CurrentLevel(approvals []entity.Approval) int {
	level := 0
	for _, a := range approvals {
		if a.Status != entity.ApprovalStatusPending {
			continue
		}
		if level == 0 || a.ApprovalLevel < level {
			level = a.ApprovalLevel
		}
	}
	return level
}
