package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
)

// ApprovalRepository 审批仓储
type ApprovalRepository struct {
	*Repository
}

// Create 创建审批记录
func (r *ApprovalRepository) Create(ctx context.Context, a *entity.Approval) error {
	if a.ID == "" {
		a.ID = entity.NewID()
	}
	return r.DB(ctx).Create(a).Error
}

// FindByID 根据ID查找审批记录
func (r *ApprovalRepository) FindByID(ctx context.Context, id string) (*entity.Approval, error) {
	var a entity.Approval
	if err := r.DB(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// ListByNotice 获取ECN审批列表，按级别排序
func (r *ApprovalRepository) ListByNotice(ctx context.Context, noticeID string) ([]entity.Approval, error) {
	var list []entity.Approval
	err := r.DB(ctx).
		Where("notice_id = ?", noticeID).
		Order("approval_level ASC, created_at ASC").
		Find(&list).Error
	return list, err
}

// CountPending 待审批数量
func (r *ApprovalRepository) CountPending(ctx context.Context, noticeID string) (int64, error) {
	var count int64
	err := r.DB(ctx).
		Model(&entity.Approval{}).
		Where("notice_id = ? AND status = ?", noticeID, entity.ApprovalStatusPending).
		Count(&count).Error
	return count, err
}

// CountPendingByNotices 批量统计待审批数量
func (r *ApprovalRepository) CountPendingByNotices(ctx context.Context, noticeIDs []string) (map[string]int, error) {
	result := make(map[string]int, len(noticeIDs))
	if len(noticeIDs) == 0 {
		return result, nil
	}
	var rows []struct {
		NoticeID string
		Count    int
	}
	err := r.DB(ctx).
		Model(&entity.Approval{}).
		Select("notice_id, COUNT(*) AS count").
		Where("notice_id IN ? AND status = ?", noticeIDs, entity.ApprovalStatusPending).
		Group("notice_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.NoticeID] = row.Count
	}
	return result, nil
}

// Update 保存审批记录
func (r *ApprovalRepository) Update(ctx context.Context, a *entity.Approval) error {
	return r.DB(ctx).Save(a).Error
}

// ListPendingDueBefore 到期未处理的审批
func (r *ApprovalRepository) ListPendingDueBefore(ctx context.Context, now time.Time) ([]entity.Approval, error) {
	var list []entity.Approval
	err := r.DB(ctx).
		Where("status = ? AND due_date < ?", entity.ApprovalStatusPending, now).
		Order("due_date ASC").
		Find(&list).Error
	return list, err
}

// MarkOverdue 标记逾期，只会把 false 翻为 true
func (r *ApprovalRepository) MarkOverdue(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.DB(ctx).
		Model(&entity.Approval{}).
		Where("id IN ? AND is_overdue = ?", ids, false).
		Updates(map[string]interface{}{
			"is_overdue": true,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// ListActiveRules 获取变更类型的有效审批矩阵规则
func (r *ApprovalRepository) ListActiveRules(ctx context.Context, changeType string) ([]entity.ApprovalMatrixRule, error) {
	var rules []entity.ApprovalMatrixRule
	err := r.DB(ctx).
		Where("change_type = ? AND is_active = ?", changeType, true).
		Order("approval_level ASC, created_at ASC").
		Find(&rules).Error
	return rules, err
}
