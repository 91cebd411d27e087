package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
)

// EvaluationRepository 部门评估仓储
type EvaluationRepository struct {
	*Repository
}

// Create 创建评估
func (r *EvaluationRepository) Create(ctx context.Context, e *entity.Evaluation) error {
	if e.ID == "" {
		e.ID = entity.NewID()
	}
	return r.DB(ctx).Create(e).Error
}

// FindByID 根据ID查找评估
func (r *EvaluationRepository) FindByID(ctx context.Context, id string) (*entity.Evaluation, error) {
	var e entity.Evaluation
	if err := r.DB(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// ListByNotice 获取ECN的全部评估
func (r *EvaluationRepository) ListByNotice(ctx context.Context, noticeID string) ([]entity.Evaluation, error) {
	var list []entity.Evaluation
	err := r.DB(ctx).
		Where("notice_id = ?", noticeID).
		Order("created_at ASC, department ASC").
		Find(&list).Error
	return list, err
}

// ExistsForDepartment 该部门评估是否已存在
func (r *EvaluationRepository) ExistsForDepartment(ctx context.Context, noticeID, department string) (bool, error) {
	var count int64
	err := r.DB(ctx).
		Model(&entity.Evaluation{}).
		Where("notice_id = ? AND department = ?", noticeID, department).
		Count(&count).Error
	return count > 0, err
}

// Update 保存评估
func (r *EvaluationRepository) Update(ctx context.Context, e *entity.Evaluation) error {
	return r.DB(ctx).Save(e).Error
}

// ListPendingCreatedBefore 创建时间早于 cutoff 的待评估记录
func (r *EvaluationRepository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]entity.Evaluation, error) {
	var list []entity.Evaluation
	err := r.DB(ctx).
		Where("status = ? AND created_at < ?", entity.EvaluationStatusPending, cutoff).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}
