package repository

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
)

// ChangeTypeRepository 变更类型配置仓储
type ChangeTypeRepository struct {
	*Repository
}

// FindByCode 根据编码查找变更类型
func (r *ChangeTypeRepository) FindByCode(ctx context.Context, code string) (*entity.ChangeType, error) {
	var ct entity.ChangeType
	if err := r.DB(ctx).Where("code = ?", code).First(&ct).Error; err != nil {
		return nil, notFound(err)
	}
	return &ct, nil
}

// List 获取全部变更类型
func (r *ChangeTypeRepository) List(ctx context.Context) ([]entity.ChangeType, error) {
	var list []entity.ChangeType
	err := r.DB(ctx).Order("code ASC").Find(&list).Error
	return list, err
}

// Upsert 新增或覆盖变更类型
func (r *ChangeTypeRepository) Upsert(ctx context.Context, ct *entity.ChangeType) error {
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "required_depts", "approval_matrix", "is_active", "updated_at"}),
	}).Create(ct).Error
}

// ReplaceRules 整体替换变更类型的审批矩阵规则
func (r *ChangeTypeRepository) ReplaceRules(ctx context.Context, changeType string, rules []entity.ApprovalMatrixRule) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		if err := r.DB(ctx).Where("change_type = ?", changeType).Delete(&entity.ApprovalMatrixRule{}).Error; err != nil {
			return err
		}
		for i := range rules {
			rules[i].ChangeType = changeType
			if rules[i].ID == "" {
				rules[i].ID = entity.NewID()
			}
			if err := r.DB(ctx).Create(&rules[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
