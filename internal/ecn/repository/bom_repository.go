package repository

import (
	"context"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
)

// MaterialRepository 物料与受影响物料仓储
type MaterialRepository struct {
	*Repository
}

// CreateAffected 添加受影响物料
func (r *MaterialRepository) CreateAffected(ctx context.Context, m *entity.AffectedMaterial) error {
	if m.ID == "" {
		m.ID = entity.NewID()
	}
	return r.DB(ctx).Create(m).Error
}

// ListAffected 获取ECN的受影响物料
func (r *MaterialRepository) ListAffected(ctx context.Context, noticeID string) ([]entity.AffectedMaterial, error) {
	var list []entity.AffectedMaterial
	err := r.DB(ctx).
		Where("notice_id = ?", noticeID).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

// FindByIDs 批量查找物料
func (r *MaterialRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*entity.Material, error) {
	result := make(map[string]*entity.Material, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var list []entity.Material
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for i := range list {
		result[list[i].ID] = &list[i]
	}
	return result, nil
}

// FindByCodes 批量按编码查找物料
func (r *MaterialRepository) FindByCodes(ctx context.Context, codes []string) (map[string]*entity.Material, error) {
	result := make(map[string]*entity.Material, len(codes))
	if len(codes) == 0 {
		return result, nil
	}
	var list []entity.Material
	if err := r.DB(ctx).Where("code IN ?", codes).Find(&list).Error; err != nil {
		return nil, err
	}
	for i := range list {
		result[list[i].Code] = &list[i]
	}
	return result, nil
}

// BOMRepository BOM数据与影响分析结果仓储
type BOMRepository struct {
	*Repository
}

// FindMachine 查找整机
func (r *BOMRepository) FindMachine(ctx context.Context, id string) (*entity.Machine, error) {
	var m entity.Machine
	if err := r.DB(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListReleasedLatest 获取整机已发布的最新版本BOM表头
func (r *BOMRepository) ListReleasedLatest(ctx context.Context, machineID string) ([]entity.BomHeader, error) {
	var list []entity.BomHeader
	err := r.DB(ctx).
		Where("machine_id = ? AND status = ? AND is_latest = ?", machineID, entity.BOMStatusReleased, true).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

// ListItems 获取BOM全部行项
func (r *BOMRepository) ListItems(ctx context.Context, bomID string) ([]entity.BomItem, error) {
	var list []entity.BomItem
	err := r.DB(ctx).
		Where("bom_id = ?", bomID).
		Order("level ASC, item_number ASC, id ASC").
		Find(&list).Error
	return list, err
}

// FindImpact 查找(ECN, BOM)的影响分析结果
func (r *BOMRepository) FindImpact(ctx context.Context, noticeID, bomID string) (*entity.BomImpactResult, error) {
	var res entity.BomImpactResult
	err := r.DB(ctx).
		Where("notice_id = ? AND bom_id = ?", noticeID, bomID).
		First(&res).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &res, nil
}

// CreateImpact 新增影响分析结果
func (r *BOMRepository) CreateImpact(ctx context.Context, res *entity.BomImpactResult) error {
	if res.ID == "" {
		res.ID = entity.NewID()
	}
	return r.DB(ctx).Create(res).Error
}

// UpdateImpact 覆盖影响分析结果
func (r *BOMRepository) UpdateImpact(ctx context.Context, res *entity.BomImpactResult) error {
	return r.DB(ctx).Save(res).Error
}

// ListImpacts 获取ECN全部影响分析结果
func (r *BOMRepository) ListImpacts(ctx context.Context, noticeID string) ([]entity.BomImpactResult, error) {
	var list []entity.BomImpactResult
	err := r.DB(ctx).
		Where("notice_id = ?", noticeID).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}
