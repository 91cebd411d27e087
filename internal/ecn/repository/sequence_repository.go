package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
)

// SequenceRepository 数据库流水号
type SequenceRepository struct {
	*Repository
}

// Next 对(前缀, 日期)原子自增并返回新值
func (r *SequenceRepository) Next(ctx context.Context, prefix, dateKey string) (int64, error) {
	var value int64
	err := r.Transaction(ctx, func(ctx context.Context) error {
		seq := entity.CodeSequence{Prefix: prefix, DateKey: dateKey, Value: 1, UpdatedAt: time.Now()}
		err := r.DB(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "prefix"}, {Name: "date_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"value":      gorm.Expr("code_sequences.value + 1"),
				"updated_at": time.Now(),
			}),
		}).Create(&seq).Error
		if err != nil {
			return err
		}
		return r.DB(ctx).
			Model(&entity.CodeSequence{}).
			Select("value").
			Where("prefix = ? AND date_key = ?", prefix, dateKey).
			Scan(&value).Error
	})
	return value, err
}
