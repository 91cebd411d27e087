package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
)

// txKey 事务上下文键
type txKey struct{}

// Repository 基础仓储，所有仓储嵌入此结构
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建基础仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB 返回数据库连接
// 如果 context 中有事务，返回事务连接
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Transaction 执行事务
// fn 中通过 ctx 访问的仓储操作都在同一事务中执行；已在事务中时直接复用
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// InTransaction 当前 context 是否处于事务中
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Repositories 仓库集合
type Repositories struct {
	*Repository
	Notice     *NoticeRepository
	ChangeType *ChangeTypeRepository
	Evaluation *EvaluationRepository
	Approval   *ApprovalRepository
	Task       *TaskRepository
	Material   *MaterialRepository
	BOM        *BOMRepository
	Directory  *DirectoryRepository
	Sequence   *SequenceRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	base := NewRepository(db)
	return &Repositories{
		Repository: base,
		Notice:     &NoticeRepository{base},
		ChangeType: &ChangeTypeRepository{base},
		Evaluation: &EvaluationRepository{base},
		Approval:   &ApprovalRepository{base},
		Task:       &TaskRepository{base},
		Material:   &MaterialRepository{base},
		BOM:        &BOMRepository{base},
		Directory:  &DirectoryRepository{base},
		Sequence:   &SequenceRepository{base},
	}
}
