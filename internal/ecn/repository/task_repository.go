package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
)

// TaskRepository 执行任务仓储
type TaskRepository struct {
	*Repository
}

// Create 创建任务
func (r *TaskRepository) Create(ctx context.Context, t *entity.ExecutionTask) error {
	if t.ID == "" {
		t.ID = entity.NewID()
	}
	return r.DB(ctx).Create(t).Error
}

// FindByID 根据ID查找任务
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*entity.ExecutionTask, error) {
	var t entity.ExecutionTask
	if err := r.DB(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListByNotice 获取ECN的执行任务
func (r *TaskRepository) ListByNotice(ctx context.Context, noticeID string) ([]entity.ExecutionTask, error) {
	var list []entity.ExecutionTask
	err := r.DB(ctx).
		Where("notice_id = ?", noticeID).
		Order("task_no ASC").
		Find(&list).Error
	return list, err
}

// NextTaskNo 下一个任务序号，需在事务中配合ECN行锁使用
func (r *TaskRepository) NextTaskNo(ctx context.Context, noticeID string) (int, error) {
	var maxNo int
	err := r.DB(ctx).
		Model(&entity.ExecutionTask{}).
		Select("COALESCE(MAX(task_no), 0)").
		Where("notice_id = ?", noticeID).
		Scan(&maxNo).Error
	if err != nil {
		return 0, err
	}
	return maxNo + 1, nil
}

// CountUnfinished 未完成任务数量
func (r *TaskRepository) CountUnfinished(ctx context.Context, noticeID string) (int64, error) {
	var count int64
	err := r.DB(ctx).
		Model(&entity.ExecutionTask{}).
		Where("notice_id = ? AND status <> ?", noticeID, entity.TaskStatusCompleted).
		Count(&count).Error
	return count, err
}

// Update 保存任务
func (r *TaskRepository) Update(ctx context.Context, t *entity.ExecutionTask) error {
	return r.DB(ctx).Save(t).Error
}

// ListOpenPlannedEndBefore 计划完成时间已过且未完成的任务
func (r *TaskRepository) ListOpenPlannedEndBefore(ctx context.Context, now time.Time) ([]entity.ExecutionTask, error) {
	var list []entity.ExecutionTask
	err := r.DB(ctx).
		Where("status IN ? AND planned_end IS NOT NULL AND planned_end < ?",
			[]string{entity.TaskStatusPending, entity.TaskStatusInProgress}, now).
		Order("planned_end ASC").
		Find(&list).Error
	return list, err
}
