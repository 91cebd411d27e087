package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
)

// NoticeRepository ECN仓储
type NoticeRepository struct {
	*Repository
}

// FindByID 根据ID查找ECN
func (r *NoticeRepository) FindByID(ctx context.Context, id string) (*entity.ChangeNotice, error) {
	var notice entity.ChangeNotice
	if err := r.DB(ctx).Where("id = ?", id).First(&notice).Error; err != nil {
		return nil, notFound(err)
	}
	return &notice, nil
}

// FindByIDForUpdate 加行锁读取ECN，必须在事务中调用
func (r *NoticeRepository) FindByIDForUpdate(ctx context.Context, id string) (*entity.ChangeNotice, error) {
	var notice entity.ChangeNotice
	err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&notice).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &notice, nil
}

// FindByCode 根据编码查找ECN
func (r *NoticeRepository) FindByCode(ctx context.Context, code string) (*entity.ChangeNotice, error) {
	var notice entity.ChangeNotice
	if err := r.DB(ctx).Where("code = ?", code).First(&notice).Error; err != nil {
		return nil, notFound(err)
	}
	return &notice, nil
}

// Create 创建ECN
func (r *NoticeRepository) Create(ctx context.Context, notice *entity.ChangeNotice) error {
	if notice.Version == 0 {
		notice.Version = 1
	}
	return r.DB(ctx).Create(notice).Error
}

// SaveVersioned 按版本号乐观更新，成功后版本号加一
func (r *NoticeRepository) SaveVersioned(ctx context.Context, notice *entity.ChangeNotice) error {
	expected := notice.Version
	notice.UpdatedAt = time.Now()
	result := r.DB(ctx).
		Model(&entity.ChangeNotice{}).
		Where("id = ? AND version = ?", notice.ID, expected).
		Updates(map[string]interface{}{
			"title":                notice.Title,
			"change_type":          notice.ChangeType,
			"reason":               notice.Reason,
			"description":          notice.Description,
			"project_id":           notice.ProjectID,
			"machine_id":           notice.MachineID,
			"cost_impact":          notice.CostImpact,
			"schedule_impact":      notice.ScheduleImpact,
			"priority":             notice.Priority,
			"status":               notice.Status,
			"current_step":         notice.CurrentStep,
			"rejection_reason":     notice.RejectionReason,
			"verify_result":        notice.VerifyResult,
			"submitted_at":         notice.SubmittedAt,
			"evaluated_at":         notice.EvaluatedAt,
			"approved_at":          notice.ApprovedAt,
			"execution_started_at": notice.ExecutionStartedAt,
			"completed_at":         notice.CompletedAt,
			"closed_at":            notice.ClosedAt,
			"cancelled_at":         notice.CancelledAt,
			"version":              gorm.Expr("version + 1"),
			"updated_at":           notice.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	notice.Version = expected + 1
	return nil
}

// NoticeFilter ECN列表过滤条件
type NoticeFilter struct {
	Keyword     string
	Status      string
	ChangeType  string
	ApplicantID string
	ProjectID   string
	Priority    string
}

// List 获取ECN列表
func (r *NoticeRepository) List(ctx context.Context, page, pageSize int, filter NoticeFilter) ([]entity.ChangeNotice, int64, error) {
	var notices []entity.ChangeNotice
	var total int64

	query := r.DB(ctx).Model(&entity.ChangeNotice{})
	if filter.Keyword != "" {
		like := "%" + filter.Keyword + "%"
		query = query.Where("(title LIKE ? OR code LIKE ?)", like, like)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ChangeType != "" {
		query = query.Where("change_type = ?", filter.ChangeType)
	}
	if filter.ApplicantID != "" {
		query = query.Where("applicant_id = ?", filter.ApplicantID)
	}
	if filter.ProjectID != "" {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&notices).Error
	if err != nil {
		return nil, 0, err
	}
	return notices, total, nil
}

// FindByIDs 批量查找ECN
func (r *NoticeRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*entity.ChangeNotice, error) {
	result := make(map[string]*entity.ChangeNotice, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var notices []entity.ChangeNotice
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&notices).Error; err != nil {
		return nil, err
	}
	for i := range notices {
		result[notices[i].ID] = &notices[i]
	}
	return result, nil
}

// AppendLog 追加状态变更日志
func (r *NoticeRepository) AppendLog(ctx context.Context, log *entity.ChangeLog) error {
	if log.ID == "" {
		log.ID = entity.NewID()
	}
	return r.DB(ctx).Create(log).Error
}

// ListLogs 获取ECN状态变更日志
func (r *NoticeRepository) ListLogs(ctx context.Context, noticeID string) ([]entity.ChangeLog, error) {
	var logs []entity.ChangeLog
	err := r.DB(ctx).
		Where("notice_id = ?", noticeID).
		Order("created_at ASC, id ASC").
		Find(&logs).Error
	return logs, err
}
