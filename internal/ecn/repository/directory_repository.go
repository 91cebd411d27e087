package repository

import (
	"context"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
)

// ScopeKind 人员范围类型
type ScopeKind string

const (
	ScopeDepartment ScopeKind = "department"
	ScopeRole       ScopeKind = "role"
)

// DirectoryRepository 组织目录查询（用户、部门、角色、项目成员）
type DirectoryRepository struct {
	*Repository
}

// FindUser 查找用户
func (r *DirectoryRepository) FindUser(ctx context.Context, id string) (*entity.User, error) {
	var u entity.User
	if err := r.DB(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// ListCandidates 按部门或角色列出在职用户；projectID 非空时仅限该项目的有效成员
// 结果按 users.created_at, users.id 排序
func (r *DirectoryRepository) ListCandidates(ctx context.Context, kind ScopeKind, name, projectID string) ([]entity.User, error) {
	query := r.DB(ctx).
		Model(&entity.User{}).
		Select("users.*").
		Where("users.status = ?", entity.UserStatusActive)

	switch kind {
	case ScopeDepartment:
		query = query.
			Joins("JOIN departments ON departments.id = users.department_id").
			Where("departments.name = ?", name)
	case ScopeRole:
		query = query.
			Joins("JOIN user_roles ON user_roles.user_id = users.id").
			Joins("JOIN roles ON roles.id = user_roles.role_id").
			Where("(roles.code = ? OR roles.name = ?)", name, name)
	default:
		return nil, nil
	}

	if projectID != "" {
		query = query.
			Joins("JOIN project_members ON project_members.user_id = users.id").
			Where("project_members.project_id = ? AND project_members.is_active = ?", projectID, true)
	}

	var users []entity.User
	err := query.
		Distinct().
		Order("users.created_at ASC, users.id ASC").
		Find(&users).Error
	return users, err
}
