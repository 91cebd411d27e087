package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
)

// Directory 组织目录
type Directory interface {
	ListCandidates(ctx context.Context, kind repository.ScopeKind, name, projectID string) ([]entity.User, error)
}

// Scope 责任人范围：部门或角色
type Scope struct {
	Kind repository.ScopeKind
	Name string
}

// DepartmentScope 部门范围
func DepartmentScope(name string) Scope {
	return Scope{Kind: repository.ScopeDepartment, Name: name}
}

// RoleScope 角色范围
func RoleScope(name string) Scope {
	return Scope{Kind: repository.ScopeRole, Name: name}
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Name)
}

// 职位关键字
const (
	titleLead       = "负责人"
	titleManager    = "经理"
	titleSupervisor = "主管"
)

// AssignmentResolver 责任人解析
type AssignmentResolver struct {
	dir    Directory
	logger *zap.Logger
}

// NewAssignmentResolver 创建责任人解析器
func NewAssignmentResolver(dir Directory, logger *zap.Logger) *AssignmentResolver {
	return &AssignmentResolver{dir: dir, logger: logger}
}

// Resolve 解析范围内的唯一责任人
// 先在项目有效成员中找，找不到再查全量目录；只返回负责人或经理/主管，找不到返回 ok=false
func (r *AssignmentResolver) Resolve(ctx context.Context, scope Scope, projectID string) (string, bool, error) {
	if scope.Name == "" {
		return "", false, nil
	}

	if projectID != "" {
		members, err := r.dir.ListCandidates(ctx, scope.Kind, scope.Name, projectID)
		if err != nil {
			return "", false, fmt.Errorf("list project candidates: %w", err)
		}
		if id, ok := pickResponsible(members); ok {
			return id, true, nil
		}
	}

	users, err := r.dir.ListCandidates(ctx, scope.Kind, scope.Name, "")
	if err != nil {
		return "", false, fmt.Errorf("list candidates: %w", err)
	}
	if id, ok := pickResponsible(users); ok {
		return id, true, nil
	}

	r.logger.Info("no responsible user resolved",
		zap.String("scope", scope.String()),
		zap.String("project_id", projectID),
		zap.Int("candidates", len(users)),
	)
	return "", false, nil
}

// pickResponsible 负责人优先，其次经理/主管；不回退到普通员工
func pickResponsible(users []entity.User) (string, bool) {
	for _, u := range users {
		if strings.Contains(u.Position, titleLead) {
			return u.ID, true
		}
	}
	for _, u := range users {
		if strings.Contains(u.Position, titleManager) || strings.Contains(u.Position, titleSupervisor) {
			return u.ID, true
		}
	}
	return "", false
}
