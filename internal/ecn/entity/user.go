package entity

import (
	"time"
)

// User 用户实体
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;size:32"`
	FeishuOpenID string    `json:"feishu_open_id" gorm:"size:64"`
	EmployeeNo   string    `json:"employee_no" gorm:"size:32;index"`
	Username     string    `json:"username" gorm:"size:64;not null;uniqueIndex"`
	Name         string    `json:"name" gorm:"size:64;not null"`
	Email        string    `json:"email" gorm:"size:128"`
	DepartmentID string    `json:"department_id" gorm:"size:32;index"`
	Position     string    `json:"position" gorm:"size:64"`
	Status       string    `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// 关联
	Department *Department `json:"department,omitempty" gorm:"foreignKey:DepartmentID"`
}

func (User) TableName() string {
	return "users"
}

// Department 部门实体
type Department struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Name      string    `json:"name" gorm:"size:128;not null;index"`
	ParentID  string    `json:"parent_id" gorm:"size:32"`
	LeaderID  string    `json:"leader_id" gorm:"size:32"`
	Status    string    `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Department) TableName() string {
	return "departments"
}

// Role 角色实体
type Role struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Code      string    `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:64;not null"`
	Status    string    `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Role) TableName() string {
	return "roles"
}

// UserRole 用户角色关联
type UserRole struct {
	UserID    string    `json:"user_id" gorm:"primaryKey;size:32"`
	RoleID    string    `json:"role_id" gorm:"primaryKey;size:32"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserRole) TableName() string {
	return "user_roles"
}

// ProjectMember 项目成员
type ProjectMember struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	ProjectID string    `json:"project_id" gorm:"size:32;not null;uniqueIndex:uk_project_member"`
	UserID    string    `json:"user_id" gorm:"size:32;not null;uniqueIndex:uk_project_member"`
	RoleCode  string    `json:"role_code" gorm:"size:64"`
	IsActive  bool      `json:"is_active" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (ProjectMember) TableName() string {
	return "project_members"
}

// 用户状态
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)
