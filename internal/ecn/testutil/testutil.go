package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/middleware"
)

const (
	JWTSecret = "nimo-ecn-test-secret"
)

var seq int64

// SetupTestDB 创建内存 sqlite 数据库并迁移全部实体
// 单连接，事务内的所有操作必须通过事务 context 访问
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(entity.AllModels()...); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRedis 启动 miniredis 并返回客户端
func SetupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
	})
	return mr, rdb
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"roles": roles,
		"perms": permissions,
		"iss":   "nimo-ecn",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// nextCreatedAt 递增的创建时间，保证目录查询顺序稳定
func nextCreatedAt() time.Time {
	n := atomic.AddInt64(&seq, 1)
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Second)
}

// SeedDepartment 创建部门
func SeedDepartment(t *testing.T, db *gorm.DB, name string) *entity.Department {
	t.Helper()
	dept := &entity.Department{ID: entity.NewID(), Name: name, Status: "active"}
	if err := db.Create(dept).Error; err != nil {
		t.Fatalf("Failed to seed department: %v", err)
	}
	return dept
}

// SeedUser 创建用户
func SeedUser(t *testing.T, db *gorm.DB, name, departmentID, position string) *entity.User {
	t.Helper()
	id := entity.NewID()
	user := &entity.User{
		ID:           id,
		FeishuOpenID: "ou_" + id[:8],
		Username:     fmt.Sprintf("user_%s", id[:12]),
		Name:         name,
		DepartmentID: departmentID,
		Position:     position,
		Status:       entity.UserStatusActive,
		CreatedAt:    nextCreatedAt(),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return user
}

// SeedRole 创建角色
func SeedRole(t *testing.T, db *gorm.DB, code, name string) *entity.Role {
	t.Helper()
	role := &entity.Role{ID: entity.NewID(), Code: code, Name: name, Status: "active"}
	if err := db.Create(role).Error; err != nil {
		t.Fatalf("Failed to seed role: %v", err)
	}
	return role
}

// GrantRole 授予角色
func GrantRole(t *testing.T, db *gorm.DB, userID, roleID string) {
	t.Helper()
	if err := db.Create(&entity.UserRole{UserID: userID, RoleID: roleID}).Error; err != nil {
		t.Fatalf("Failed to grant role: %v", err)
	}
}

// SeedProjectMember 添加项目成员
func SeedProjectMember(t *testing.T, db *gorm.DB, projectID, userID string, active bool) {
	t.Helper()
	m := &entity.ProjectMember{ID: entity.NewID(), ProjectID: projectID, UserID: userID, IsActive: active}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("Failed to seed project member: %v", err)
	}
}

// SeedChangeType 创建变更类型
func SeedChangeType(t *testing.T, db *gorm.DB, code string, requiredDepts ...string) *entity.ChangeType {
	t.Helper()
	ct := &entity.ChangeType{Code: code, Name: code, RequiredDepts: requiredDepts, IsActive: true}
	if err := db.Create(ct).Error; err != nil {
		t.Fatalf("Failed to seed change type: %v", err)
	}
	return ct
}

// SeedRule 创建审批矩阵规则，min/max 为空表示缺失边界
func SeedRule(t *testing.T, db *gorm.DB, changeType, condition string, min, max *float64, level int, role string) *entity.ApprovalMatrixRule {
	t.Helper()
	rule := &entity.ApprovalMatrixRule{
		ID:            entity.NewID(),
		ChangeType:    changeType,
		ConditionType: condition,
		ApprovalLevel: level,
		ApprovalRole:  role,
		IsActive:      true,
		CreatedAt:     nextCreatedAt(),
	}
	if min != nil {
		d := decimal.NewFromFloat(*min)
		rule.ConditionMin = &d
	}
	if max != nil {
		d := decimal.NewFromFloat(*max)
		rule.ConditionMax = &d
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("Failed to seed approval rule: %v", err)
	}
	return rule
}

// F float64 指针
func F(v float64) *float64 {
	return &v
}
