// Package seed 从 YAML 导入变更类型和审批矩阵
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
)

// File 配置文件结构
type File struct {
	ChangeTypes []ChangeType `yaml:"change_types"`
}

// ChangeType 变更类型定义
type ChangeType struct {
	Code          string   `yaml:"code"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	RequiredDepts []string `yaml:"required_depts"`
	Active        *bool    `yaml:"active"`
	Rules         []Rule   `yaml:"rules"`
}

// Rule 审批矩阵规则，Min/Max 缺省时规则不会命中
type Rule struct {
	Condition string   `yaml:"condition"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	Level     int      `yaml:"level"`
	Role      string   `yaml:"role"`
}

// Result 导入统计
type Result struct {
	ChangeTypes int `json:"change_types"`
	Rules       int `json:"rules"`
}

// LoadFile 读取并校验配置文件
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析并校验
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse change types: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	seen := make(map[string]bool, len(f.ChangeTypes))
	for _, ct := range f.ChangeTypes {
		if ct.Code == "" {
			return fmt.Errorf("change type without code")
		}
		if seen[ct.Code] {
			return fmt.Errorf("duplicate change type %s", ct.Code)
		}
		seen[ct.Code] = true

		for i, r := range ct.Rules {
			switch strings.ToUpper(r.Condition) {
			case entity.ConditionCost, entity.ConditionSchedule:
			default:
				return fmt.Errorf("%s rule #%d: unknown condition %q", ct.Code, i+1, r.Condition)
			}
			if r.Level < 1 {
				return fmt.Errorf("%s rule #%d: level must be >= 1", ct.Code, i+1)
			}
			if r.Role == "" {
				return fmt.Errorf("%s rule #%d: role is required", ct.Code, i+1)
			}
			if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
				return fmt.Errorf("%s rule #%d: min %v > max %v", ct.Code, i+1, *r.Min, *r.Max)
			}
		}
	}
	return nil
}

// Loader 将配置写入数据库
type Loader struct {
	repos  *repository.Repositories
	logger *zap.Logger
}

// NewLoader 创建导入器
func NewLoader(repos *repository.Repositories, logger *zap.Logger) *Loader {
	return &Loader{repos: repos, logger: logger}
}

// Apply 在一个事务中覆盖写入全部变更类型；文件中没有的类型保持不变
func (l *Loader) Apply(ctx context.Context, f *File) (*Result, error) {
	result := &Result{}
	err := l.repos.Transaction(ctx, func(ctx context.Context) error {
		for _, def := range f.ChangeTypes {
			rules := def.matrixRules()
			ct := &entity.ChangeType{
				Code:           def.Code,
				Name:           def.displayName(),
				Description:    def.Description,
				RequiredDepts:  entity.StringList(def.RequiredDepts),
				ApprovalMatrix: matrixSnapshot(rules),
				IsActive:       def.Active == nil || *def.Active,
			}
			if err := l.repos.ChangeType.Upsert(ctx, ct); err != nil {
				return fmt.Errorf("upsert change type %s: %w", def.Code, err)
			}
			if err := l.repos.ChangeType.ReplaceRules(ctx, def.Code, rules); err != nil {
				return fmt.Errorf("replace rules of %s: %w", def.Code, err)
			}
			result.ChangeTypes++
			result.Rules += len(rules)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("change types seeded",
		zap.Int("change_types", result.ChangeTypes),
		zap.Int("rules", result.Rules))
	return result, nil
}

func (ct ChangeType) displayName() string {
	if ct.Name != "" {
		return ct.Name
	}
	return ct.Code
}

func (ct ChangeType) matrixRules() []entity.ApprovalMatrixRule {
	rules := make([]entity.ApprovalMatrixRule, 0, len(ct.Rules))
	for _, r := range ct.Rules {
		rules = append(rules, entity.ApprovalMatrixRule{
			ConditionType: strings.ToUpper(r.Condition),
			ConditionMin:  toDecimal(r.Min),
			ConditionMax:  toDecimal(r.Max),
			ApprovalLevel: r.Level,
			ApprovalRole:  r.Role,
			IsActive:      true,
		})
	}
	return rules
}

// matrixSnapshot 规则的只读快照，供前端展示
func matrixSnapshot(rules []entity.ApprovalMatrixRule) entity.JSONB {
	items := make([]interface{}, 0, len(rules))
	for _, r := range rules {
		item := map[string]interface{}{
			"condition": r.ConditionType,
			"level":     r.ApprovalLevel,
			"role":      r.ApprovalRole,
		}
		if r.ConditionMin != nil {
			item["min"] = r.ConditionMin.String()
		}
		if r.ConditionMax != nil {
			item["max"] = r.ConditionMax.String()
		}
		items = append(items, item)
	}
	return entity.JSONB{"rules": items}
}

func toDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
