package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Machine 整机/设备
type Machine struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Code      string    `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	ProjectID string    `json:"project_id" gorm:"size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Machine) TableName() string {
	return "machines"
}

// BomHeader BOM表头
type BomHeader struct {
	ID         string     `json:"id" gorm:"primaryKey;size:32"`
	MachineID  string     `json:"machine_id" gorm:"size:32;not null;index"`
	Name       string     `json:"name" gorm:"size:128"`
	Version    string     `json:"version" gorm:"size:16;not null"`
	IsLatest   bool       `json:"is_latest" gorm:"not null"`
	Status     string     `json:"status" gorm:"size:16;not null"`
	ReleasedAt *time.Time `json:"released_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (BomHeader) TableName() string {
	return "bom_headers"
}

// BomItem BOM行项
type BomItem struct {
	ID           string          `json:"id" gorm:"primaryKey;size:32"`
	BomID        string          `json:"bom_id" gorm:"size:32;not null;index"`
	ParentItemID *string         `json:"parent_item_id" gorm:"size:32;index"`
	ItemNumber   int             `json:"item_number" gorm:"not null;default:0"`
	Level        int             `json:"level" gorm:"not null;default:0"`
	MaterialID   *string         `json:"material_id" gorm:"size:32"`
	MaterialCode string          `json:"material_code" gorm:"size:64"`
	MaterialName string          `json:"material_name" gorm:"size:256"`
	Quantity     decimal.Decimal `json:"quantity" gorm:"type:numeric(15,4);not null;default:0"`
	Unit         string          `json:"unit" gorm:"size:16"`
	UnitPrice    decimal.Decimal `json:"unit_price" gorm:"type:numeric(15,4);not null;default:0"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:numeric(15,4);not null;default:0"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (BomItem) TableName() string {
	return "bom_items"
}

// Material 物料
type Material struct {
	ID            string          `json:"id" gorm:"primaryKey;size:32"`
	Code          string          `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name          string          `json:"name" gorm:"size:256;not null"`
	Specification string          `json:"specification" gorm:"type:text"`
	LeadTimeDays  *int            `json:"lead_time_days"`
	StandardCost  decimal.Decimal `json:"standard_cost" gorm:"type:numeric(15,4);not null;default:0"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Material) TableName() string {
	return "materials"
}

// BOM状态
const (
	BOMStatusDraft    = "DRAFT"
	BOMStatusReleased = "RELEASED"
	BOMStatusObsolete = "OBSOLETE"
)

// CodeSequence 编码流水号，按(前缀, 日期)每日重置
type CodeSequence struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Prefix    string    `json:"prefix" gorm:"size:32;not null;uniqueIndex:uk_code_seq"`
	DateKey   string    `json:"date_key" gorm:"size:16;not null;uniqueIndex:uk_code_seq"`
	Value     int64     `json:"value" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CodeSequence) TableName() string {
	return "code_sequences"
}

// AllModels 所有需要迁移的实体
func AllModels() []interface{} {
	return []interface{}{
		&User{}, &Department{}, &Role{}, &UserRole{}, &ProjectMember{},
		&Machine{}, &BomHeader{}, &BomItem{}, &Material{},
		&ChangeType{}, &ApprovalMatrixRule{},
		&ChangeNotice{}, &Evaluation{}, &Approval{}, &ExecutionTask{},
		&AffectedMaterial{}, &BomImpactResult{}, &ChangeLog{},
		&CodeSequence{},
	}
}
