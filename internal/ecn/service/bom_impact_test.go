package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/event"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/testutil"
	"github.com/bitfantasy/nimo-ecn/internal/shared/apperr"
)

type bomLine struct {
	id     string
	parent string
	code   string
	amount int64
}

// seedMachineBOM 创建整机和一份已发布的最新BOM
func (f *fixture) seedMachineBOM(lines ...bomLine) (*entity.Machine, *entity.BomHeader) {
	f.t.Helper()
	m := &entity.Machine{ID: entity.NewID(), Code: "M-" + entity.NewID()[:6], Name: "扫地机 X1"}
	require.NoError(f.t, f.db.Create(m).Error)

	now := time.Now()
	h := &entity.BomHeader{
		ID:         entity.NewID(),
		MachineID:  m.ID,
		Name:       "X1 整机BOM",
		Version:    "V1.0",
		IsLatest:   true,
		Status:     entity.BOMStatusReleased,
		ReleasedAt: &now,
	}
	require.NoError(f.t, f.db.Create(h).Error)

	for i, l := range lines {
		item := &entity.BomItem{
			ID:           l.id,
			BomID:        h.ID,
			ItemNumber:   i + 1,
			MaterialCode: l.code,
			MaterialName: l.code,
			Quantity:     decimal.NewFromInt(1),
			Amount:       decimal.NewFromInt(l.amount),
		}
		if l.parent != "" {
			parent := l.parent
			item.ParentItemID = &parent
			item.Level = 1
		}
		require.NoError(f.t, f.db.Create(item).Error)
	}
	return m, h
}

func (f *fixture) draftWithMaterials(inputs ...AffectedMaterialInput) *entity.ChangeNotice {
	f.t.Helper()
	testutil.SeedChangeType(f.t, f.db, "DESIGN")
	n := f.createNotice("applicant", "DESIGN", 0)
	for i := range inputs {
		_, err := f.svc.AddAffectedMaterial(f.ctx, n.ID, &inputs[i])
		require.NoError(f.t, err)
	}
	return n
}

func TestAnalyzeChildChangeCascadesToParentOnly(t *testing.T) {
	f := newFixture(t)
	m, h := f.seedMachineBOM(
		bomLine{id: "item-p", code: "ASM-001", amount: 500},
		bomLine{id: "item-c", parent: "item-p", code: "MTR-001", amount: 120},
	)
	n := f.draftWithMaterials(AffectedMaterialInput{
		MaterialCode: "MTR-001",
		ChangeType:   entity.MaterialChangeUpdate,
		OldQuantity:  decimal.NewFromInt(1),
		NewQuantity:  decimal.NewFromInt(2),
		CostImpact:   decimal.NewFromInt(50),
	})

	res, err := f.analyzer.Analyze(f.ctx, n.ID, m.ID, true, "applicant")
	require.NoError(t, err)
	assert.True(t, res.HasImpact)
	require.Len(t, res.Results, 1)

	impact := res.Results[0]
	assert.Equal(t, h.ID, impact.BomID)
	require.Len(t, impact.Direct, 1)
	assert.Equal(t, "item-c", impact.Direct[0].ItemID)
	assert.Contains(t, impact.Direct[0].Description, "数量 1 → 2")

	require.Len(t, impact.Cascade, 1)
	assert.Equal(t, "item-p", impact.Cascade[0].ItemID)
	assert.Equal(t, DirectionUpward, impact.Cascade[0].Direction)
	assert.Equal(t, 1, impact.Cascade[0].Depth)
	assert.True(t, decimal.NewFromInt(50).Equal(impact.CostImpact))

	analyzed := f.sink.ofType(event.BOMImpactAnalyzed)
	require.Len(t, analyzed, 1)
	assert.Equal(t, []string{"applicant"}, analyzed[0].Recipients)
}

func TestAnalyzeCascadeBothDirections(t *testing.T) {
	f := newFixture(t)
	m, _ := f.seedMachineBOM(
		bomLine{id: "p", code: "ASM-001", amount: 500},
		bomLine{id: "c1", parent: "p", code: "MTR-001", amount: 120},
		bomLine{id: "c2", parent: "p", code: "SCR-001", amount: 3},
		bomLine{id: "g", parent: "c1", code: "BRG-001", amount: 8},
		bomLine{id: "orphan", code: "LBL-001", amount: 1},
	)
	n := f.draftWithMaterials(AffectedMaterialInput{MaterialCode: "MTR-001", ChangeType: entity.MaterialChangeUpdate})

	res, err := f.analyzer.Analyze(f.ctx, n.ID, m.ID, true, "applicant")
	require.NoError(t, err)
	impact := res.Results[0]

	type hop struct {
		id        string
		direction string
		depth     int
	}
	var hops []hop
	for _, e := range impact.Cascade {
		hops = append(hops, hop{e.ItemID, e.Direction, e.Depth})
	}
	assert.Equal(t, []hop{
		{"p", DirectionUpward, 1},
		{"g", DirectionDownward, 1},
		{"c2", DirectionDownward, 2},
	}, hops)

	without, err := f.analyzer.Analyze(f.ctx, n.ID, m.ID, false, "applicant")
	require.NoError(t, err)
	assert.Len(t, without.Results[0].Direct, 1)
	assert.Empty(t, without.Results[0].Cascade)
}

func TestAnalyzeIsIdempotentUpsert(t *testing.T) {
	f := newFixture(t)
	m, h := f.seedMachineBOM(
		bomLine{id: "p", code: "ASM-001", amount: 500},
		bomLine{id: "c", parent: "p", code: "MTR-001", amount: 120},
	)
	n := f.draftWithMaterials(AffectedMaterialInput{MaterialCode: "MTR-001", ChangeType: entity.MaterialChangeUpdate})

	first, err := f.analyzer.Analyze(f.ctx, n.ID, m.ID, true, "applicant")
	require.NoError(t, err)
	second, err := f.analyzer.Analyze(f.ctx, n.ID, m.ID, true, "applicant")
	require.NoError(t, err)
	assert.Equal(t, first.Results[0].ResultID, second.Results[0].ResultID)

	results, err := f.analyzer.ListResults(f.ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, h.ID, results[0].BomID)
	assert.Equal(t, 1, results[0].DirectCount)
	assert.Equal(t, 1, results[0].CascadeCount)
	assert.Equal(t, 2, results[0].AffectedItemCount)
	assert.Equal(t, entity.ImpactStatusCompleted, results[0].Status)

	// 关闭级联后覆盖同一行
	_, err = f.analyzer.Analyze(f.ctx, n.ID, m.ID, false, "applicant")
	require.NoError(t, err)
	results, err = f.analyzer.ListResults(f.ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].CascadeCount)
}

func TestAnalyzeCostAndSchedule(t *testing.T) {
	f := newFixture(t)
	lead := 14
	short := 5
	require.NoError(t, f.db.Create(&entity.Material{ID: entity.NewID(), Code: "MTR-002", Name: "新电机", LeadTimeDays: &lead}).Error)
	require.NoError(t, f.db.Create(&entity.Material{ID: entity.NewID(), Code: "SCR-001", Name: "螺钉", LeadTimeDays: &short}).Error)
	old := 60
	require.NoError(t, f.db.Create(&entity.Material{ID: entity.NewID(), Code: "MTR-001", Name: "旧电机", LeadTimeDays: &old}).Error)

	m, _ := f.seedMachineBOM(
		bomLine{id: "p", code: "ASM-001", amount: 500},
		bomLine{id: "c1", parent: "p", code: "MTR-001", amount: 120},
		bomLine{id: "c2", parent: "p", code: "SCR-001", amount: 3},
	)
	n := f.draftWithMaterials(
		AffectedMaterialInput{MaterialCode: "MTR-001", ChangeType: entity.MaterialChangeReplace, NewMaterialCode: "MTR-002", CostImpact: decimal.NewFromInt(30)},
		AffectedMaterialInput{MaterialCode: "SCR-001", ChangeType: entity.MaterialChangeDelete, OldQuantity: decimal.NewFromInt(4)},
		AffectedMaterialInput{MaterialCode: "CLP-001", ChangeType: entity.MaterialChangeAdd, CostImpact: decimal.NewFromInt(10)},
	)

	res, err := f.analyzer.Analyze(f.ctx, n.ID, m.ID, false, "applicant")
	require.NoError(t, err)

	// 30 + (0 - 3) + (10 + 10)
	assert.True(t, decimal.NewFromInt(47).Equal(res.CostImpact), res.CostImpact.String())
	assert.Equal(t, 14, res.ScheduleDays)

	// 新增物料不在BOM中，不计入该BOM
	impact := res.Results[0]
	assert.True(t, decimal.NewFromInt(27).Equal(impact.CostImpact), impact.CostImpact.String())
	// 替换取新物料周期，删除不计
	assert.Equal(t, 14, impact.ScheduleDays)
	assert.Len(t, impact.Direct, 2)
}

func TestAnalyzeCostAndSchedulePerBOM(t *testing.T) {
	f := newFixture(t)
	lead := 21
	require.NoError(t, f.db.Create(&entity.Material{ID: entity.NewID(), Code: "MTR-001", Name: "电机", LeadTimeDays: &lead}).Error)

	m, motorBOM := f.seedMachineBOM(bomLine{id: "c1", code: "MTR-001", amount: 120})
	now := time.Now()
	packBOM := &entity.BomHeader{
		ID:         entity.NewID(),
		MachineID:  m.ID,
		Name:       "X1 包材BOM",
		Version:    "V1.0",
		IsLatest:   true,
		Status:     entity.BOMStatusReleased,
		ReleasedAt: &now,
		CreatedAt:  now.Add(time.Second),
	}
	require.NoError(t, f.db.Create(packBOM).Error)
	require.NoError(t, f.db.Create(&entity.BomItem{
		ID:           "k1",
		BomID:        packBOM.ID,
		ItemNumber:   1,
		MaterialCode: "BOX-001",
		MaterialName: "彩盒",
		Quantity:     decimal.NewFromInt(1),
		Amount:       decimal.NewFromInt(6),
	}).Error)

	n := f.draftWithMaterials(AffectedMaterialInput{
		MaterialCode: "MTR-001",
		ChangeType:   entity.MaterialChangeUpdate,
		CostImpact:   decimal.NewFromInt(80),
	})

	res, err := f.analyzer.Analyze(f.ctx, n.ID, m.ID, true, "applicant")
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "1 个BOM受到影响", res.Message)

	byBOM := map[string]BOMImpact{}
	for _, r := range res.Results {
		byBOM[r.BomID] = r
	}
	hit := byBOM[motorBOM.ID]
	assert.Len(t, hit.Direct, 1)
	assert.True(t, decimal.NewFromInt(80).Equal(hit.CostImpact), hit.CostImpact.String())
	assert.Equal(t, 21, hit.ScheduleDays)

	untouched := byBOM[packBOM.ID]
	assert.Empty(t, untouched.Direct)
	assert.True(t, untouched.CostImpact.IsZero(), untouched.CostImpact.String())
	assert.Equal(t, 0, untouched.ScheduleDays)

	results, err := f.analyzer.ListResults(f.ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		if r.BomID == packBOM.ID {
			assert.True(t, r.TotalCostImpact.IsZero())
			assert.Equal(t, 0, r.MaxScheduleDays)
		}
	}
}

func TestAnalyzeNoImpactCases(t *testing.T) {
	f := newFixture(t)
	m, _ := f.seedMachineBOM(bomLine{id: "p", code: "ASM-001", amount: 500})

	empty := f.draftWithMaterials()
	res, err := f.analyzer.Analyze(f.ctx, empty.ID, m.ID, true, "applicant")
	require.NoError(t, err)
	assert.False(t, res.HasImpact)
	assert.Equal(t, "ECN没有登记受影响物料", res.Message)

	n := f.createNotice("applicant", "DESIGN", 0)
	_, err = f.svc.AddAffectedMaterial(f.ctx, n.ID, &AffectedMaterialInput{MaterialCode: "NOT-IN-BOM", ChangeType: entity.MaterialChangeUpdate})
	require.NoError(t, err)
	res, err = f.analyzer.Analyze(f.ctx, n.ID, m.ID, true, "applicant")
	require.NoError(t, err)
	assert.False(t, res.HasImpact)
	assert.Len(t, res.Results, 1)

	bare := &entity.Machine{ID: entity.NewID(), Code: "M-BARE", Name: "样机"}
	require.NoError(t, f.db.Create(bare).Error)
	res, err = f.analyzer.Analyze(f.ctx, n.ID, bare.ID, true, "applicant")
	require.NoError(t, err)
	assert.False(t, res.HasImpact)
	assert.Equal(t, "整机没有已发布的最新版本BOM", res.Message)

	_, err = f.analyzer.Analyze(f.ctx, n.ID, "", true, "applicant")
	assertCode(t, err, apperr.CodeInvalidArgument)

	_, err = f.analyzer.Analyze(f.ctx, n.ID, "missing", true, "applicant")
	assertCode(t, err, apperr.CodeNotFound)

	_, err = f.analyzer.Analyze(f.ctx, "missing", m.ID, true, "applicant")
	assertCode(t, err, apperr.CodeNotFound)
}

func TestAnalyzeUsesNoticeMachine(t *testing.T) {
	f := newFixture(t)
	m, _ := f.seedMachineBOM(bomLine{id: "c", code: "MTR-001", amount: 120})
	testutil.SeedChangeType(t, f.db, "DESIGN")

	n, err := f.svc.Create(f.ctx, "applicant", &CreateNoticeRequest{
		Title:             "电机替换",
		ChangeType:        "DESIGN",
		MachineID:         m.ID,
		AffectedMaterials: []AffectedMaterialInput{{MaterialCode: "MTR-001", ChangeType: entity.MaterialChangeUpdate}},
	})
	require.NoError(t, err)

	res, err := f.analyzer.Analyze(f.ctx, n.ID, "", true, "applicant")
	require.NoError(t, err)
	assert.Equal(t, m.ID, res.MachineID)
	assert.True(t, res.HasImpact)
	assert.Empty(t, res.Results[0].Cascade)
}

func TestExportXLSX(t *testing.T) {
	f := newFixture(t)
	m, _ := f.seedMachineBOM(
		bomLine{id: "p", code: "ASM-001", amount: 500},
		bomLine{id: "c", parent: "p", code: "MTR-001", amount: 120},
	)
	n := f.draftWithMaterials(AffectedMaterialInput{MaterialCode: "MTR-001", ChangeType: entity.MaterialChangeUpdate})

	_, _, err := f.analyzer.ExportXLSX(f.ctx, n.ID)
	assertCode(t, err, apperr.CodePreconditionViolation)

	_, err = f.analyzer.Analyze(f.ctx, n.ID, m.ID, true, "applicant")
	require.NoError(t, err)

	file, name, err := f.analyzer.ExportXLSX(f.ctx, n.ID)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "BOM_Impact_"+n.Code+".xlsx", name)

	sheets := file.GetSheetList()
	require.Len(t, sheets, 1)
	header, err := file.GetCellValue(sheets[0], "A1")
	require.NoError(t, err)
	assert.Equal(t, "类型", header)

	rows, err := file.GetRows(sheets[0])
	require.NoError(t, err)
	var codes []string
	for _, row := range rows[1:] {
		if len(row) > 3 {
			codes = append(codes, row[3])
		}
	}
	assert.Contains(t, codes, "MTR-001")
	assert.Contains(t, codes, "ASM-001")
}
