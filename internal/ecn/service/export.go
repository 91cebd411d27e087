package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/bitfantasy/nimo-ecn/internal/shared/apperr"
)

var impactExportHeaders = []string{
	"类型", "方向", "层级", "物料编码", "物料名称", "数量", "金额", "变更类型", "影响说明",
}

// ExportXLSX 导出ECN的BOM影响分析结果，每个BOM一个工作表
func (a *BOMImpactAnalyzer) ExportXLSX(ctx context.Context, noticeID string) (*excelize.File, string, error) {
	notice, err := a.repos.Notice.FindByID(ctx, noticeID)
	if err != nil {
		return nil, "", notFoundAs(err, "ECN", noticeID)
	}
	results, err := a.repos.BOM.ListImpacts(ctx, noticeID)
	if err != nil {
		return nil, "", fmt.Errorf("list impact results: %w", err)
	}
	if len(results) == 0 {
		return nil, "", apperr.Precondition("ECN %s 尚未进行BOM影响分析", notice.Code)
	}

	f := excelize.NewFile()

	// 表头样式: 加粗
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})

	for i, res := range results {
		sheet := fmt.Sprintf("BOM%d_%s", i+1, res.BomVersion)
		if i == 0 {
			f.SetSheetName("Sheet1", sheet)
		} else if _, err := f.NewSheet(sheet); err != nil {
			f.Close()
			return nil, "", fmt.Errorf("new sheet: %w", err)
		}

		for j, h := range impactExportHeaders {
			col, _ := excelize.ColumnNumberToName(j + 1)
			cell := col + "1"
			f.SetCellValue(sheet, cell, h)
			f.SetCellStyle(sheet, cell, cell, boldStyle)
		}

		row := 2
		write := func(kind string, e ImpactEntry) {
			f.SetCellValue(sheet, fmt.Sprintf("A%d", row), kind)
			f.SetCellValue(sheet, fmt.Sprintf("B%d", row), e.Direction)
			f.SetCellValue(sheet, fmt.Sprintf("C%d", row), e.Depth)
			f.SetCellValue(sheet, fmt.Sprintf("D%d", row), e.MaterialCode)
			f.SetCellValue(sheet, fmt.Sprintf("E%d", row), e.MaterialName)
			f.SetCellValue(sheet, fmt.Sprintf("F%d", row), e.Quantity.InexactFloat64())
			f.SetCellValue(sheet, fmt.Sprintf("G%d", row), e.Amount.InexactFloat64())
			f.SetCellValue(sheet, fmt.Sprintf("H%d", row), e.ChangeType)
			f.SetCellValue(sheet, fmt.Sprintf("I%d", row), e.Description)
			row++
		}
		for _, e := range decodeEntries(res.Analysis["direct"]) {
			write("直接影响", e)
		}
		for _, e := range decodeEntries(res.Analysis["cascade"]) {
			write("级联影响", e)
		}

		// 底部汇总行
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), "汇总")
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), fmt.Sprintf("受影响行项: %d", res.AffectedItemCount))
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), res.TotalCostImpact.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), fmt.Sprintf("最大采购周期 %d 天", res.MaxScheduleDays))
		f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("I%d", row), summaryStyle)

		colWidths := []float64{10, 10, 6, 16, 24, 10, 12, 10, 40}
		for j, w := range colWidths {
			col, _ := excelize.ColumnNumberToName(j + 1)
			f.SetColWidth(sheet, col, col, w)
		}
	}

	filename := fmt.Sprintf("BOM_Impact_%s.xlsx", notice.Code)
	return f, filename, nil
}

// decodeEntries 把 JSON 列中的影响列表还原为结构体
func decodeEntries(v interface{}) []ImpactEntry {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var entries []ImpactEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return entries
}
