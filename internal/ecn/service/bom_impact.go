package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/event"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/metrics"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
	"github.com/bitfantasy/nimo-ecn/internal/shared/apperr"
)

// 级联影响方向
const (
	DirectionUpward   = "UPWARD"
	DirectionDownward = "DOWNWARD"
)

// ImpactEntry 受影响的BOM行项
type ImpactEntry struct {
	ItemID       string          `json:"item_id"`
	ParentItemID string          `json:"parent_item_id,omitempty"`
	MaterialID   string          `json:"material_id,omitempty"`
	MaterialCode string          `json:"material_code"`
	MaterialName string          `json:"material_name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Amount       decimal.Decimal `json:"amount"`
	ChangeType   string          `json:"change_type,omitempty"`
	Direction    string          `json:"direction,omitempty"`
	Depth        int             `json:"depth,omitempty"`
	Description  string          `json:"description"`
}

// BOMImpact 单个BOM的影响分析
type BOMImpact struct {
	ResultID     string          `json:"result_id"`
	BomID        string          `json:"bom_id"`
	BomName      string          `json:"bom_name"`
	BomVersion   string          `json:"bom_version"`
	Direct       []ImpactEntry   `json:"direct"`
	Cascade      []ImpactEntry   `json:"cascade"`
	CostImpact   decimal.Decimal `json:"cost_impact"`
	ScheduleDays int             `json:"schedule_days"`

	deleted decimal.Decimal
}

// ImpactAnalysis BOM影响分析结果
// CostImpact/ScheduleDays 按全部受影响物料汇总，Results 中各BOM只计本BOM命中的物料
type ImpactAnalysis struct {
	NoticeID     string          `json:"notice_id"`
	MachineID    string          `json:"machine_id"`
	HasImpact    bool            `json:"has_impact"`
	Message      string          `json:"message"`
	CostImpact   decimal.Decimal `json:"cost_impact"`
	ScheduleDays int             `json:"schedule_days"`
	Results      []BOMImpact     `json:"results"`
}

// BOMImpactAnalyzer BOM级联影响分析
type BOMImpactAnalyzer struct {
	repos  *repository.Repositories
	sink   EventSink
	logger *zap.Logger
	now    func() time.Time
}

// NewBOMImpactAnalyzer 创建BOM影响分析器
func NewBOMImpactAnalyzer(repos *repository.Repositories, sink EventSink, logger *zap.Logger) *BOMImpactAnalyzer {
	return &BOMImpactAnalyzer{
		repos:  repos,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// bomIndex 单次分析内的只读邻接索引
type bomIndex struct {
	items        []entity.BomItem
	byID         map[string]*entity.BomItem
	byCode       map[string][]*entity.BomItem
	byMaterialID map[string][]*entity.BomItem
	children     map[string][]string
}

func buildIndex(items []entity.BomItem) *bomIndex {
	idx := &bomIndex{
		items:        items,
		byID:         make(map[string]*entity.BomItem, len(items)),
		byCode:       make(map[string][]*entity.BomItem),
		byMaterialID: make(map[string][]*entity.BomItem),
		children:     make(map[string][]string),
	}
	for i := range items {
		item := &items[i]
		idx.byID[item.ID] = item
		if item.MaterialCode != "" {
			idx.byCode[item.MaterialCode] = append(idx.byCode[item.MaterialCode], item)
		}
		if item.MaterialID != nil && *item.MaterialID != "" {
			idx.byMaterialID[*item.MaterialID] = append(idx.byMaterialID[*item.MaterialID], item)
		}
		if item.ParentItemID != nil && *item.ParentItemID != "" {
			idx.children[*item.ParentItemID] = append(idx.children[*item.ParentItemID], item.ID)
		}
	}
	return idx
}

// match 先按物料编码匹配，再按物料ID匹配，去重
func (idx *bomIndex) match(am *entity.AffectedMaterial) []*entity.BomItem {
	var matched []*entity.BomItem
	seen := make(map[string]bool)
	add := func(items []*entity.BomItem) {
		for _, item := range items {
			if !seen[item.ID] {
				seen[item.ID] = true
				matched = append(matched, item)
			}
		}
	}
	if am.MaterialCode != "" {
		add(idx.byCode[am.MaterialCode])
	}
	if am.MaterialID != nil && *am.MaterialID != "" {
		add(idx.byMaterialID[*am.MaterialID])
	}
	return matched
}

// cascade 从直接影响集合出发双向广度优先传播，每个行项最多访问一次
func (idx *bomIndex) cascade(direct []string) []ImpactEntry {
	type node struct {
		id    string
		depth int
	}

	visited := make(map[string]bool, len(direct))
	queue := make([]node, 0, len(direct))
	for _, id := range direct {
		if !visited[id] {
			visited[id] = true
			queue = append(queue, node{id: id})
		}
	}

	var entries []ImpactEntry
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		item := idx.byID[cur.id]
		if item == nil {
			continue
		}

		if item.ParentItemID != nil {
			pid := *item.ParentItemID
			if parent, ok := idx.byID[pid]; ok && !visited[pid] {
				visited[pid] = true
				e := entryOf(parent)
				e.Direction = DirectionUpward
				e.Depth = cur.depth + 1
				e.Description = fmt.Sprintf("子件 %s 变更可能影响上级组件", item.MaterialCode)
				entries = append(entries, e)
				queue = append(queue, node{id: pid, depth: cur.depth + 1})
			}
		}

		for _, cid := range idx.children[cur.id] {
			if visited[cid] {
				continue
			}
			visited[cid] = true
			e := entryOf(idx.byID[cid])
			e.Direction = DirectionDownward
			e.Depth = cur.depth + 1
			e.Description = fmt.Sprintf("上级组件 %s 变更可能影响下级物料", item.MaterialCode)
			entries = append(entries, e)
			queue = append(queue, node{id: cid, depth: cur.depth + 1})
		}
	}
	return entries
}

func entryOf(item *entity.BomItem) ImpactEntry {
	e := ImpactEntry{
		ItemID:       item.ID,
		MaterialCode: item.MaterialCode,
		MaterialName: item.MaterialName,
		Quantity:     item.Quantity,
		Amount:       item.Amount,
	}
	if item.ParentItemID != nil {
		e.ParentItemID = *item.ParentItemID
	}
	if item.MaterialID != nil {
		e.MaterialID = *item.MaterialID
	}
	return e
}

// describe 直接影响描述
func describe(am *entity.AffectedMaterial) string {
	code := am.MaterialCode
	if code == "" {
		code = am.MaterialName
	}
	switch am.ChangeType {
	case entity.MaterialChangeAdd:
		return fmt.Sprintf("新增物料 %s，数量 %s", code, am.NewQuantity.String())
	case entity.MaterialChangeDelete:
		return fmt.Sprintf("删除物料 %s，原数量 %s", code, am.OldQuantity.String())
	case entity.MaterialChangeReplace:
		target := am.NewMaterialCode
		if target == "" && am.NewMaterialID != nil {
			target = *am.NewMaterialID
		}
		return fmt.Sprintf("物料 %s 替换为 %s，数量 %s → %s", code, target, am.OldQuantity.String(), am.NewQuantity.String())
	}
	desc := fmt.Sprintf("物料 %s 变更", code)
	if !am.OldQuantity.Equal(am.NewQuantity) {
		desc += fmt.Sprintf("，数量 %s → %s", am.OldQuantity.String(), am.NewQuantity.String())
	}
	if am.OldSpecification != am.NewSpecification {
		desc += "，规格变更"
	}
	return desc
}

// Analyze 分析ECN受影响物料对整机BOM的直接与级联影响，并按(ECN, BOM)覆盖保存
func (a *BOMImpactAnalyzer) Analyze(ctx context.Context, noticeID, machineID string, includeCascade bool, actorID string) (*ImpactAnalysis, error) {
	start := time.Now()
	defer func() {
		metrics.BOMAnalysisDuration.Observe(time.Since(start).Seconds())
	}()

	notice, err := a.repos.Notice.FindByID(ctx, noticeID)
	if err != nil {
		return nil, notFoundAs(err, "ECN", noticeID)
	}
	if machineID == "" && notice.MachineID != nil {
		machineID = *notice.MachineID
	}
	if machineID == "" {
		return nil, apperr.InvalidArgument("ECN %s 未关联整机，且未指定分析的整机", notice.Code)
	}
	if _, err := a.repos.BOM.FindMachine(ctx, machineID); err != nil {
		return nil, notFoundAs(err, "Machine", machineID)
	}

	result := &ImpactAnalysis{NoticeID: notice.ID, MachineID: machineID}

	ams, err := a.repos.Material.ListAffected(ctx, notice.ID)
	if err != nil {
		return nil, fmt.Errorf("list affected materials: %w", err)
	}
	if len(ams) == 0 {
		result.Message = "ECN没有登记受影响物料"
		return result, nil
	}

	headers, err := a.repos.BOM.ListReleasedLatest(ctx, machineID)
	if err != nil {
		return nil, fmt.Errorf("list bom headers: %w", err)
	}
	if len(headers) == 0 {
		result.Message = "整机没有已发布的最新版本BOM"
		return result, nil
	}

	leads, err := a.leadTimes(ctx, ams)
	if err != nil {
		return nil, err
	}
	all := make([]int, len(ams))
	for i := range all {
		all[i] = i
	}
	result.CostImpact = costImpact(ams, all, nil)
	result.ScheduleDays = maxLeadTime(leads, all)

	for _, header := range headers {
		items, err := a.repos.BOM.ListItems(ctx, header.ID)
		if err != nil {
			return nil, fmt.Errorf("list bom items: %w", err)
		}
		impact := analyzeBOM(buildIndex(items), ams, leads, includeCascade)
		impact.BomID = header.ID
		impact.BomName = header.Name
		impact.BomVersion = header.Version
		result.CostImpact = result.CostImpact.Sub(impact.deleted)
		if len(impact.Direct) > 0 {
			result.HasImpact = true
		}
		result.Results = append(result.Results, impact)
	}

	err = a.repos.Transaction(ctx, func(ctx context.Context) error {
		for i := range result.Results {
			id, err := a.upsert(ctx, notice, machineID, includeCascade, &result.Results[i])
			if err != nil {
				return err
			}
			result.Results[i].ResultID = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.HasImpact {
		result.Message = fmt.Sprintf("%d 个BOM受到影响", countImpacted(result.Results))
	} else {
		result.Message = "受影响物料未出现在整机BOM中"
	}

	a.logger.Info("bom impact analyzed",
		zap.String("notice", notice.Code),
		zap.String("machine_id", machineID),
		zap.Int("boms", len(result.Results)),
		zap.Bool("has_impact", result.HasImpact),
	)
	if a.sink != nil {
		e := event.New(event.BOMImpactAnalyzed, notice.ID, notice.Code, actorID).
			To(notice.ApplicantID).
			Message("BOM影响分析完成", fmt.Sprintf("%s %s", notice.Code, result.Message)).
			With("machine_id", machineID).
			With("has_impact", result.HasImpact)
		e.Link = noticeLink(notice.ID)
		a.sink.Dispatch(ctx, []event.Event{e})
	}
	return result, nil
}

// analyzeBOM 单个BOM的直接影响、级联影响，成本和工期只计在本BOM命中的物料
func analyzeBOM(idx *bomIndex, ams []entity.AffectedMaterial, leads []int, includeCascade bool) BOMImpact {
	impact := BOMImpact{CostImpact: decimal.Zero, deleted: decimal.Zero}
	directSeen := make(map[string]bool)
	var directIDs []string
	var hit []int
	removed := make(map[int]decimal.Decimal)

	for i := range ams {
		am := &ams[i]
		matched := idx.match(am)
		if len(matched) == 0 {
			continue
		}
		hit = append(hit, i)
		if am.ChangeType == entity.MaterialChangeDelete {
			sum := decimal.Zero
			for _, item := range matched {
				sum = sum.Add(item.Amount)
			}
			removed[i] = sum
			impact.deleted = impact.deleted.Add(sum)
		}

		for _, item := range matched {
			if directSeen[item.ID] {
				continue
			}
			directSeen[item.ID] = true
			directIDs = append(directIDs, item.ID)
			e := entryOf(item)
			e.ChangeType = am.ChangeType
			e.Description = describe(am)
			impact.Direct = append(impact.Direct, e)
		}
	}

	impact.CostImpact = costImpact(ams, hit, removed)
	impact.ScheduleDays = maxLeadTime(leads, hit)
	if includeCascade && len(directIDs) > 0 {
		impact.Cascade = idx.cascade(directIDs)
	}
	return impact
}

// costImpact 物料自身成本之和；删除再减去被删行金额，新增再计一次新物料成本
func costImpact(ams []entity.AffectedMaterial, indexes []int, removed map[int]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, i := range indexes {
		am := &ams[i]
		total = total.Add(am.CostImpact)
		switch am.ChangeType {
		case entity.MaterialChangeDelete:
			total = total.Sub(removed[i])
		case entity.MaterialChangeAdd:
			total = total.Add(am.CostImpact)
		}
	}
	return total
}

func maxLeadTime(leads []int, indexes []int) int {
	maxDays := 0
	for _, i := range indexes {
		if leads[i] > maxDays {
			maxDays = leads[i]
		}
	}
	return maxDays
}

// leadTimes 每条受影响物料的采购周期（天），取不到或删除为0
func (a *BOMImpactAnalyzer) leadTimes(ctx context.Context, ams []entity.AffectedMaterial) ([]int, error) {
	var ids, codes []string
	for i := range ams {
		id, code := leadTimeKey(&ams[i])
		if id != "" {
			ids = append(ids, id)
		}
		if code != "" {
			codes = append(codes, code)
		}
	}
	byID, err := a.repos.Material.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find materials: %w", err)
	}
	byCode, err := a.repos.Material.FindByCodes(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("find materials: %w", err)
	}

	leads := make([]int, len(ams))
	for i := range ams {
		id, code := leadTimeKey(&ams[i])
		m := byID[id]
		if m == nil {
			m = byCode[code]
		}
		if m == nil || m.LeadTimeDays == nil {
			continue
		}
		leads[i] = *m.LeadTimeDays
	}
	return leads, nil
}

// leadTimeKey 取采购周期的物料：替换取新物料，删除不计
func leadTimeKey(am *entity.AffectedMaterial) (id, code string) {
	switch am.ChangeType {
	case entity.MaterialChangeDelete:
		return "", ""
	case entity.MaterialChangeReplace:
		if am.NewMaterialID != nil && *am.NewMaterialID != "" {
			return *am.NewMaterialID, am.NewMaterialCode
		}
		if am.NewMaterialCode != "" {
			return "", am.NewMaterialCode
		}
	}
	if am.MaterialID != nil {
		id = *am.MaterialID
	}
	return id, am.MaterialCode
}

func (a *BOMImpactAnalyzer) upsert(ctx context.Context, notice *entity.ChangeNotice, machineID string, includeCascade bool, impact *BOMImpact) (string, error) {
	now := a.now()
	analysis := entity.JSONB{
		"direct":          impact.Direct,
		"cascade":         impact.Cascade,
		"include_cascade": includeCascade,
	}

	existing, err := a.repos.BOM.FindImpact(ctx, notice.ID, impact.BomID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("find impact result: %w", err)
	}

	res := existing
	if res == nil {
		res = &entity.BomImpactResult{
			ID:        entity.NewID(),
			NoticeID:  notice.ID,
			BomID:     impact.BomID,
			CreatedAt: now,
		}
	}
	res.MachineID = machineID
	res.BomVersion = impact.BomVersion
	res.DirectCount = len(impact.Direct)
	res.CascadeCount = len(impact.Cascade)
	res.AffectedItemCount = res.DirectCount + res.CascadeCount
	res.TotalCostImpact = impact.CostImpact
	res.MaxScheduleDays = impact.ScheduleDays
	res.Analysis = analysis
	res.Status = entity.ImpactStatusCompleted
	res.AnalyzedAt = now
	res.UpdatedAt = now

	if existing == nil {
		if err := a.repos.BOM.CreateImpact(ctx, res); err != nil {
			return "", fmt.Errorf("create impact result: %w", err)
		}
	} else if err := a.repos.BOM.UpdateImpact(ctx, res); err != nil {
		return "", fmt.Errorf("update impact result: %w", err)
	}
	return res.ID, nil
}

func countImpacted(results []BOMImpact) int {
	n := 0
	for _, r := range results {
		if len(r.Direct) > 0 {
			n++
		}
	}
	return n
}

// ListResults 获取已保存的影响分析结果
func (a *BOMImpactAnalyzer) ListResults(ctx context.Context, noticeID string) ([]entity.BomImpactResult, error) {
	if _, err := a.repos.Notice.FindByID(ctx, noticeID); err != nil {
		return nil, notFoundAs(err, "ECN", noticeID)
	}
	return a.repos.BOM.ListImpacts(ctx, noticeID)
}
