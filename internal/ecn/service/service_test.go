package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bitfantasy/nimo-ecn/internal/config"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/event"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/testutil"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/workflow"
	"github.com/bitfantasy/nimo-ecn/internal/shared/apperr"
)

// captureSink 记录分发的事件
type captureSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *captureSink) Dispatch(_ context.Context, events []event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func (s *captureSink) ofType(t event.Type) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testECNConfig() config.ECNConfig {
	return config.ECNConfig{
		EvaluationSLADays:       3,
		ApprovalDueDays:         3,
		FinanceCostThreshold:    10000,
		FinanceDepartment:       "财务部",
		DefaultApprovalRole:     "PROJECT_MANAGER",
		DefaultApprovalFallback: true,
		CodePrefix:              "ECN",
		CodeDateFormat:          "060102",
		CodeWidth:               3,
	}
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	repos    *repository.Repositories
	sink     *captureSink
	resolver *AssignmentResolver
	svc      *ECNService
	analyzer *BOMImpactAnalyzer
	sweeper  *OverdueSweeper
}

func newFixture(t *testing.T, tweak ...func(*config.ECNConfig)) *fixture {
	t.Helper()
	cfg := testECNConfig()
	for _, fn := range tweak {
		fn(&cfg)
	}

	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	logger := zap.NewNop()
	sink := &captureSink{}

	resolver := NewAssignmentResolver(repos.Directory, logger)
	evalRouter := NewEvaluationRouter(repos.Evaluation, resolver, cfg, logger)
	approvalRouter := NewApprovalRouter(repos.Approval, resolver, cfg, logger)
	codes := NewDBCodeGenerator(repos.Sequence)

	return &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		repos:    repos,
		sink:     sink,
		resolver: resolver,
		svc:      NewECNService(repos, resolver, evalRouter, approvalRouter, codes, sink, cfg, logger),
		analyzer: NewBOMImpactAnalyzer(repos, sink, logger),
		sweeper:  NewOverdueSweeper(repos, sink, cfg, logger),
	}
}

// org 测试组织：工程部、质量部、财务部各一位负责人，外加审批角色
type org struct {
	applicant   *entity.User
	engLead     *entity.User
	qaLead      *entity.User
	financeLead *entity.User
	engManager  *entity.User
	qaDirector  *entity.User
	projectMgr  *entity.User
	engineering *entity.Department
	quality     *entity.Department
	finance     *entity.Department
}

func (f *fixture) seedOrg() *org {
	t := f.t
	o := &org{}
	o.engineering = testutil.SeedDepartment(t, f.db, "工程部")
	o.quality = testutil.SeedDepartment(t, f.db, "质量部")
	o.finance = testutil.SeedDepartment(t, f.db, "财务部")

	o.applicant = testutil.SeedUser(t, f.db, "张工", o.engineering.ID, "工程师")
	o.engLead = testutil.SeedUser(t, f.db, "李工", o.engineering.ID, "工程部负责人")
	o.qaLead = testutil.SeedUser(t, f.db, "王工", o.quality.ID, "质量负责人")
	o.financeLead = testutil.SeedUser(t, f.db, "赵会计", o.finance.ID, "财务经理")
	o.engManager = testutil.SeedUser(t, f.db, "钱经理", o.engineering.ID, "研发经理")
	o.qaDirector = testutil.SeedUser(t, f.db, "孙总监", o.quality.ID, "质量主管")
	o.projectMgr = testutil.SeedUser(t, f.db, "周经理", o.engineering.ID, "项目经理")

	engRole := testutil.SeedRole(t, f.db, "ENG_MANAGER", "研发经理")
	qaRole := testutil.SeedRole(t, f.db, "QA_DIRECTOR", "质量总监")
	pmRole := testutil.SeedRole(t, f.db, "PROJECT_MANAGER", "项目经理")
	testutil.GrantRole(t, f.db, o.engManager.ID, engRole.ID)
	testutil.GrantRole(t, f.db, o.qaDirector.ID, qaRole.ID)
	testutil.GrantRole(t, f.db, o.projectMgr.ID, pmRole.ID)
	return o
}

func (f *fixture) createNotice(applicantID, changeType string, cost int64) *entity.ChangeNotice {
	f.t.Helper()
	n, err := f.svc.Create(f.ctx, applicantID, &CreateNoticeRequest{
		Title:      "电机支架加厚",
		ChangeType: changeType,
		Reason:     "振动测试开裂",
		CostImpact: decimal.NewFromInt(cost),
	})
	require.NoError(f.t, err)
	return n
}

func (f *fixture) reload(id string) *entity.ChangeNotice {
	f.t.Helper()
	n, err := f.svc.Get(f.ctx, id)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) evaluationFor(noticeID, dept string) entity.Evaluation {
	f.t.Helper()
	evals, err := f.svc.ListEvaluations(f.ctx, noticeID)
	require.NoError(f.t, err)
	for _, e := range evals {
		if e.Department == dept {
			return e
		}
	}
	f.t.Fatalf("no evaluation for department %s", dept)
	return entity.Evaluation{}
}

func (f *fixture) submitEvaluation(noticeID, dept string, cost int64, days int) {
	f.t.Helper()
	ev := f.evaluationFor(noticeID, dept)
	_, err := f.svc.SubmitEvaluation(f.ctx, ev.ID, ev.EvaluatorID, &SubmitEvaluationRequest{
		CostEstimate:     decimal.NewFromInt(cost),
		ScheduleEstimate: days,
		ImpactAnalysis:   dept + "评估意见",
		Result:           entity.EvaluationResultApprove,
	})
	require.NoError(f.t, err)
}

func (f *fixture) approvals(noticeID string) []entity.Approval {
	f.t.Helper()
	overview, err := f.svc.ListApprovals(f.ctx, noticeID)
	require.NoError(f.t, err)
	return overview.Approvals
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperr.CodeOf(err), "unexpected error: %v", err)
}

// ============================================================
// AssignmentResolver
// ============================================================

func TestResolvePrefersLeadOverManager(t *testing.T) {
	f := newFixture(t)
	dept := testutil.SeedDepartment(t, f.db, "工程部")
	testutil.SeedUser(t, f.db, "普通员工", dept.ID, "工程师")
	testutil.SeedUser(t, f.db, "主管A", dept.ID, "结构主管")
	lead := testutil.SeedUser(t, f.db, "负责人B", dept.ID, "部门负责人")

	id, ok, err := f.resolver.Resolve(f.ctx, DepartmentScope("工程部"), "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, lead.ID, id)
}

func TestResolveFirstManagerByCreation(t *testing.T) {
	f := newFixture(t)
	dept := testutil.SeedDepartment(t, f.db, "质量部")
	first := testutil.SeedUser(t, f.db, "经理A", dept.ID, "质量经理")
	testutil.SeedUser(t, f.db, "主管B", dept.ID, "质量主管")

	id, ok, err := f.resolver.Resolve(f.ctx, DepartmentScope("质量部"), "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first.ID, id)
}

func TestResolveNeverFallsBackToStaff(t *testing.T) {
	f := newFixture(t)
	dept := testutil.SeedDepartment(t, f.db, "采购部")
	testutil.SeedUser(t, f.db, "采购员", dept.ID, "采购专员")

	id, ok, err := f.resolver.Resolve(f.ctx, DepartmentScope("采购部"), "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)

	_, ok, err = f.resolver.Resolve(f.ctx, DepartmentScope("不存在的部门"), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

// 总监不在负责人/经理/主管之列，角色下只有总监时审批人留空
func TestResolveDirectorOnlyRoleUnassigned(t *testing.T) {
	f := newFixture(t)
	dept := testutil.SeedDepartment(t, f.db, "质量部")
	director := testutil.SeedUser(t, f.db, "孙总监", dept.ID, "质量总监")
	role := testutil.SeedRole(t, f.db, "QA_VP", "质量副总")
	testutil.GrantRole(t, f.db, director.ID, role.ID)

	id, ok, err := f.resolver.Resolve(f.ctx, RoleScope("QA_VP"), "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestResolveProjectMembersFirst(t *testing.T) {
	f := newFixture(t)
	dept := testutil.SeedDepartment(t, f.db, "工程部")
	globalLead := testutil.SeedUser(t, f.db, "全局负责人", dept.ID, "部门负责人")
	projectMgr := testutil.SeedUser(t, f.db, "项目经理", dept.ID, "结构经理")
	retired := testutil.SeedUser(t, f.db, "已退出负责人", dept.ID, "负责人")

	testutil.SeedProjectMember(t, f.db, "proj-1", projectMgr.ID, true)
	testutil.SeedProjectMember(t, f.db, "proj-1", retired.ID, false)

	id, ok, err := f.resolver.Resolve(f.ctx, DepartmentScope("工程部"), "proj-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, projectMgr.ID, id)

	// 项目内没有合适人选时回退到全量目录
	id, ok, err = f.resolver.Resolve(f.ctx, DepartmentScope("工程部"), "proj-empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, globalLead.ID, id)
}

func TestResolveByRoleCodeOrName(t *testing.T) {
	f := newFixture(t)
	dept := testutil.SeedDepartment(t, f.db, "工程部")
	u := testutil.SeedUser(t, f.db, "钱经理", dept.ID, "研发经理")
	role := testutil.SeedRole(t, f.db, "ENG_MANAGER", "研发经理")
	testutil.GrantRole(t, f.db, u.ID, role.ID)

	for _, name := range []string{"ENG_MANAGER", "研发经理"} {
		id, ok, err := f.resolver.Resolve(f.ctx, RoleScope(name), "")
		require.NoError(t, err)
		assert.True(t, ok, name)
		assert.Equal(t, u.ID, id, name)
	}
}

func TestResolveSkipsInactiveUsers(t *testing.T) {
	f := newFixture(t)
	dept := testutil.SeedDepartment(t, f.db, "工程部")
	gone := testutil.SeedUser(t, f.db, "离职负责人", dept.ID, "负责人")
	require.NoError(t, f.db.Model(&entity.User{}).Where("id = ?", gone.ID).Update("status", "inactive").Error)

	_, ok, err := f.resolver.Resolve(f.ctx, DepartmentScope("工程部"), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

// ============================================================
// Approval matrix
// ============================================================

func rule(id, cond string, min, max *float64, level int, role string) entity.ApprovalMatrixRule {
	r := entity.ApprovalMatrixRule{
		ID:            id,
		ConditionType: cond,
		ApprovalLevel: level,
		ApprovalRole:  role,
		IsActive:      true,
	}
	if min != nil {
		d := decimal.NewFromFloat(*min)
		r.ConditionMin = &d
	}
	if max != nil {
		d := decimal.NewFromFloat(*max)
		r.ConditionMax = &d
	}
	return r
}

func ruleIDs(rules []entity.ApprovalMatrixRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

func TestMatchRulesBoundsInclusive(t *testing.T) {
	rules := []entity.ApprovalMatrixRule{
		rule("low", entity.ConditionCost, testutil.F(0), testutil.F(10000), 1, "ENG_MANAGER"),
		rule("high", entity.ConditionCost, testutil.F(10000), testutil.F(100000), 2, "CTO"),
	}

	assert.Equal(t, []string{"low"}, ruleIDs(MatchRules(rules, decimal.NewFromInt(0), 0)))
	assert.Equal(t, []string{"low", "high"}, ruleIDs(MatchRules(rules, decimal.NewFromInt(10000), 0)))
	assert.Equal(t, []string{"high"}, ruleIDs(MatchRules(rules, decimal.NewFromInt(100000), 0)))
	assert.Empty(t, MatchRules(rules, decimal.NewFromFloat(100000.01), 0))
}

func TestMatchRulesRequiresBothBounds(t *testing.T) {
	rules := []entity.ApprovalMatrixRule{
		rule("no-max", entity.ConditionCost, testutil.F(0), nil, 1, "ENG_MANAGER"),
		rule("no-min", entity.ConditionCost, nil, testutil.F(100), 1, "ENG_MANAGER"),
		rule("unknown", "QUALITY", testutil.F(0), testutil.F(100), 1, "ENG_MANAGER"),
	}
	assert.Empty(t, MatchRules(rules, decimal.NewFromInt(50), 0))
}

func TestMatchRulesScheduleAndCostFanOut(t *testing.T) {
	inactive := rule("off", entity.ConditionCost, testutil.F(0), testutil.F(1000), 1, "X")
	inactive.IsActive = false
	rules := []entity.ApprovalMatrixRule{
		rule("cost", entity.ConditionCost, testutil.F(0), testutil.F(1000), 1, "ENG_MANAGER"),
		rule("schedule", entity.ConditionSchedule, testutil.F(7), testutil.F(30), 2, "QA_DIRECTOR"),
		inactive,
	}
	assert.Equal(t, []string{"cost", "schedule"}, ruleIDs(MatchRules(rules, decimal.NewFromInt(500), 7)))
	assert.Equal(t, []string{"cost"}, ruleIDs(MatchRules(rules, decimal.NewFromInt(500), 6)))
}

func TestCurrentLevel(t *testing.T) {
	assert.Equal(t, 0, CurrentLevel(nil))
	approvals := []entity.Approval{
		{ApprovalLevel: 1, Status: entity.ApprovalStatusCompleted},
		{ApprovalLevel: 3, Status: entity.ApprovalStatusPending},
		{ApprovalLevel: 2, Status: entity.ApprovalStatusPending},
	}
	assert.Equal(t, 2, CurrentLevel(approvals))
}

func TestAggregateEvaluations(t *testing.T) {
	sum := Aggregate([]entity.Evaluation{
		{Department: "工程部", Status: entity.EvaluationStatusSubmitted, CostEstimate: decimal.NewFromInt(3000), ScheduleEstimate: 5, Result: entity.EvaluationResultApprove},
		{Department: "质量部", Status: entity.EvaluationStatusSubmitted, CostEstimate: decimal.NewFromInt(2000), ScheduleEstimate: 12, Result: entity.EvaluationResultReject},
		{Department: "财务部", Status: entity.EvaluationStatusPending, CostEstimate: decimal.NewFromInt(999)},
	})
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Submitted)
	assert.Equal(t, 1, sum.Rejected)
	assert.False(t, sum.AllSubmitted)
	assert.True(t, decimal.NewFromInt(5000).Equal(sum.Cost))
	assert.Equal(t, 12, sum.Schedule)

	assert.False(t, Aggregate(nil).AllSubmitted)
}

// ============================================================
// Code generators
// ============================================================

func TestDBCodeGeneratorSequence(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	gen := NewDBCodeGenerator(repos.Sequence)
	gen.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	first, err := gen.NextCode(ctx, "ECN", "060102", 3)
	require.NoError(t, err)
	second, err := gen.NextCode(ctx, "ECN", "060102", 3)
	require.NoError(t, err)
	assert.Equal(t, "ECN-240309-001", first)
	assert.Equal(t, "ECN-240309-002", second)

	gen.now = func() time.Time { return time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC) }
	next, err := gen.NextCode(ctx, "ECN", "060102", 3)
	require.NoError(t, err)
	assert.Equal(t, "ECN-240310-001", next)
}

func TestRedisCodeGeneratorSequence(t *testing.T) {
	mr, rdb := testutil.SetupRedis(t)
	gen := NewRedisCodeGenerator(rdb)
	gen.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		code, err := gen.NextCode(ctx, "ECN", "060102", 3)
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.True(t, seen["ECN-240309-005"])
	assert.True(t, mr.TTL("ecn:code:ECN:240309") > 0)
}

func TestFormatCodeWidth(t *testing.T) {
	assert.Equal(t, "ECN-240309-0042", formatCode("ECN", "240309", 42, 4))
	assert.Equal(t, "ECN-240309-1000", formatCode("ECN", "240309", 1000, 3))
	assert.Equal(t, "ECN-240309-007", formatCode("ECN", "240309", 7, 0))
}

func TestCreateAssignsSequentialCodes(t *testing.T) {
	f := newFixture(t)
	testutil.SeedChangeType(t, f.db, "DESIGN", "工程部")

	a := f.createNotice("u1", "DESIGN", 100)
	b := f.createNotice("u1", "DESIGN", 100)
	assert.NotEqual(t, a.Code, b.Code)
	assert.Regexp(t, `^ECN-\d{6}-001$`, a.Code)
	assert.Regexp(t, `^ECN-\d{6}-002$`, b.Code)
}

func TestTranslateVersionConflict(t *testing.T) {
	f := newFixture(t)
	err := f.svc.translate(repository.ErrVersionConflict, "n1")
	assertCode(t, err, apperr.CodeConflict)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
	assert.Equal(t, "conflict", resultLabel(err))

	assertCode(t, f.svc.translate(repository.ErrNotFound, "n1"), apperr.CodeNotFound)
}

func TestEffectiveStatusInApproval(t *testing.T) {
	assert.Equal(t, workflow.StatusInApproval, workflow.Effective(workflow.StatusEvaluated, 1))
	assert.Equal(t, workflow.StatusEvaluated, workflow.Effective(workflow.StatusEvaluated, 0))
}
