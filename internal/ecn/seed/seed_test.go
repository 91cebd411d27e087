package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/testutil"
)

func TestLoadBundledFile(t *testing.T) {
	f, err := LoadFile("../../../configs/change_types.yaml")
	require.NoError(t, err)

	codes := make([]string, 0, len(f.ChangeTypes))
	for _, ct := range f.ChangeTypes {
		codes = append(codes, ct.Code)
	}
	assert.Contains(t, codes, "DESIGN")
	assert.Contains(t, codes, "DOC")
}

func TestParseRejectsBadRules(t *testing.T) {
	cases := map[string]string{
		"missing code": `
change_types:
  - name: 无编码`,
		"duplicate": `
change_types:
  - code: DESIGN
  - code: DESIGN`,
		"unknown condition": `
change_types:
  - code: DESIGN
    rules:
      - {condition: QUALITY, min: 0, max: 1, level: 1, role: QA}`,
		"level zero": `
change_types:
  - code: DESIGN
    rules:
      - {condition: COST, min: 0, max: 1, level: 0, role: QA}`,
		"inverted bounds": `
change_types:
  - code: DESIGN
    rules:
      - {condition: COST, min: 10, max: 1, level: 1, role: QA}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestApplyReplacesRules(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	loader := NewLoader(repos, zap.NewNop())
	ctx := context.Background()

	first, err := Parse([]byte(`
change_types:
  - code: DESIGN
    name: 设计变更
    required_depts: [工程部, 质量部]
    rules:
      - {condition: cost, min: 0, max: 50000, level: 1, role: ENG_MANAGER}
      - {condition: SCHEDULE, min: 0, max: 30, level: 2, role: QA_DIRECTOR}
  - code: LEGACY
    active: false
`))
	require.NoError(t, err)

	res, err := loader.Apply(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChangeTypes)
	assert.Equal(t, 2, res.Rules)

	ct, err := repos.ChangeType.FindByCode(ctx, "DESIGN")
	require.NoError(t, err)
	assert.Equal(t, "设计变更", ct.Name)
	assert.True(t, ct.IsActive)
	assert.Equal(t, []string{"工程部", "质量部"}, []string(ct.RequiredDepts))
	assert.Len(t, ct.ApprovalMatrix["rules"], 2)

	legacy, err := repos.ChangeType.FindByCode(ctx, "LEGACY")
	require.NoError(t, err)
	assert.False(t, legacy.IsActive)
	assert.Equal(t, "LEGACY", legacy.Name)

	rules, err := repos.Approval.ListActiveRules(ctx, "DESIGN")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	second, err := Parse([]byte(`
change_types:
  - code: DESIGN
    name: 设计变更
    required_depts: [工程部]
    rules:
      - {condition: COST, min: 0, max: 99999, level: 1, role: CTO}
`))
	require.NoError(t, err)
	_, err = loader.Apply(ctx, second)
	require.NoError(t, err)

	ct, err = repos.ChangeType.FindByCode(ctx, "DESIGN")
	require.NoError(t, err)
	assert.Equal(t, []string{"工程部"}, []string(ct.RequiredDepts))

	rules, err = repos.Approval.ListActiveRules(ctx, "DESIGN")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "CTO", rules[0].ApprovalRole)
	assert.Equal(t, "COST", rules[0].ConditionType)
	assert.Equal(t, "99999", rules[0].ConditionMax.String())
}
