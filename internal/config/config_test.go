package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3, cfg.ECN.EvaluationSLADays)
	assert.Equal(t, 3, cfg.ECN.ApprovalDueDays)
	assert.Equal(t, float64(10000), cfg.ECN.FinanceCostThreshold)
	assert.Equal(t, "财务部", cfg.ECN.FinanceDepartment)
	assert.Equal(t, "PROJECT_MANAGER", cfg.ECN.DefaultApprovalRole)
	assert.True(t, cfg.ECN.DefaultApprovalFallback)
	assert.Equal(t, "060102", cfg.ECN.CodeDateFormat)
	assert.Equal(t, 3, cfg.ECN.CodeWidth)
	assert.Equal(t, 5*time.Minute, cfg.ECN.SweepLockTTL)
	assert.Equal(t, "ecn-events", cfg.Kafka.Topic)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
}
