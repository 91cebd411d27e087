package scheduler

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-ecn/internal/config"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/service"
)

// JobNameOverdueSweep 逾期扫描任务名
const JobNameOverdueSweep = "overdue-sweep"

// Sweeper 逾期扫描
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (*service.SweepResult, error)
}

// SweepJob 定时执行逾期扫描
type SweepJob struct {
	BaseJob
	sweeper Sweeper
	now     func() time.Time
}

// NewSweepJob 创建逾期扫描任务
func NewSweepJob(sweeper Sweeper, cfg config.ECNConfig) *SweepJob {
	timeout := cfg.SweepTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &SweepJob{
		BaseJob: NewBaseJob(JobNameOverdueSweep, timeout, cfg.SweepLockTTL, false),
		sweeper: sweeper,
		now:     time.Now,
	}
}

// Execute 执行一次扫描
func (j *SweepJob) Execute(ctx context.Context) (*JobResult, error) {
	res, err := j.sweeper.Run(ctx, j.now())
	if err != nil {
		return nil, err
	}
	return &JobResult{
		ProcessedCount: len(res.Alerts),
		AffectedCount:  int(res.MarkedOverdue),
		Details: map[string]interface{}{
			"evaluations": res.Evaluations,
			"approvals":   res.Approvals,
			"tasks":       res.Tasks,
			"skipped":     res.SkippedInactive,
		},
	}, nil
}
