package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bitfantasy/nimo-ecn/internal/config"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/service"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/testutil"
)

type mockJob struct {
	BaseJob
	executeFunc func(ctx context.Context) (*JobResult, error)
	execCount   int64
}

func newMockJob(name string, lockTTL time.Duration, fn func(ctx context.Context) (*JobResult, error)) *mockJob {
	return &mockJob{
		BaseJob:     NewBaseJob(name, 10*time.Second, lockTTL, false),
		executeFunc: fn,
	}
}

func (j *mockJob) Execute(ctx context.Context) (*JobResult, error) {
	atomic.AddInt64(&j.execCount, 1)
	if j.executeFunc != nil {
		return j.executeFunc(ctx)
	}
	return &JobResult{}, nil
}

func TestDistributedLock_Exclusive(t *testing.T) {
	mr, rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	a := NewDistributedLock(rdb, "sweep", time.Minute, false, zap.NewNop())
	b := NewDistributedLock(rdb, "sweep", time.Minute, false, zap.NewNop())

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b 释放不属于自己的锁无效
	require.NoError(t, b.Unlock(ctx))
	held, err := a.IsHeld(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, a.Unlock(ctx))
	assert.False(t, mr.Exists(lockPrefix+"sweep"))

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_Renew(t *testing.T) {
	mr, rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	l := NewDistributedLock(rdb, "sweep", 30*time.Second, false, zap.NewNop())
	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(20 * time.Second)
	require.NoError(t, l.renew(ctx))
	assert.Equal(t, 30*time.Second, mr.TTL(lockPrefix+"sweep"))

	mr.Del(lockPrefix + "sweep")
	assert.ErrorIs(t, l.renew(ctx), ErrLockNotHeld)
}

func TestScheduler_WarnsWhenLockLost(t *testing.T) {
	mr, rdb := testutil.SetupRedis(t)
	core, logs := observer.New(zap.WarnLevel)
	s := NewScheduler(rdb, 2, zap.New(core))

	job := newMockJob("expiring", time.Minute, func(ctx context.Context) (*JobResult, error) {
		// 模拟锁在执行期间过期后被其他实例抢到
		mr.Del(lockPrefix + "expiring")
		require.NoError(t, mr.Set(lockPrefix+"expiring", "other-instance"))
		return &JobResult{}, nil
	})

	assert.Equal(t, StatusSuccess, s.Execute(job))
	assert.Equal(t, 1, logs.FilterMessage("job lock lost before completion").Len())

	// 不会误删其他实例的锁
	val, err := mr.Get(lockPrefix + "expiring")
	require.NoError(t, err)
	assert.Equal(t, "other-instance", val)

	ok := newMockJob("steady", time.Minute, nil)
	assert.Equal(t, StatusSuccess, s.Execute(ok))
	assert.Equal(t, 1, logs.FilterMessage("job lock lost before completion").Len())
}

func TestDistributedLock_WatchdogStopsWhenLost(t *testing.T) {
	mr, rdb := testutil.SetupRedis(t)
	core, logs := observer.New(zap.WarnLevel)

	l := NewDistributedLock(rdb, "sweep", 60*time.Millisecond, true, zap.New(core))
	ok, err := l.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	mr.Del(lockPrefix + "sweep")
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("job lock lost, watchdog stopped").Len() == 1
	}, time.Second, 10*time.Millisecond)

	held, err := l.IsHeld(context.Background())
	require.NoError(t, err)
	assert.False(t, held)
	require.NoError(t, l.Unlock(context.Background()))
}

func TestScheduler_SkipsWhenLockedElsewhere(t *testing.T) {
	_, rdb := testutil.SetupRedis(t)
	s := NewScheduler(rdb, 2, zap.NewNop())
	job := newMockJob("locked", time.Minute, nil)

	other := NewDistributedLock(rdb, "locked", time.Minute, false, zap.NewNop())
	ok, err := other.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, StatusSkipped, s.Execute(job))
	assert.Equal(t, int64(0), atomic.LoadInt64(&job.execCount))

	require.NoError(t, other.Unlock(context.Background()))
	assert.Equal(t, StatusSuccess, s.Execute(job))
	assert.Equal(t, int64(1), atomic.LoadInt64(&job.execCount))
}

func TestScheduler_RegisterAndTrigger(t *testing.T) {
	s := NewScheduler(nil, 1, zap.NewNop())
	ok := newMockJob("ok", 0, nil)
	bad := newMockJob("bad", 0, func(ctx context.Context) (*JobResult, error) {
		return nil, errors.New("boom")
	})

	require.NoError(t, s.Register(ok, "0 0 * * * *"))
	require.NoError(t, s.Register(bad, "0 0 * * * *"))
	assert.Error(t, s.Register(ok, "0 0 * * * *"))
	assert.Error(t, s.Register(newMockJob("invalid", 0, nil), "not a cron"))

	status, err := s.Trigger("ok")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	status, err = s.Trigger("bad")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)

	_, err = s.Trigger("missing")
	assert.Error(t, err)

	s.Start()
	s.Stop()
	assert.Equal(t, StatusSkipped, s.Execute(ok))
}

func TestScheduler_MaxConcurrent(t *testing.T) {
	s := NewScheduler(nil, 1, zap.NewNop())
	release := make(chan struct{})
	started := make(chan struct{})
	slow := newMockJob("slow", 0, func(ctx context.Context) (*JobResult, error) {
		close(started)
		<-release
		return nil, nil
	})

	done := make(chan string)
	go func() { done <- s.Execute(slow) }()
	<-started

	assert.Equal(t, StatusSkipped, s.Execute(newMockJob("other", 0, nil)))
	close(release)
	assert.Equal(t, StatusSuccess, <-done)
}

type fakeSweeper struct {
	at time.Time
}

func (f *fakeSweeper) Run(_ context.Context, now time.Time) (*service.SweepResult, error) {
	f.at = now
	return &service.SweepResult{
		StartedAt:     now,
		Alerts:        make([]service.Alert, 3),
		Approvals:     2,
		Tasks:         1,
		MarkedOverdue: 2,
	}, nil
}

func TestSweepJob_Execute(t *testing.T) {
	sweeper := &fakeSweeper{}
	job := NewSweepJob(sweeper, config.ECNConfig{SweepLockTTL: time.Minute})
	fixed := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	assert.Equal(t, JobNameOverdueSweep, job.Name())
	assert.True(t, job.RequiresLock())
	assert.Equal(t, 5*time.Minute, job.Timeout())

	res, err := job.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixed, sweeper.at)
	assert.Equal(t, 3, res.ProcessedCount)
	assert.Equal(t, 2, res.AffectedCount)
	assert.Equal(t, 2, res.Details["approvals"])
}
