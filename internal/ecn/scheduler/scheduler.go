package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/metrics"
)

// 执行状态
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Scheduler 定时任务调度器
type Scheduler struct {
	cron    *cron.Cron
	redis   redis.UniversalClient
	logger  *zap.Logger
	jobs    map[string]Job
	mu      sync.RWMutex
	running chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler 创建调度器，rdb 为 nil 时任务不加锁（单实例部署）
func NewScheduler(rdb redis.UniversalClient, maxConcurrent int, logger *zap.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		redis:   rdb,
		logger:  logger,
		jobs:    make(map[string]Job),
		running: make(chan struct{}, maxConcurrent),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register 注册任务，spec 为6段cron表达式（含秒）
func (s *Scheduler) Register(job Job, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Execute(job) }); err != nil {
		return fmt.Errorf("add cron job %s: %w", job.Name(), err)
	}
	s.jobs[job.Name()] = job
	s.logger.Info("job registered", zap.String("job", job.Name()), zap.String("cron", spec))
	return nil
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop 停止调度并等待运行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Trigger 按名称立即同步执行一次
func (s *Scheduler) Trigger(name string) (string, error) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("job %s not found", name)
	}
	return s.Execute(job), nil
}

// Execute 执行任务，返回执行状态
func (s *Scheduler) Execute(job Job) string {
	select {
	case s.running <- struct{}{}:
		defer func() { <-s.running }()
	default:
		s.logger.Warn("max concurrent jobs reached, skipping", zap.String("job", job.Name()))
		metrics.RecordJobExecution(job.Name(), StatusSkipped, 0)
		return StatusSkipped
	}

	select {
	case <-s.ctx.Done():
		return StatusSkipped
	default:
	}

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	if job.RequiresLock() && s.redis != nil {
		lock := NewDistributedLock(s.redis, job.Name(), job.LockTTL(), job.UseWatchdog(), s.logger)
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			s.logger.Error("failed to acquire job lock", zap.String("job", job.Name()), zap.Error(err))
			metrics.RecordJobExecution(job.Name(), StatusFailed, 0)
			return StatusFailed
		}
		if !acquired {
			s.logger.Debug("job is running on another instance", zap.String("job", job.Name()))
			metrics.RecordJobExecution(job.Name(), StatusSkipped, 0)
			return StatusSkipped
		}
		defer func() {
			// 锁提前过期说明可能有其他实例在同时执行
			if held, err := lock.IsHeld(context.Background()); err == nil && !held {
				s.logger.Warn("job lock lost before completion", zap.String("job", job.Name()))
			}
			if err := lock.Unlock(context.Background()); err != nil {
				s.logger.Error("failed to release job lock", zap.String("job", job.Name()), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	result, err := job.Execute(ctx)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Error("job failed", zap.String("job", job.Name()), zap.Duration("duration", elapsed), zap.Error(err))
		metrics.RecordJobExecution(job.Name(), StatusFailed, elapsed.Seconds())
		return StatusFailed
	}

	fields := []zap.Field{zap.String("job", job.Name()), zap.Duration("duration", elapsed)}
	if result != nil {
		fields = append(fields, zap.Int("processed", result.ProcessedCount), zap.Int("affected", result.AffectedCount))
	}
	s.logger.Info("job completed", fields...)
	metrics.RecordJobExecution(job.Name(), StatusSuccess, elapsed.Seconds())
	return StatusSuccess
}
