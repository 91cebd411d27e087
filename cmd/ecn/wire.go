package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/notify"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/scheduler"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/service"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/sse"
	"github.com/bitfantasy/nimo-ecn/internal/shared/feishu"
)

// services 组装后的业务对象
type services struct {
	repos    *repository.Repositories
	hub      *sse.Hub
	ecn      *service.ECNService
	analyzer *service.BOMImpactAnalyzer
	sweeper  *service.OverdueSweeper
	closers  []func() error
}

func (s *services) close(logger *zap.Logger) {
	for _, fn := range s.closers {
		if err := fn(); err != nil {
			logger.Warn("close resource failed", zap.Error(err))
		}
	}
}

func (a *app) buildServices() (*services, error) {
	cfg := a.cfg
	repos := repository.NewRepositories(a.db)
	hub := sse.NewHub(a.logger)
	out := &services{repos: repos, hub: hub}

	notifiers := notify.Multi{notify.NewSSENotifier(hub)}
	if cfg.Feishu.Enabled {
		client := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, feishu.WithBaseURL(cfg.Feishu.BaseURL))
		notifiers = append(notifiers, notify.NewFeishuNotifier(client, repos.Directory, cfg.Server.PublicURL))
		a.logger.Info("feishu notification enabled")
	}

	var publisher notify.EventPublisher
	if cfg.Kafka.Enabled {
		producer, err := notify.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("connect kafka %v: %w", cfg.Kafka.Brokers, err)
		}
		kp := notify.NewKafkaPublisher(producer, cfg.Kafka.Topic, a.logger)
		out.closers = append(out.closers, kp.Close)
		publisher = kp
		a.logger.Info("kafka event publishing enabled", zap.String("topic", cfg.Kafka.Topic))
	}
	dispatcher := notify.NewDispatcher(notifiers, publisher, a.logger)

	var codes service.CodeGenerator = service.NewDBCodeGenerator(repos.Sequence)
	if a.redis != nil {
		codes = service.NewRedisCodeGenerator(a.redis)
	}

	resolver := service.NewAssignmentResolver(repos.Directory, a.logger)
	out.ecn = service.NewECNService(repos, resolver,
		service.NewEvaluationRouter(repos.Evaluation, resolver, cfg.ECN, a.logger),
		service.NewApprovalRouter(repos.Approval, resolver, cfg.ECN, a.logger),
		codes, dispatcher, cfg.ECN, a.logger)
	out.analyzer = service.NewBOMImpactAnalyzer(repos, dispatcher, a.logger)
	out.sweeper = service.NewOverdueSweeper(repos, dispatcher, cfg.ECN, a.logger)
	return out, nil
}

// newScheduler 没有 redis 时不加分布式锁
func (a *app) newScheduler(svcs *services) (*scheduler.Scheduler, *scheduler.SweepJob, error) {
	var lockClient redis.UniversalClient
	if a.redis != nil {
		lockClient = a.redis
	}
	sched := scheduler.NewScheduler(lockClient, 2, a.logger)
	job := scheduler.NewSweepJob(svcs.sweeper, a.cfg.ECN)
	if err := sched.Register(job, a.cfg.ECN.SweepCron); err != nil {
		return nil, nil, err
	}
	return sched, job, nil
}
