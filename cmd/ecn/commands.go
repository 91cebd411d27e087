package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/handler"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/scheduler"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/seed"
	"github.com/bitfantasy/nimo-ecn/internal/middleware"
)

func newServeCommand() *cobra.Command {
	var (
		migrate  bool
		withSeed bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务和逾期扫描",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if migrate {
				if err := a.migrate(); err != nil {
					return err
				}
			}
			svcs, err := a.buildServices()
			if err != nil {
				return err
			}
			defer svcs.close(a.logger)

			if withSeed {
				if err := a.seed(ctx, svcs, a.cfg.ECN.ChangeTypesFile); err != nil {
					return err
				}
			}
			return a.serve(ctx, svcs)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "启动前自动迁移表结构")
	cmd.Flags().BoolVar(&withSeed, "seed", false, "启动前导入变更类型配置")
	return cmd
}

func (a *app) serve(ctx context.Context, svcs *services) error {
	cfg := a.cfg
	a.logger.Info("Starting nimo-ecn service",
		zap.String("version", handler.Version),
		zap.String("build_time", handler.BuildTime),
		zap.Int("port", cfg.Server.Port),
	)

	if cfg.ECN.SweepEnabled {
		sched, _, err := a.newScheduler(svcs)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.CORS())
	router.Use(middleware.Metrics())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/sse"})))

	h := handler.NewHandlers(svcs.ecn, svcs.analyzer, svcs.sweeper, svcs.hub, a.logger)
	handler.RegisterRoutes(router, h, cfg.JWT.Secret, a.ready)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("Server exited")
	return nil
}

// ready 数据库和 redis 均可用时才接收流量
func (a *app) ready(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func newSweepCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "执行逾期扫描",
		Long: `执行逾期扫描。

默认按 ecn.sweep_cron 常驻调度，直到收到退出信号；--once 只执行一次后退出。
多实例部署时通过 redis 锁保证同一时刻只有一个实例在扫描。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			svcs, err := a.buildServices()
			if err != nil {
				return err
			}
			defer svcs.close(a.logger)

			sched, job, err := a.newScheduler(svcs)
			if err != nil {
				return err
			}
			if once {
				status := sched.Execute(job)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", job.Name(), status)
				if status == scheduler.StatusFailed {
					return fmt.Errorf("%s failed", job.Name())
				}
				return nil
			}

			sched.Start()
			<-ctx.Done()
			sched.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "只执行一次")
	return cmd
}

func newSeedCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "导入变更类型和审批矩阵",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if file == "" {
				file = a.cfg.ECN.ChangeTypesFile
			}
			svcs, err := a.buildServices()
			if err != nil {
				return err
			}
			defer svcs.close(a.logger)
			return a.seed(cmd.Context(), svcs, file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "变更类型配置文件，默认取 ecn.change_types_file")
	return cmd
}

func (a *app) seed(ctx context.Context, svcs *services, file string) error {
	f, err := seed.LoadFile(file)
	if err != nil {
		return err
	}
	if _, err := seed.NewLoader(svcs.repos, a.logger).Apply(ctx, f); err != nil {
		return fmt.Errorf("seed %s: %w", file, err)
	}
	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "迁移数据库表结构",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}
