package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditsystem/internal/handler"
	"creditsystem/internal/infrastructure/database"
	"creditsystem/internal/infrastructure/mq"
	"creditsystem/internal/job"
	"creditsystem/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(migrateCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务和后台任务",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := setup(true)
	if err != nil {
		return err
	}
	defer rt.close()
	log := rt.log

	if err := database.AutoMigrate(rt.db); err != nil {
		return err
	}

	producer, err := mq.NewKafkaProducer(&rt.cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	credits := service.NewCreditService(rt.db, rt.userLocker(), rt.cfg, log)
	packages := service.NewPackageService(rt.db, rt.cfg, log)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(rt.db, producer, rt.cfg, log)
	go outboxSender.Start(ctx)

	expirationJob := job.NewCreditExpirationJob(credits, rt.sweepLock(), rt.cfg, log)
	go expirationJob.Start(ctx)

	router := handler.SetupRouter(handler.NewHandler(packages, credits, expirationJob, log), log)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务启动", zap.Int("port", rt.cfg.Server.Port), zap.String("lock_mode", rt.cfg.Business.LockMode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	log.Info("正在关闭服务...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("服务关闭异常", zap.Error(err))
	}

	log.Info("服务已关闭")
	return nil
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "执行一次积分过期扫描后退出",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	rt, err := setup(true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	credits := service.NewCreditService(rt.db, rt.userLocker(), rt.cfg, rt.log)
	expirationJob := job.NewCreditExpirationJob(credits, rt.sweepLock(), rt.cfg, rt.log)

	result, ran := expirationJob.RunOnce(ctx)
	if !ran {
		return errors.New("另一个过期扫描正在运行")
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d 个条目过期处理失败，将在下次扫描重试", result.Failed)
	}
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "创建或更新表结构",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(false)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := database.AutoMigrate(rt.db); err != nil {
			return err
		}
		rt.log.Info("表结构迁移完成")
		return nil
	},
}
