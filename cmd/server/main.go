package main

import (
	"fmt"
	"os"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/cache"
	"creditsystem/internal/infrastructure/database"
	"creditsystem/internal/infrastructure/lock"
	"creditsystem/internal/logger"
	"creditsystem/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "creditsystem",
	Short:         "积分账本服务",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "配置文件路径")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app 各子命令共用的基础设施
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
	rdb *redis.Client // lock_mode=local 时为 nil
}

func setup(withRedis bool) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return nil, err
	}

	db, err := database.InitMySQL(&cfg.MySQL, log)
	if err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg, log: log, db: db}
	if withRedis && cfg.Business.LockMode == config.LockModeRedis {
		rt.rdb, err = cache.InitRedis(&cfg.Redis, log)
		if err != nil {
			rt.close()
			return nil, err
		}
	}
	return rt, nil
}

// userLocker 多实例用 Redis 锁，单实例用进程内锁
func (rt *app) userLocker() lock.UserLocker {
	if rt.rdb != nil {
		b := rt.cfg.Business
		return lock.NewRedisUserLocker(rt.rdb, b.LockTTL, b.LockRetryInterval, b.LockMaxRetries)
	}
	return lock.NewLocalUserLocker()
}

func (rt *app) sweepLock() *lock.DistributedLock {
	if rt.rdb == nil {
		return nil
	}
	return lock.NewSweepLock(rt.rdb, rt.cfg.Business.SweepLockTTL)
}

func (rt *app) close() {
	if rt.rdb != nil {
		_ = rt.rdb.Close()
	}
	if sqlDB, err := rt.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = rt.log.Sync()
}
