package job

import (
	"context"
	"sync/atomic"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/lock"
	"creditsystem/internal/service"

	"go.uber.org/zap"
)

// Sweeper 由 service.CreditService 实现
type Sweeper interface {
	RunExpirationSweep(ctx context.Context) *service.SweepResult
}

// CreditExpirationJob 定时触发积分过期扫描
// 上一次扫描还没结束时直接跳过本次，不会重叠执行
type CreditExpirationJob struct {
	sweeper   Sweeper
	sweepLock *lock.DistributedLock // 多实例部署时的全局锁，单实例为 nil
	log       *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	running   atomic.Bool
}

func NewCreditExpirationJob(sweeper Sweeper, sweepLock *lock.DistributedLock, cfg *config.Config, log *zap.Logger) *CreditExpirationJob {
	return &CreditExpirationJob{
		sweeper:   sweeper,
		sweepLock: sweepLock,
		log:       log.Named("credit_expiration"),
		stopCh:    make(chan struct{}),
		interval:  cfg.Business.ExpirationInterval,
	}
}

func (j *CreditExpirationJob) Start(ctx context.Context) {
	j.log.Info("积分过期任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *CreditExpirationJob) Stop() {
	close(j.stopCh)
}

// RunOnce 执行一次扫描；已有扫描在运行时返回 false
func (j *CreditExpirationJob) RunOnce(ctx context.Context) (*service.SweepResult, bool) {
	if !j.running.CompareAndSwap(false, true) {
		j.log.Info("上一次过期扫描仍在运行，跳过")
		return nil, false
	}
	defer j.running.Store(false)

	if j.sweepLock != nil {
		ok, err := j.sweepLock.TryLock(ctx)
		if err != nil {
			j.log.Error("获取过期扫描锁失败", zap.Error(err))
			return nil, false
		}
		if !ok {
			j.log.Info("其他实例正在执行过期扫描，跳过")
			return nil, false
		}
		defer func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := j.sweepLock.Unlock(unlockCtx); err != nil {
				j.log.Warn("释放过期扫描锁失败", zap.Error(err))
			}
		}()
	}

	return j.sweeper.RunExpirationSweep(ctx), true
}
