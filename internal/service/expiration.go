package service

import (
	"context"
	"fmt"
	"time"

	"creditsystem/internal/metrics"
	"creditsystem/internal/model"
	"creditsystem/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SweepResult 一次过期扫描的统计
type SweepResult struct {
	Scanned        int             `json:"scanned"`
	Expired        int             `json:"expired"` // 本次置为过期的条目数
	Skipped        int             `json:"skipped"` // 已被其他执行处理过
	Failed         int             `json:"failed"`  // 留到下次扫描重试
	CreditsExpired decimal.Decimal `json:"credits_expired"`
}

// RunExpirationSweep 清退所有到期 PURCHASE 条目的剩余积分
//
// 每个条目单独一个事务，中途失败只影响当前条目；IsExpired 控制不会重复清退，
// 重复执行是幂等的。这里不向调用方返回错误，失败只记录日志。
func (s *CreditService) RunExpirationSweep(ctx context.Context) *SweepResult {
	start := time.Now()
	now := s.now()
	result := &SweepResult{CreditsExpired: decimal.Zero}

	batchSize := s.cfg.Business.ExpirationBatchSize
	var afterID int64
	for {
		if ctx.Err() != nil {
			s.log.Warn("过期扫描被取消", zap.Error(ctx.Err()))
			break
		}

		entries, err := s.ledgerRepo.ListExpirable(ctx, now, afterID, batchSize)
		if err != nil {
			s.log.Error("查询到期积分条目失败", zap.Int64("after_id", afterID), zap.Error(err))
			break
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			afterID = entry.ID
			result.Scanned++

			retired, expired, err := s.expireEntry(ctx, entry.ID, entry.UserID)
			switch {
			case err != nil:
				result.Failed++
				metrics.ExpirationEntries.WithLabelValues(metrics.ResultError).Inc()
				s.log.Error("积分条目过期处理失败",
					zap.String("user_id", entry.UserID),
					zap.String("entry_no", entry.EntryNo),
					zap.Error(err),
				)
			case !expired:
				result.Skipped++
				metrics.ExpirationEntries.WithLabelValues(metrics.ResultSkipped).Inc()
			default:
				result.Expired++
				result.CreditsExpired = result.CreditsExpired.Add(retired)
				metrics.ExpirationEntries.WithLabelValues(metrics.ResultSuccess).Inc()
			}
		}

		if len(entries) < batchSize {
			break
		}
	}

	metrics.ExpirationSweepDuration.Observe(time.Since(start).Seconds())
	if result.CreditsExpired.IsPositive() {
		metrics.CreditAmount.WithLabelValues(model.LedgerTypeExpiration).Add(result.CreditsExpired.InexactFloat64())
	}
	s.log.Info("过期扫描完成",
		zap.Int("scanned", result.Scanned),
		zap.Int("expired", result.Expired),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.String("credits_expired", result.CreditsExpired.String()),
		zap.Duration("cost", time.Since(start)),
	)
	return result
}

// expireEntry 在用户锁和事务内清退单个条目
// 返回清退的积分数，以及本次是否把条目置为过期
func (s *CreditService) expireEntry(ctx context.Context, entryID int64, userID string) (decimal.Decimal, bool, error) {
	retired := decimal.Zero
	expired := false

	err := s.withUserTx(ctx, userID, func(tx *gorm.DB) error {
		now := s.now()
		// 锁顺序与扣减一致：先汇总行，再条目
		summary, err := s.summaryRepo.GetOrCreateForUpdate(ctx, tx, userID, now)
		if err != nil {
			return fmt.Errorf("获取积分汇总失败: %w", err)
		}
		entry, err := s.ledgerRepo.GetByIDForUpdate(ctx, tx, entryID)
		if err != nil {
			return fmt.Errorf("获取积分条目失败: %w", err)
		}
		if entry.IsExpired {
			return nil
		}

		remaining := entry.Remaining()
		if remaining.IsPositive() {
			// 负向调账已经占用的部分不再重复清退，可用余额不会被扣成负数
			retired = decimal.Min(remaining, decimal.Max(summary.AvailableCredits, decimal.Zero))
		}

		if retired.IsPositive() {
			newBalance := summary.AvailableCredits.Sub(retired)
			meta := datatypes.JSONMap{"expiredLedgerId": entry.EntryNo}
			if retired.LessThan(remaining) {
				meta["remaining"] = remaining.String()
			}
			expiration := &model.LedgerEntry{
				EntryNo:     idgen.GenerateEntryNo(),
				UserID:      userID,
				Type:        model.LedgerTypeExpiration,
				Debit:       decimal.Zero,
				Credit:      retired,
				Balance:     newBalance,
				Description: fmt.Sprintf("积分过期 %s", entry.EntryNo),
				Metadata:    meta,
				ReferenceID: entry.EntryNo,
				CreatedAt:   now,
			}
			if err := s.ledgerRepo.Create(ctx, tx, expiration); err != nil {
				return fmt.Errorf("记录账本失败: %w", err)
			}

			summary.ExpiredCredits = summary.ExpiredCredits.Add(retired)
			summary.AvailableCredits = newBalance
			summary.LastUpdated = now
			if err := s.summaryRepo.Save(ctx, tx, summary); err != nil {
				return fmt.Errorf("更新积分汇总失败: %w", err)
			}
			if err := s.publish(ctx, tx, expiration, retired); err != nil {
				return err
			}
		}

		if err := s.ledgerRepo.MarkExpired(ctx, tx, entry.ID); err != nil {
			return fmt.Errorf("标记条目过期失败: %w", err)
		}
		expired = true
		return nil
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	return retired, expired, nil
}
