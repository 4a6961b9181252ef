package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/lock"
	"creditsystem/internal/metrics"
	"creditsystem/internal/model"
	"creditsystem/internal/repository"
	"creditsystem/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditService 积分记账引擎
//
// 购买、扣减、调账、过期都是一个原子工作单元：
//  1. 先拿用户锁（Redis 或进程内），同一用户的写操作串行，不同用户并行
//  2. 事务内 SELECT ... FOR UPDATE 锁汇总行，再锁 PURCHASE 条目，所有路径锁顺序一致
//  3. 账本条目、购买记录、汇总、消息表一起提交或一起回滚
type CreditService struct {
	db     *gorm.DB
	locker lock.UserLocker
	cfg    *config.Config
	log    *zap.Logger
	now    func() time.Time

	packageRepo  *repository.PackageRepository
	purchaseRepo *repository.PurchaseRepository
	ledgerRepo   *repository.LedgerRepository
	summaryRepo  *repository.SummaryRepository
	outboxRepo   *repository.OutboxRepository
}

type Option func(*CreditService)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *CreditService) {
		s.now = now
	}
}

func NewCreditService(db *gorm.DB, locker lock.UserLocker, cfg *config.Config, log *zap.Logger, opts ...Option) *CreditService {
	s := &CreditService{
		db:           db,
		locker:       locker,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
		packageRepo:  repository.NewPackageRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		summaryRepo:  repository.NewSummaryRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withUserTx 持有用户锁执行一个事务，非业务错误统一包装为 ErrTransient
func (s *CreditService) withUserTx(ctx context.Context, userID string, fn func(tx *gorm.DB) error) error {
	unlock, err := s.locker.LockUser(ctx, userID)
	if err != nil {
		return transient(fmt.Errorf("获取用户锁失败: %w", err))
	}
	defer unlock()

	return transient(s.db.WithContext(ctx).Transaction(fn))
}

func (s *CreditService) publish(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry, amount decimal.Decimal) error {
	event := &model.CreditEvent{
		EventKey:    idgen.GenerateEventKey(),
		Type:        entry.Type,
		UserID:      entry.UserID,
		EntryNo:     entry.EntryNo,
		ReferenceID: entry.ReferenceID,
		Amount:      amount,
		Balance:     entry.Balance,
		OccurredAt:  entry.CreatedAt,
	}
	if err := s.outboxRepo.CreateEvent(ctx, tx, s.cfg.Kafka.Topic.CreditEvents, event); err != nil {
		return fmt.Errorf("写入积分事件失败: %w", err)
	}
	return nil
}

func copyMetadata(src map[string]interface{}, extra int) datatypes.JSONMap {
	dst := make(datatypes.JSONMap, len(src)+extra)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ============================================================
// 购买
// ============================================================

type PurchaseRequest struct {
	UserID               string
	PackageID            int64
	PaymentMethod        string // 为空时记为默认支付方式
	PaymentTransactionID string // 支付网关流水号，透传不校验
	Metadata             map[string]interface{}
}

type PurchaseResult struct {
	Transaction  *model.PurchaseTransaction `json:"transaction"`
	CreditsAdded decimal.Decimal            `json:"credits_added"`
	NewBalance   decimal.Decimal            `json:"new_balance"`
	ExpiresAt    time.Time                  `json:"expires_at"`
	Duplicate    bool                       `json:"duplicate,omitempty"` // 相同支付流水号的重复请求，未再次入账
}

// Purchase 购买积分套餐
func (s *CreditService) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrInvalidUser
	}

	var result *PurchaseResult
	err := s.withUserTx(ctx, req.UserID, func(tx *gorm.DB) error {
		// 锁顺序：先汇总行
		summary, err := s.summaryRepo.GetOrCreateForUpdate(ctx, tx, req.UserID, s.now())
		if err != nil {
			return fmt.Errorf("获取积分汇总失败: %w", err)
		}

		if req.PaymentTransactionID != "" {
			existing, err := s.purchaseRepo.GetByPaymentTransactionID(ctx, tx, req.PaymentTransactionID)
			if err != nil {
				return fmt.Errorf("查询购买记录失败: %w", err)
			}
			if existing != nil {
				if existing.UserID != req.UserID {
					return ErrDuplicatePayment
				}
				result = &PurchaseResult{
					Transaction:  existing,
					CreditsAdded: decimal.Zero,
					NewBalance:   summary.AvailableCredits,
					ExpiresAt:    existing.ExpiresAt,
					Duplicate:    true,
				}
				return nil
			}
		}

		pkg, err := s.packageRepo.GetActiveByID(ctx, tx, req.PackageID)
		if err != nil {
			if errors.Is(err, repository.ErrPackageNotFound) {
				return ErrPackageNotFound
			}
			return fmt.Errorf("查询积分套餐失败: %w", err)
		}

		now := s.now()
		expiresAt := now.AddDate(0, 0, pkg.ValidityDays)
		credits := decimal.NewFromInt(pkg.Credits)

		paymentMethod := req.PaymentMethod
		if paymentMethod == "" {
			paymentMethod = s.cfg.Business.DefaultPaymentMethod
		}
		trans := &model.PurchaseTransaction{
			TransactionNo:    idgen.GenerateTransactionNo(),
			UserID:           req.UserID,
			PackageID:        pkg.ID,
			PackageName:      pkg.Name,
			CreditsPurchased: pkg.Credits,
			Amount:           pkg.Price,
			Status:           model.PurchaseStatusCompleted,
			PaymentMethod:    paymentMethod,
			PurchaseDate:     now,
			ExpiresAt:        expiresAt,
		}
		if len(req.Metadata) > 0 {
			trans.Metadata = copyMetadata(req.Metadata, 0)
		}
		if req.PaymentTransactionID != "" {
			pid := req.PaymentTransactionID
			trans.PaymentTransactionID = &pid
		}
		if err := s.purchaseRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("创建购买记录失败: %w", err)
		}

		newBalance := summary.AvailableCredits.Add(credits)
		entry := &model.LedgerEntry{
			EntryNo:     idgen.GenerateEntryNo(),
			UserID:      req.UserID,
			Type:        model.LedgerTypePurchase,
			Debit:       credits,
			Credit:      decimal.Zero,
			Balance:     newBalance,
			Description: fmt.Sprintf("购买积分套餐 %s", pkg.Name),
			Metadata: datatypes.JSONMap{
				"packageId":     pkg.ID,
				"packageName":   pkg.Name,
				"transactionNo": trans.TransactionNo,
			},
			ReferenceID: trans.TransactionNo,
			CreatedAt:   now,
			ExpiresAt:   &expiresAt,
		}
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录账本失败: %w", err)
		}

		summary.TotalCredits = summary.TotalCredits.Add(credits)
		summary.AvailableCredits = newBalance
		summary.LastUpdated = now
		if err := s.summaryRepo.Save(ctx, tx, summary); err != nil {
			return fmt.Errorf("更新积分汇总失败: %w", err)
		}

		if err := s.publish(ctx, tx, entry, credits); err != nil {
			return err
		}

		result = &PurchaseResult{
			Transaction:  trans,
			CreditsAdded: credits,
			NewBalance:   newBalance,
			ExpiresAt:    expiresAt,
		}
		return nil
	})
	metrics.ObserveOperation("purchase", err)
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		s.log.Info("重复的购买请求，返回已有记录",
			zap.String("user_id", req.UserID),
			zap.String("transaction_no", result.Transaction.TransactionNo),
		)
		return result, nil
	}

	metrics.CreditAmount.WithLabelValues(model.LedgerTypePurchase).Add(result.CreditsAdded.InexactFloat64())
	s.log.Info("积分购买成功",
		zap.String("user_id", req.UserID),
		zap.Int64("package_id", req.PackageID),
		zap.String("transaction_no", result.Transaction.TransactionNo),
		zap.String("credits", result.CreditsAdded.String()),
		zap.String("new_balance", result.NewBalance.String()),
	)
	return result, nil
}

// ============================================================
// 扣减（FIFO）
// ============================================================

// Deduct 按 FIFO 扣减积分，要么全额扣减要么不扣
//
// 先过期的 PURCHASE 条目先用，避免用户白白损失快到期的积分。
// 返回本次写入的 USAGE 条目，Metadata.usedLedgerIds 记录被消耗的条目号。
func (s *CreditService) Deduct(ctx context.Context, userID string, amount decimal.Decimal, description string, metadata map[string]interface{}) (*model.LedgerEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	amount = amount.Round(model.CreditScale)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var usage *model.LedgerEntry
	err := s.withUserTx(ctx, userID, func(tx *gorm.DB) error {
		summary, err := s.summaryRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrSummaryNotFound) {
				return &InsufficientCreditsError{Requested: amount, Available: decimal.Zero}
			}
			return fmt.Errorf("获取积分汇总失败: %w", err)
		}
		if summary.AvailableCredits.LessThan(amount) {
			return &InsufficientCreditsError{Requested: amount, Available: summary.AvailableCredits}
		}

		entries, err := s.ledgerRepo.ListConsumableForUpdate(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("查询可用积分条目失败: %w", err)
		}

		remaining := amount
		usedLedgerIDs := make([]string, 0, len(entries))
		for _, entry := range entries {
			if !remaining.IsPositive() {
				break
			}
			capacity := entry.Remaining()
			if !capacity.IsPositive() {
				continue
			}
			take := decimal.Min(capacity, remaining)
			entry.Credit = entry.Credit.Add(take)
			if err := s.ledgerRepo.UpdateCredit(ctx, tx, entry.ID, entry.Credit); err != nil {
				return fmt.Errorf("更新积分条目失败: %w", err)
			}
			remaining = remaining.Sub(take)
			usedLedgerIDs = append(usedLedgerIDs, entry.EntryNo)
		}

		meta := copyMetadata(metadata, 2)
		meta["usedLedgerIds"] = usedLedgerIDs
		if remaining.IsPositive() {
			// 可用余额里有管理员调账加的积分，没有对应的 PURCHASE 条目
			meta["unbackedAmount"] = remaining.String()
		}

		now := s.now()
		newBalance := summary.AvailableCredits.Sub(amount)
		usage = &model.LedgerEntry{
			EntryNo:     idgen.GenerateEntryNo(),
			UserID:      userID,
			Type:        model.LedgerTypeUsage,
			Debit:       decimal.Zero,
			Credit:      amount,
			Balance:     newBalance,
			Description: description,
			Metadata:    meta,
			CreatedAt:   now,
		}
		if err := s.ledgerRepo.Create(ctx, tx, usage); err != nil {
			return fmt.Errorf("记录账本失败: %w", err)
		}

		summary.UsedCredits = summary.UsedCredits.Add(amount)
		summary.AvailableCredits = newBalance
		summary.LastUpdated = now
		if err := s.summaryRepo.Save(ctx, tx, summary); err != nil {
			return fmt.Errorf("更新积分汇总失败: %w", err)
		}

		return s.publish(ctx, tx, usage, amount)
	})
	metrics.ObserveOperation("deduct", err)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			s.log.Info("积分不足，拒绝扣减", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, err
	}

	metrics.CreditAmount.WithLabelValues(model.LedgerTypeUsage).Add(amount.InexactFloat64())
	s.log.Debug("积分扣减成功",
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("entry_no", usage.EntryNo),
		zap.String("new_balance", usage.Balance.String()),
	)
	return usage, nil
}

// ============================================================
// 管理员调账
// ============================================================

type AdjustRequest struct {
	UserID      string
	Amount      decimal.Decimal // 正数加，负数减，不能为0
	Description string
	Metadata    map[string]interface{}
}

type AdjustResult struct {
	Entry      *model.LedgerEntry `json:"entry"`
	Adjustment decimal.Decimal    `json:"adjustment"`
	NewBalance decimal.Decimal    `json:"new_balance"`
}

// Adjust 直接修正汇总，不经过 FIFO 条目
//
// 加积分计入 total；减积分计入 used，保证 total == used + available + expired。
// 默认拒绝把可用积分调成负数（business.allow_negative_balance 可放开）。
func (s *CreditService) Adjust(ctx context.Context, req *AdjustRequest) (*AdjustResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrInvalidUser
	}
	amount := req.Amount.Round(model.CreditScale)
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	var entry *model.LedgerEntry
	err := s.withUserTx(ctx, req.UserID, func(tx *gorm.DB) error {
		now := s.now()
		summary, err := s.summaryRepo.GetOrCreateForUpdate(ctx, tx, req.UserID, now)
		if err != nil {
			return fmt.Errorf("获取积分汇总失败: %w", err)
		}

		newBalance := summary.AvailableCredits.Add(amount)
		if newBalance.IsNegative() && !s.cfg.Business.AllowNegativeBalance {
			return fmt.Errorf("%w: 可用 %s, 调整 %s", ErrInvalidAdjustment,
				summary.AvailableCredits.StringFixed(2), amount.StringFixed(2))
		}

		entry = &model.LedgerEntry{
			EntryNo:     idgen.GenerateEntryNo(),
			UserID:      req.UserID,
			Type:        model.LedgerTypeAdminAdjustment,
			Debit:       decimal.Max(amount, decimal.Zero),
			Credit:      decimal.Max(amount.Neg(), decimal.Zero),
			Balance:     newBalance,
			Description: req.Description,
			Metadata:    copyMetadata(req.Metadata, 0),
			CreatedAt:   now,
		}
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录账本失败: %w", err)
		}

		if amount.IsPositive() {
			summary.TotalCredits = summary.TotalCredits.Add(amount)
		} else {
			summary.UsedCredits = summary.UsedCredits.Add(amount.Neg())
		}
		summary.AvailableCredits = newBalance
		summary.LastUpdated = now
		if err := s.summaryRepo.Save(ctx, tx, summary); err != nil {
			return fmt.Errorf("更新积分汇总失败: %w", err)
		}

		return s.publish(ctx, tx, entry, amount)
	})
	metrics.ObserveOperation("adjust", err)
	if err != nil {
		return nil, err
	}

	metrics.CreditAmount.WithLabelValues(model.LedgerTypeAdminAdjustment).Add(amount.Abs().InexactFloat64())
	s.log.Info("管理员调账成功",
		zap.String("user_id", req.UserID),
		zap.String("amount", amount.String()),
		zap.String("entry_no", entry.EntryNo),
		zap.String("new_balance", entry.Balance.String()),
	)
	return &AdjustResult{
		Entry:      entry,
		Adjustment: amount,
		NewBalance: entry.Balance,
	}, nil
}
