package repository

import (
	"context"
	"errors"
	"time"

	"creditsystem/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// ListConsumableForUpdate 取出用户还有剩余容量的 PURCHASE 条目并加锁，即 FIFO 扣减队列
//
// 排序：先过期的先用（expires_at 升序，无过期时间的排最后），再按入账时间和主键
// 调用方必须先锁住用户汇总行，保证锁顺序一致（汇总 -> 条目）
func (r *LedgerRepository) ListConsumableForUpdate(ctx context.Context, tx *gorm.DB, userID string) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := forUpdate(tx.WithContext(ctx)).
		Where("user_id = ? AND type = ? AND is_expired = ? AND debit > credit",
			userID, model.LedgerTypePurchase, false).
		Order("expires_at IS NULL").
		Order("expires_at ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// UpdateCredit 写回 PURCHASE 条目已消耗的积分
func (r *LedgerRepository) UpdateCredit(ctx context.Context, tx *gorm.DB, id int64, credit decimal.Decimal) error {
	return tx.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("id = ?", id).
		Update("credit", credit).Error
}

// MarkExpired 只会把未过期的条目置为过期，重复执行无副作用
func (r *LedgerRepository) MarkExpired(ctx context.Context, tx *gorm.DB, id int64) error {
	return tx.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("id = ? AND is_expired = ?", id, false).
		Update("is_expired", true).Error
}

func (r *LedgerRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := forUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// ListExpirable 扫描到期未处理的条目，按主键游标分批
func (r *LedgerRepository) ListExpirable(ctx context.Context, now time.Time, afterID int64, limit int) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("is_expired = ? AND expires_at IS NOT NULL AND expires_at <= ? AND id > ?", false, now, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// SumExpiringBefore 统计 until 之前到期、尚未被过期扫描处理的剩余积分
func (r *LedgerRepository) SumExpiringBefore(ctx context.Context, userID string, until time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("COALESCE(SUM(debit - credit), 0)").
		Where("user_id = ? AND type = ? AND is_expired = ? AND debit > credit", userID, model.LedgerTypePurchase, false).
		Where("expires_at IS NOT NULL AND expires_at <= ?", until).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Round(model.CreditScale), nil
}

// ListByUserID 按创建时间倒序分页
func (r *LedgerRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("user_id = ?", userID).Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Scopes(paginate(page, pageSize)).
		Find(&entries).Error

	return entries, total, err
}

// ListByUserAndType 不分页取用户某类全部条目，供测试和人工对账使用
func (r *LedgerRepository) ListByUserAndType(ctx context.Context, userID, entryType string) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, entryType).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}
