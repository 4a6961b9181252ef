package repository

import (
	"context"
	"errors"
	"time"

	"creditsystem/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SummaryRepository struct {
	db *gorm.DB
}

func NewSummaryRepository(db *gorm.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

func (r *SummaryRepository) GetByUserID(ctx context.Context, userID string) (*model.UserCreditSummary, error) {
	var summary model.UserCreditSummary
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSummaryNotFound
		}
		return nil, err
	}
	return &summary, nil
}

// GetByUserIDForUpdate 锁住用户汇总行，同一用户的写操作在这里串行
func (r *SummaryRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.UserCreditSummary, error) {
	var summary model.UserCreditSummary
	err := forUpdate(tx.WithContext(ctx)).
		Where("user_id = ?", userID).
		First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSummaryNotFound
		}
		return nil, err
	}
	return &summary, nil
}

// GetOrCreateForUpdate 首次购买或调账时懒创建全零汇总，再加锁读取
func (r *SummaryRepository) GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (*model.UserCreditSummary, error) {
	summary, err := r.GetByUserIDForUpdate(ctx, tx, userID)
	if err == nil {
		return summary, nil
	}
	if !errors.Is(err, ErrSummaryNotFound) {
		return nil, err
	}

	newSummary := &model.UserCreditSummary{
		UserID:           userID,
		TotalCredits:     decimal.Zero,
		UsedCredits:      decimal.Zero,
		AvailableCredits: decimal.Zero,
		ExpiredCredits:   decimal.Zero,
		LastUpdated:      now,
	}
	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newSummary).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserIDForUpdate(ctx, tx, userID)
}

// Save 写回汇总的四个桶，调用方必须已经持有该行的锁
func (r *SummaryRepository) Save(ctx context.Context, tx *gorm.DB, summary *model.UserCreditSummary) error {
	return tx.WithContext(ctx).
		Model(&model.UserCreditSummary{}).
		Where("id = ?", summary.ID).
		Updates(map[string]interface{}{
			"total_credits":     summary.TotalCredits,
			"used_credits":      summary.UsedCredits,
			"available_credits": summary.AvailableCredits,
			"expired_credits":   summary.ExpiredCredits,
			"last_updated":      summary.LastUpdated,
		}).Error
}
