package repository

import (
	"context"
	"errors"

	"creditsystem/internal/model"

	"gorm.io/gorm"
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.PurchaseTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetByPaymentTransactionID 未找到时返回 nil, nil
func (r *PurchaseRepository) GetByPaymentTransactionID(ctx context.Context, tx *gorm.DB, paymentTransactionID string) (*model.PurchaseTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.PurchaseTransaction
	err := tx.WithContext(ctx).Where("payment_transaction_id = ?", paymentTransactionID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *PurchaseRepository) CountByPackageID(ctx context.Context, tx *gorm.DB, packageID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.PurchaseTransaction{}).
		Where("package_id = ?", packageID).
		Count(&count).Error
	return count, err
}

// ListByUserID 按购买时间倒序分页
func (r *PurchaseRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.PurchaseTransaction, int64, error) {
	var transactions []*model.PurchaseTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PurchaseTransaction{}).Where("user_id = ?", userID).Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("purchase_date DESC").
		Order("id DESC").
		Scopes(paginate(page, pageSize)).
		Find(&transactions).Error

	return transactions, total, err
}
