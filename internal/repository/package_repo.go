package repository

import (
	"context"
	"errors"

	"creditsystem/internal/model"

	"gorm.io/gorm"
)

type PackageRepository struct {
	db *gorm.DB
}

func NewPackageRepository(db *gorm.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) Create(ctx context.Context, pkg *model.CreditPackage) error {
	return r.db.WithContext(ctx).Create(pkg).Error
}

func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*model.CreditPackage, error) {
	var pkg model.CreditPackage
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

// GetActiveByID 在购买事务中读取上架中的套餐，持共享锁直到提交，删除需等待购买完成
func (r *PackageRepository) GetActiveByID(ctx context.Context, tx *gorm.DB, id int64) (*model.CreditPackage, error) {
	if tx == nil {
		tx = r.db
	}
	var pkg model.CreditPackage
	err := forShare(tx.WithContext(ctx)).Where("id = ? AND is_active = ?", id, true).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

// GetByIDForUpdate 删除前锁定套餐行
func (r *PackageRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.CreditPackage, error) {
	var pkg model.CreditPackage
	err := forUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

// ListActive 上架套餐，按价格升序
func (r *PackageRepository) ListActive(ctx context.Context) ([]*model.CreditPackage, error) {
	var pkgs []*model.CreditPackage
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price ASC").
		Order("id ASC").
		Find(&pkgs).Error
	return pkgs, err
}

// Update 覆盖可编辑字段；MySQL 在值未变化时 RowsAffected 为 0，存在性由调用方先行确认
func (r *PackageRepository) Update(ctx context.Context, pkg *model.CreditPackage) error {
	return r.db.WithContext(ctx).
		Model(&model.CreditPackage{}).
		Where("id = ?", pkg.ID).
		Updates(map[string]interface{}{
			"name":          pkg.Name,
			"credits":       pkg.Credits,
			"price":         pkg.Price,
			"validity_days": pkg.ValidityDays,
			"is_active":     pkg.IsActive,
			"description":   pkg.Description,
		}).Error
}

func (r *PackageRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).Where("id = ?", id).Delete(&model.CreditPackage{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPackageNotFound
	}
	return nil
}
