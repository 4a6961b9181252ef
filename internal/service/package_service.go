package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"creditsystem/internal/config"
	"creditsystem/internal/model"
	"creditsystem/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PackageService 积分套餐目录
type PackageService struct {
	db           *gorm.DB
	packageRepo  *repository.PackageRepository
	purchaseRepo *repository.PurchaseRepository
	cfg          *config.Config
	log          *zap.Logger
}

func NewPackageService(db *gorm.DB, cfg *config.Config, log *zap.Logger) *PackageService {
	return &PackageService{
		db:           db,
		packageRepo:  repository.NewPackageRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
		cfg:          cfg,
		log:          log,
	}
}

type CreatePackageRequest struct {
	Name         string
	Credits      int64
	Price        decimal.Decimal
	ValidityDays int   // 0 表示使用默认有效期
	IsActive     *bool // nil 表示上架
	Description  string
}

// UpdatePackageRequest 只修改非 nil 的字段
type UpdatePackageRequest struct {
	Name         *string
	Credits      *int64
	Price        *decimal.Decimal
	ValidityDays *int
	IsActive     *bool
	Description  *string
}

func validatePackage(pkg *model.CreditPackage) error {
	switch {
	case strings.TrimSpace(pkg.Name) == "":
		return fmt.Errorf("%w: 名称不能为空", ErrInvalidPackage)
	case pkg.Credits < 1:
		return fmt.Errorf("%w: 积分数至少为1", ErrInvalidPackage)
	case pkg.Price.IsNegative():
		return fmt.Errorf("%w: 价格不能为负", ErrInvalidPackage)
	case pkg.ValidityDays < 1:
		return fmt.Errorf("%w: 有效期至少为1天", ErrInvalidPackage)
	}
	return nil
}

func (s *PackageService) CreatePackage(ctx context.Context, req *CreatePackageRequest) (*model.CreditPackage, error) {
	pkg := &model.CreditPackage{
		Name:         strings.TrimSpace(req.Name),
		Credits:      req.Credits,
		Price:        req.Price.Round(model.CreditScale),
		ValidityDays: req.ValidityDays,
		IsActive:     true,
		Description:  req.Description,
	}
	if pkg.ValidityDays == 0 {
		pkg.ValidityDays = s.cfg.Business.DefaultValidityDays
	}
	if req.IsActive != nil {
		pkg.IsActive = *req.IsActive
	}
	if err := validatePackage(pkg); err != nil {
		return nil, err
	}

	if err := s.packageRepo.Create(ctx, pkg); err != nil {
		return nil, transient(err)
	}

	s.log.Info("积分套餐已创建",
		zap.Int64("package_id", pkg.ID),
		zap.String("name", pkg.Name),
		zap.Int64("credits", pkg.Credits),
	)
	return pkg, nil
}

// ListActivePackages 上架套餐，价格升序
func (s *PackageService) ListActivePackages(ctx context.Context) ([]*model.CreditPackage, error) {
	pkgs, err := s.packageRepo.ListActive(ctx)
	if err != nil {
		return nil, transient(err)
	}
	return pkgs, nil
}

func (s *PackageService) GetPackage(ctx context.Context, id int64) (*model.CreditPackage, error) {
	pkg, err := s.packageRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPackageNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, transient(err)
	}
	return pkg, nil
}

// UpdatePackage 只影响之后的购买，历史购买记录保存了当时的积分和金额
func (s *PackageService) UpdatePackage(ctx context.Context, id int64, req *UpdatePackageRequest) (*model.CreditPackage, error) {
	pkg, err := s.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		pkg.Name = strings.TrimSpace(*req.Name)
	}
	if req.Credits != nil {
		pkg.Credits = *req.Credits
	}
	if req.Price != nil {
		pkg.Price = req.Price.Round(model.CreditScale)
	}
	if req.ValidityDays != nil {
		pkg.ValidityDays = *req.ValidityDays
	}
	if req.IsActive != nil {
		pkg.IsActive = *req.IsActive
	}
	if req.Description != nil {
		pkg.Description = *req.Description
	}
	if err := validatePackage(pkg); err != nil {
		return nil, err
	}

	if err := s.packageRepo.Update(ctx, pkg); err != nil {
		return nil, transient(err)
	}
	return s.GetPackage(ctx, id)
}

// DeletePackage 物理删除；已被购买引用的套餐拒绝删除，应改为下架
// 套餐行加排他锁后再统计引用，购买事务对套餐持共享锁，两者互斥
func (s *PackageService) DeletePackage(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.packageRepo.GetByIDForUpdate(ctx, tx, id); err != nil {
			return err
		}

		count, err := s.purchaseRepo.CountByPackageID(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("统计套餐购买记录失败: %w", err)
		}
		if count > 0 {
			return ErrPackageInUse
		}

		return s.packageRepo.Delete(ctx, tx, id)
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrPackageNotFound):
		return ErrPackageNotFound
	case errors.Is(err, ErrPackageInUse):
		return err
	default:
		return transient(err)
	}

	s.log.Info("积分套餐已删除", zap.Int64("package_id", id))
	return nil
}
