package handler

import (
	"context"
	"errors"
	"strconv"

	"creditsystem/internal/service"
	"creditsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExpirationRunner 手动触发过期扫描，由 job.CreditExpirationJob 实现
type ExpirationRunner interface {
	RunOnce(ctx context.Context) (*service.SweepResult, bool)
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	packageService *service.PackageService
	creditService  *service.CreditService
	expiration     ExpirationRunner
	log            *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(packages *service.PackageService, credits *service.CreditService, expiration ExpirationRunner, log *zap.Logger) *Handler {
	return &Handler{
		packageService: packages,
		creditService:  credits,
		expiration:     expiration,
		log:            log,
	}
}

// writeError 业务错误映射为响应码，临时故障不向外暴露原因
func (h *Handler) writeError(c *gin.Context, err error) {
	var insufficient *service.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		response.ErrorWithData(c, response.CodeInsufficientCredits, service.ErrInsufficientCredits.Error(), gin.H{
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.Is(err, service.ErrInsufficientCredits):
		response.BusinessError(c, response.CodeInsufficientCredits, err.Error())
	case errors.Is(err, service.ErrPackageNotFound):
		response.BusinessError(c, response.CodePackageNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidPackage):
		response.BusinessError(c, response.CodeInvalidPackage, err.Error())
	case errors.Is(err, service.ErrPackageInUse):
		response.BusinessError(c, response.CodePackageInUse, err.Error())
	case errors.Is(err, service.ErrInvalidAmount):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrInvalidAdjustment):
		response.BusinessError(c, response.CodeInvalidAdjustment, err.Error())
	case errors.Is(err, service.ErrDuplicatePayment):
		response.BusinessError(c, response.CodeDuplicatePayment, err.Error())
	case errors.Is(err, service.ErrInvalidUser):
		response.BusinessError(c, response.CodeInvalidUser, err.Error())
	case errors.Is(err, service.ErrTransient):
		h.log.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		response.BusinessError(c, response.CodeTransient, service.ErrTransient.Error())
	default:
		h.log.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "服务器内部错误")
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "id 参数错误")
		return 0, false
	}
	return id, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	return page, limit
}

// ============================================================
// 积分套餐
// ============================================================

// ListPackages 上架套餐列表
// GET /api/v1/credits/packages
func (h *Handler) ListPackages(c *gin.Context) {
	pkgs, err := h.packageService.ListActivePackages(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, pkgs)
}

// GetPackage 套餐详情
// GET /api/v1/credits/packages/:id
func (h *Handler) GetPackage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	pkg, err := h.packageService.GetPackage(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, pkg)
}

type CreatePackageRequest struct {
	Name         string          `json:"name" binding:"required"`
	Credits      int64           `json:"credits" binding:"required,gt=0"`
	Price        decimal.Decimal `json:"price"`
	ValidityDays int             `json:"validity_days"`
	IsActive     *bool           `json:"is_active"`
	Description  string          `json:"description"`
}

// CreatePackage 创建套餐
// POST /api/v1/admin/credits/packages
func (h *Handler) CreatePackage(c *gin.Context) {
	var req CreatePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	pkg, err := h.packageService.CreatePackage(c.Request.Context(), &service.CreatePackageRequest{
		Name:         req.Name,
		Credits:      req.Credits,
		Price:        req.Price,
		ValidityDays: req.ValidityDays,
		IsActive:     req.IsActive,
		Description:  req.Description,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, pkg)
}

type UpdatePackageRequest struct {
	Name         *string          `json:"name"`
	Credits      *int64           `json:"credits"`
	Price        *decimal.Decimal `json:"price"`
	ValidityDays *int             `json:"validity_days"`
	IsActive     *bool            `json:"is_active"`
	Description  *string          `json:"description"`
}

// UpdatePackage 修改套餐，只影响之后的购买
// PUT /api/v1/admin/credits/packages/:id
func (h *Handler) UpdatePackage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdatePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	pkg, err := h.packageService.UpdatePackage(c.Request.Context(), id, &service.UpdatePackageRequest{
		Name:         req.Name,
		Credits:      req.Credits,
		Price:        req.Price,
		ValidityDays: req.ValidityDays,
		IsActive:     req.IsActive,
		Description:  req.Description,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, pkg)
}

// DeletePackage 删除套餐
// DELETE /api/v1/admin/credits/packages/:id
func (h *Handler) DeletePackage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.packageService.DeletePackage(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "套餐已删除"})
}

// ============================================================
// 购买与扣减
// ============================================================

type PurchaseRequest struct {
	PackageID            int64                  `json:"package_id" binding:"required,gt=0"`
	PaymentMethod        string                 `json:"payment_method"`
	PaymentTransactionID string                 `json:"payment_transaction_id"` // 相同流水号重复提交只入账一次
	Metadata             map[string]interface{} `json:"metadata"`
}

// Purchase 购买积分套餐
// POST /api/v1/credits/purchase
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.creditService.Purchase(c.Request.Context(), &service.PurchaseRequest{
		UserID:               currentUserID(c),
		PackageID:            req.PackageID,
		PaymentMethod:        req.PaymentMethod,
		PaymentTransactionID: req.PaymentTransactionID,
		Metadata:             req.Metadata,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

type DeductRequest struct {
	Amount      decimal.Decimal        `json:"amount"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Deduct 按 FIFO 扣减积分
// POST /api/v1/credits/deduct
func (h *Handler) Deduct(c *gin.Context) {
	var req DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	entry, err := h.creditService.Deduct(c.Request.Context(), currentUserID(c), req.Amount, req.Description, req.Metadata)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"entry_no":    entry.EntryNo,
		"amount":      entry.Credit,
		"new_balance": entry.Balance,
	})
}

// ============================================================
// 查询
// ============================================================

// GetBalance 查询余额
// GET /api/v1/credits/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.creditService.GetBalance(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, balance)
}

// ListLedger 账本流水
// GET /api/v1/credits/ledger?page=1&limit=10
func (h *Handler) ListLedger(c *gin.Context) {
	page, limit := pageParams(c)
	result, err := h.creditService.ListLedger(c.Request.Context(), currentUserID(c), page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ListTransactions 购买记录
// GET /api/v1/credits/transactions?page=1&limit=10
func (h *Handler) ListTransactions(c *gin.Context) {
	page, limit := pageParams(c)
	result, err := h.creditService.ListTransactions(c.Request.Context(), currentUserID(c), page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 管理操作
// ============================================================

type AdjustRequest struct {
	UserID      string                 `json:"user_id" binding:"required"`
	Amount      decimal.Decimal        `json:"amount"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Adjust 管理员调账
// POST /api/v1/admin/credits/adjust
func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.creditService.Adjust(c.Request.Context(), &service.AdjustRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// RunExpiration 手动触发一次过期扫描，已有扫描在运行时直接返回
// POST /api/v1/admin/credits/expire
func (h *Handler) RunExpiration(c *gin.Context) {
	result, ran := h.expiration.RunOnce(c.Request.Context())
	if !ran {
		response.BusinessError(c, response.CodeSweepRunning, "过期扫描正在运行")
		return
	}
	response.Success(c, result)
}
