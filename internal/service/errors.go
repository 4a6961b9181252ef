package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// 业务错误，原样返回给调用方，不自动重试
var (
	ErrInvalidUser         = errors.New("用户ID不能为空")
	ErrPackageNotFound     = errors.New("积分套餐不存在或已下架")
	ErrInvalidPackage      = errors.New("积分套餐参数不合法")
	ErrPackageInUse        = errors.New("积分套餐已有购买记录，只能下架不能删除")
	ErrDuplicatePayment    = errors.New("支付流水号已被其他用户使用")
	ErrInvalidAmount       = errors.New("积分数量必须大于0")
	ErrInsufficientCredits = errors.New("积分不足")
	ErrInvalidAdjustment   = errors.New("调账后可用积分不能为负")
)

// ErrTransient 锁超时、连接中断、提交失败等临时故障，整个操作可以重试
// 已经提交的购买不要盲目重试，用 paymentTransactionId 去重
var ErrTransient = errors.New("系统繁忙，请稍后重试")

// InsufficientCreditsError 携带请求量和可用量，errors.Is(err, ErrInsufficientCredits) 成立
type InsufficientCreditsError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("积分不足: 可用 %s, 需要 %s", e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

var domainErrors = []error{
	ErrInvalidUser,
	ErrPackageNotFound,
	ErrInvalidPackage,
	ErrPackageInUse,
	ErrDuplicatePayment,
	ErrInvalidAmount,
	ErrInsufficientCredits,
	ErrInvalidAdjustment,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// transient 把非业务错误包装成 ErrTransient，保留原始原因
func transient(err error) error {
	if err == nil || isDomainError(err) || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
