package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"creditsystem/internal/model"
	"creditsystem/internal/repository"

	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Balance 用户积分余额
type Balance struct {
	Total               decimal.Decimal `json:"total"`
	Used                decimal.Decimal `json:"used"`
	Available           decimal.Decimal `json:"available"`
	Expired             decimal.Decimal `json:"expired"`
	CreditsExpiringSoon decimal.Decimal `json:"credits_expiring_soon"`
}

type PageMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

type Page[T any] struct {
	Data []T      `json:"data"`
	Meta PageMeta `json:"meta"`
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func newPage[T any](data []T, page, limit int, total int64) *Page[T] {
	if data == nil {
		data = []T{}
	}
	return &Page[T]{
		Data: data,
		Meta: PageMeta{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: int((total + int64(limit) - 1) / int64(limit)),
		},
	}
}

// GetBalance 查询余额，没有汇总行的用户返回全 0
// CreditsExpiringSoon 每次实时计算，包含已到期但还没被扫描处理的积分
func (s *CreditService) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}

	summary, err := s.summaryRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSummaryNotFound) {
			return &Balance{
				Total:               decimal.Zero,
				Used:                decimal.Zero,
				Available:           decimal.Zero,
				Expired:             decimal.Zero,
				CreditsExpiringSoon: decimal.Zero,
			}, nil
		}
		return nil, transient(fmt.Errorf("查询积分汇总失败: %w", err))
	}

	until := s.now().AddDate(0, 0, s.cfg.Business.ExpiringSoonDays)
	expiringSoon, err := s.ledgerRepo.SumExpiringBefore(ctx, userID, until)
	if err != nil {
		return nil, transient(fmt.Errorf("统计即将过期积分失败: %w", err))
	}

	return &Balance{
		Total:               summary.TotalCredits,
		Used:                summary.UsedCredits,
		Available:           summary.AvailableCredits,
		Expired:             summary.ExpiredCredits,
		CreditsExpiringSoon: expiringSoon,
	}, nil
}

// ListLedger 账本流水，最新的在前
func (s *CreditService) ListLedger(ctx context.Context, userID string, page, limit int) (*Page[*model.LedgerEntry], error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	page, limit = normalizePage(page, limit)

	entries, total, err := s.ledgerRepo.ListByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, transient(fmt.Errorf("查询账本失败: %w", err))
	}
	return newPage(entries, page, limit, total), nil
}

// ListTransactions 购买记录，按购买时间倒序
func (s *CreditService) ListTransactions(ctx context.Context, userID string, page, limit int) (*Page[*model.PurchaseTransaction], error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	page, limit = normalizePage(page, limit)

	trans, total, err := s.purchaseRepo.ListByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, transient(fmt.Errorf("查询购买记录失败: %w", err))
	}
	return newPage(trans, page, limit, total), nil
}
