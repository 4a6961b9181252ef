package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGetBalanceWithoutSummary(t *testing.T) {
	env := newTestEnv(t)
	bal, err := env.credits.GetBalance(context.Background(), "new-user")
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	for name, v := range map[string]string{
		"Total": bal.Total.String(), "Used": bal.Used.String(), "Available": bal.Available.String(),
		"Expired": bal.Expired.String(), "ExpiringSoon": bal.CreditsExpiringSoon.String(),
	} {
		if v != "0" {
			t.Errorf("%s = %s, want 0", name, v)
		}
	}

	if _, err := env.credits.GetBalance(context.Background(), ""); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("GetBalance(\"\") error = %v, want ErrInvalidUser", err)
	}
}

func TestGetBalanceCreditsExpiringSoon(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	soon := env.createPackage(t, 40, 5)
	later := env.createPackage(t, 60, 30)
	env.purchase(t, "u1", soon)
	env.purchase(t, "u1", later)
	if _, err := env.credits.Deduct(ctx, "u1", dec("15"), "", nil); err != nil {
		t.Fatal(err)
	}

	bal, err := env.credits.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	assertDecimal(t, "Available", bal.Available, "85")
	assertDecimal(t, "CreditsExpiringSoon", bal.CreditsExpiringSoon, "25")

	// 24 天后第二个套餐也进入 7 天窗口；第一个已到期但未被扫描，仍然计入
	env.clock.Advance(24 * day)
	bal, err = env.credits.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	assertDecimal(t, "CreditsExpiringSoon", bal.CreditsExpiringSoon, "85")

	env.credits.RunExpirationSweep(ctx)
	bal, err = env.credits.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	assertDecimal(t, "CreditsExpiringSoon", bal.CreditsExpiringSoon, "60")
	assertDecimal(t, "Expired", bal.Expired, "25")
}

func TestListLedgerPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pkg := env.createPackage(t, 100, 30)
	env.purchase(t, "u1", pkg)
	for i := 0; i < 11; i++ {
		env.clock.Advance(time.Second)
		if _, err := env.credits.Deduct(ctx, "u1", dec("1"), "", nil); err != nil {
			t.Fatal(err)
		}
	}

	page, err := env.credits.ListLedger(ctx, "u1", 2, 5)
	if err != nil {
		t.Fatalf("ListLedger() error: %v", err)
	}
	if page.Meta.Total != 12 || page.Meta.TotalPages != 3 || page.Meta.Page != 2 || page.Meta.Limit != 5 {
		t.Errorf("meta = %+v", page.Meta)
	}
	if len(page.Data) != 5 {
		t.Fatalf("len(data) = %d, want 5", len(page.Data))
	}
	// 最新的在前：第二页第一条是倒数第 6 笔扣减，余额 94
	assertDecimal(t, "Balance", page.Data[0].Balance, "94")
	for i := 1; i < len(page.Data); i++ {
		if page.Data[i].CreatedAt.After(page.Data[i-1].CreatedAt) {
			t.Errorf("entries not newest-first at %d", i)
		}
	}

	last, err := env.credits.ListLedger(ctx, "u1", 3, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(last.Data) != 2 {
		t.Errorf("last page = %d entries, want 2", len(last.Data))
	}

	empty, err := env.credits.ListLedger(ctx, "nobody", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Data == nil || len(empty.Data) != 0 || empty.Meta.TotalPages != 0 {
		t.Errorf("empty page = %+v", empty)
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{0, 0, 1, 10},
		{-1, 5, 1, 5},
		{3, 1000, 3, 100},
		{2, 100, 2, 100},
	}
	for _, tt := range tests {
		page, limit := normalizePage(tt.page, tt.limit)
		if page != tt.wantPage || limit != tt.wantLimit {
			t.Errorf("normalizePage(%d, %d) = %d, %d, want %d, %d",
				tt.page, tt.limit, page, limit, tt.wantPage, tt.wantLimit)
		}
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	small := env.createPackage(t, 10, 30)
	big := env.createPackage(t, 100, 30)
	env.purchase(t, "u1", small)
	env.clock.Advance(time.Hour)
	env.purchase(t, "u1", big)
	env.purchase(t, "u2", big)

	page, err := env.credits.ListTransactions(ctx, "u1", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if page.Meta.Total != 2 || len(page.Data) != 2 {
		t.Fatalf("page = %+v", page.Meta)
	}
	if page.Data[0].CreditsPurchased != 100 || page.Data[1].CreditsPurchased != 10 {
		t.Errorf("order = %d, %d, want 100, 10", page.Data[0].CreditsPurchased, page.Data[1].CreditsPurchased)
	}
}
