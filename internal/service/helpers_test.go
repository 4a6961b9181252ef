package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/database"
	"creditsystem/internal/infrastructure/lock"
	"creditsystem/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	clock    *fakeClock
	credits  *CreditService
	packages *PackageService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// 内存库每个连接是独立的数据库
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	cfg := config.Default()
	clock := newFakeClock()
	log := zap.NewNop()
	return &testEnv{
		db:       db,
		cfg:      cfg,
		clock:    clock,
		credits:  NewCreditService(db, lock.NewLocalUserLocker(), cfg, log, WithClock(clock.Now)),
		packages: NewPackageService(db, cfg, log),
	}
}

func (e *testEnv) createPackage(t *testing.T, credits int64, validityDays int) *model.CreditPackage {
	t.Helper()
	pkg, err := e.packages.CreatePackage(context.Background(), &CreatePackageRequest{
		Name:         "pkg",
		Credits:      credits,
		Price:        decimal.NewFromFloat(9.99),
		ValidityDays: validityDays,
	})
	if err != nil {
		t.Fatalf("CreatePackage() error: %v", err)
	}
	return pkg
}

func (e *testEnv) purchase(t *testing.T, userID string, pkg *model.CreditPackage) *PurchaseResult {
	t.Helper()
	res, err := e.credits.Purchase(context.Background(), &PurchaseRequest{UserID: userID, PackageID: pkg.ID})
	if err != nil {
		t.Fatalf("Purchase() error: %v", err)
	}
	return res
}

func (e *testEnv) summary(t *testing.T, userID string) *model.UserCreditSummary {
	t.Helper()
	s, err := e.credits.summaryRepo.GetByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetByUserID(%s) error: %v", userID, err)
	}
	return s
}

func (e *testEnv) entries(t *testing.T, userID, entryType string) []*model.LedgerEntry {
	t.Helper()
	entries, err := e.credits.ledgerRepo.ListByUserAndType(context.Background(), userID, entryType)
	if err != nil {
		t.Fatalf("ListByUserAndType() error: %v", err)
	}
	return entries
}

// assertReconciled 校验汇总自洽，以及 PURCHASE 条目 0 <= credit <= debit
func (e *testEnv) assertReconciled(t *testing.T, userID string) {
	t.Helper()
	s := e.summary(t, userID)
	if !s.Reconciled() {
		t.Errorf("summary not reconciled: total=%s used=%s available=%s expired=%s",
			s.TotalCredits, s.UsedCredits, s.AvailableCredits, s.ExpiredCredits)
	}
	for _, entry := range e.entries(t, userID, model.LedgerTypePurchase) {
		if entry.Credit.IsNegative() || entry.Credit.GreaterThan(entry.Debit) {
			t.Errorf("entry %s: credit=%s debit=%s", entry.EntryNo, entry.Credit, entry.Debit)
		}
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}
