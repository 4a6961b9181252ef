package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/database"
	"creditsystem/internal/infrastructure/lock"
	"creditsystem/internal/job"
	"creditsystem/internal/service"
	"creditsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	log := zap.NewNop()
	now := func() time.Time { return time.Now().UTC() }
	credits := service.NewCreditService(db, lock.NewLocalUserLocker(), cfg, log, service.WithClock(now))
	packages := service.NewPackageService(db, cfg, log)
	expiration := job.NewCreditExpirationJob(credits, nil, cfg, log)
	return SetupRouter(NewHandler(packages, credits, expiration, log), log)
}

func do(t *testing.T, r *gin.Engine, method, path, userID string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp apiResponse
	if w.Code == http.StatusOK || w.Code == http.StatusUnauthorized {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, resp
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func createPackage(t *testing.T, r *gin.Engine, credits int64, validityDays int) int64 {
	t.Helper()
	_, resp := do(t, r, http.MethodPost, "/api/v1/admin/credits/packages", "", gin.H{
		"name": "starter", "credits": credits, "price": "9.99", "validity_days": validityDays,
	})
	if resp.Code != response.CodeSuccess {
		t.Fatalf("create package: %+v", resp)
	}
	var pkg struct {
		ID int64 `json:"id"`
	}
	decode(t, resp.Data, &pkg)
	return pkg.ID
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)
	if w, _ := do(t, r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("GET /health = %d", w.Code)
	}

	// /metrics 是 Prometheus 文本格式，不走统一响应
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "credit_expiration_sweep_duration_seconds") {
		t.Error("metrics output missing credit_expiration_sweep_duration_seconds")
	}
}

func TestUserRoutesRequireIdentity(t *testing.T) {
	r := newTestRouter(t)
	w, resp := do(t, r, http.MethodGet, "/api/v1/credits/balance", "", nil)
	if w.Code != http.StatusUnauthorized || resp.Code != response.CodeUnauthorized {
		t.Errorf("status = %d, code = %d, want 401", w.Code, resp.Code)
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Error("missing request id header")
	}
}

func TestPurchaseDeductBalanceFlow(t *testing.T) {
	r := newTestRouter(t)
	pkgID := createPackage(t, r, 100, 90)

	_, resp := do(t, r, http.MethodPost, "/api/v1/credits/purchase", "u1", gin.H{
		"package_id": pkgID, "payment_transaction_id": "pay_1",
	})
	if resp.Code != response.CodeSuccess {
		t.Fatalf("purchase: %+v", resp)
	}
	var purchase struct {
		CreditsAdded string `json:"credits_added"`
		NewBalance   string `json:"new_balance"`
	}
	decode(t, resp.Data, &purchase)
	if purchase.CreditsAdded != "100" || purchase.NewBalance != "100" {
		t.Errorf("purchase = %+v", purchase)
	}

	_, resp = do(t, r, http.MethodPost, "/api/v1/credits/deduct", "u1", gin.H{"amount": 30, "description": "test"})
	if resp.Code != response.CodeSuccess {
		t.Fatalf("deduct: %+v", resp)
	}

	_, resp = do(t, r, http.MethodGet, "/api/v1/credits/balance", "u1", nil)
	var balance struct {
		Total     string `json:"total"`
		Used      string `json:"used"`
		Available string `json:"available"`
	}
	decode(t, resp.Data, &balance)
	if balance.Available != "70" || balance.Used != "30" || balance.Total != "100" {
		t.Errorf("balance = %+v", balance)
	}

	_, resp = do(t, r, http.MethodGet, "/api/v1/credits/ledger?page=1&limit=1", "u1", nil)
	var ledger struct {
		Data []struct {
			Type string `json:"type"`
		} `json:"data"`
		Meta service.PageMeta `json:"meta"`
	}
	decode(t, resp.Data, &ledger)
	if ledger.Meta.Total != 2 || ledger.Meta.TotalPages != 2 || len(ledger.Data) != 1 || ledger.Data[0].Type != "USAGE" {
		t.Errorf("ledger = %+v", ledger)
	}

	_, resp = do(t, r, http.MethodGet, "/api/v1/credits/transactions", "u1", nil)
	var trans struct {
		Meta service.PageMeta `json:"meta"`
	}
	decode(t, resp.Data, &trans)
	if trans.Meta.Total != 1 || trans.Meta.Limit != 10 {
		t.Errorf("transactions meta = %+v", trans.Meta)
	}
}

func TestErrorCodes(t *testing.T) {
	r := newTestRouter(t)
	pkgID := createPackage(t, r, 10, 30)
	if _, resp := do(t, r, http.MethodPost, "/api/v1/credits/purchase", "u1", gin.H{"package_id": pkgID}); resp.Code != response.CodeSuccess {
		t.Fatalf("purchase: %+v", resp)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		userID   string
		body     interface{}
		wantCode int
	}{
		{"insufficient credits", http.MethodPost, "/api/v1/credits/deduct", "u1", gin.H{"amount": "11"}, response.CodeInsufficientCredits},
		{"invalid amount", http.MethodPost, "/api/v1/credits/deduct", "u1", gin.H{"amount": "-1"}, response.CodeInvalidAmount},
		{"unknown package", http.MethodPost, "/api/v1/credits/purchase", "u1", gin.H{"package_id": 999}, response.CodePackageNotFound},
		{"missing package id", http.MethodPost, "/api/v1/credits/purchase", "u1", gin.H{}, response.CodeParamError},
		{"bad path id", http.MethodGet, "/api/v1/credits/packages/abc", "", nil, response.CodeParamError},
		{"package in use", http.MethodDelete, "/api/v1/admin/credits/packages/1", "", nil, response.CodePackageInUse},
		{"invalid package", http.MethodPost, "/api/v1/admin/credits/packages", "", gin.H{"name": "x", "credits": 1, "price": "-1"}, response.CodeInvalidPackage},
		{"negative adjustment", http.MethodPost, "/api/v1/admin/credits/adjust", "", gin.H{"user_id": "u1", "amount": "-50"}, response.CodeInvalidAdjustment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := do(t, r, tt.method, tt.path, tt.userID, tt.body)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %d (%s), want %d", resp.Code, resp.Message, tt.wantCode)
			}
		})
	}

	_, resp := do(t, r, http.MethodPost, "/api/v1/credits/deduct", "u1", gin.H{"amount": "11"})
	var detail struct {
		Requested string `json:"requested"`
		Available string `json:"available"`
	}
	decode(t, resp.Data, &detail)
	if detail.Requested != "11" || detail.Available != "10" {
		t.Errorf("insufficient detail = %+v", detail)
	}
}

func TestAdminPackageLifecycle(t *testing.T) {
	r := newTestRouter(t)
	pkgID := createPackage(t, r, 50, 30)

	_, resp := do(t, r, http.MethodPut, "/api/v1/admin/credits/packages/1", "", gin.H{"credits": 75, "is_active": false})
	if resp.Code != response.CodeSuccess {
		t.Fatalf("update: %+v", resp)
	}

	_, resp = do(t, r, http.MethodGet, "/api/v1/credits/packages", "", nil)
	var list []json.RawMessage
	decode(t, resp.Data, &list)
	if len(list) != 0 {
		t.Errorf("active packages = %d, want 0 after deactivation", len(list))
	}

	_, resp = do(t, r, http.MethodDelete, "/api/v1/admin/credits/packages/1", "", nil)
	if resp.Code != response.CodeSuccess {
		t.Fatalf("delete: %+v", resp)
	}
	_, resp = do(t, r, http.MethodGet, "/api/v1/credits/packages/1", "", nil)
	if resp.Code != response.CodePackageNotFound {
		t.Errorf("get deleted package code = %d, want %d", resp.Code, response.CodePackageNotFound)
	}
	if pkgID != 1 {
		t.Errorf("pkgID = %d, want 1", pkgID)
	}
}

func TestAdminAdjustAndExpire(t *testing.T) {
	r := newTestRouter(t)

	_, resp := do(t, r, http.MethodPost, "/api/v1/admin/credits/adjust", "", gin.H{
		"user_id": "u9", "amount": "25.5", "description": "goodwill",
	})
	if resp.Code != response.CodeSuccess {
		t.Fatalf("adjust: %+v", resp)
	}
	var adjust struct {
		Adjustment string `json:"adjustment"`
		NewBalance string `json:"new_balance"`
	}
	decode(t, resp.Data, &adjust)
	if adjust.Adjustment != "25.5" || adjust.NewBalance != "25.5" {
		t.Errorf("adjust = %+v", adjust)
	}

	_, resp = do(t, r, http.MethodPost, "/api/v1/admin/credits/expire", "", nil)
	if resp.Code != response.CodeSuccess {
		t.Fatalf("expire: %+v", resp)
	}
	var sweep service.SweepResult
	decode(t, resp.Data, &sweep)
	if sweep.Scanned != 0 {
		t.Errorf("sweep = %+v, want nothing to expire", sweep)
	}
}
