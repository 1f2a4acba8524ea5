package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/credits"
	"github.com/boxsignal/repricer/internal/middleware"
	"github.com/gin-gonic/gin"
)

func creditRouter(ledger credits.Ledger) *gin.Engine {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Auth: config.AuthConfig{AdminKey: "admin"},
	}
	h := NewCreditHandler(ledger)

	router := gin.New()
	router.Use(middleware.ErrorHandler())
	router.GET("/v1/credits/:org", h.Balance)

	admin := router.Group("/v1/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	admin.POST("/credits/:org/topup", h.TopUp)
	return router
}

func TestCreditBalanceEndpoint(t *testing.T) {
	ledger := credits.NewMemoryLedger()
	ledger.Credit(context.Background(), "org1", 42)
	router := creditRouter(ledger)

	req := httptest.NewRequest(http.MethodGet, "/v1/credits/org1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		OrganizationID string `json:"organization_id"`
		Balance        int64  `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v", err)
	}
	if resp.OrganizationID != "org1" || resp.Balance != 42 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestTopUpRequiresAdminKey(t *testing.T) {
	ledger := credits.NewMemoryLedger()
	router := creditRouter(ledger)
	body, _ := json.Marshal(map[string]int64{"amount": 100})

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/credits/org1/topup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin key, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/v1/admin/credits/org1/topup", bytes.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set(middleware.HeaderAdminKey, "admin")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with admin key, got %d: %s", rec2.Code, rec2.Body.String())
	}

	if balance, _ := ledger.Balance(context.Background(), "org1"); balance != 100 {
		t.Fatalf("expected balance 100 after top-up, got %d", balance)
	}
}

func TestTopUpRejectsNonPositiveAmount(t *testing.T) {
	ledger := credits.NewMemoryLedger()
	router := creditRouter(ledger)
	body, _ := json.Marshal(map[string]int64{"amount": -5})

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/credits/org1/topup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderAdminKey, "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %d", rec.Code)
	}
	if balance, _ := ledger.Balance(context.Background(), "org1"); balance != 0 {
		t.Fatalf("rejected top-up must not credit, got %d", balance)
	}
}
