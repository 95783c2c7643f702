package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/punchamoorthee/refundops/internal/auth"
	"github.com/punchamoorthee/refundops/internal/dispatch"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/punchamoorthee/refundops/internal/notify"
	"github.com/punchamoorthee/refundops/internal/service"
	"github.com/punchamoorthee/refundops/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type testServer struct {
	router http.Handler
	tokens *auth.Tokens
	mem    *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mem := store.NewMemory()
	d, err := dispatch.New(dispatch.Options{Workers: 2, MaxAttempts: 1, Timeout: time.Second}, dispatch.NewMemoryDeadLetters(), zap.NewNop())
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	t.Cleanup(d.Close)

	svc := service.New(service.Dependencies{
		Repo:       mem,
		Dispatcher: d,
		Mailer:     notify.NewLogMailer(zap.NewNop()),
		Logger:     zap.NewNop(),
	})
	tokens, err := auth.NewTokens("test-secret", "refundops")
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	r := mux.NewRouter()
	r.Use(tokens.Middleware)
	NewHandler(svc, zap.NewNop()).Register(r.PathPrefix("/api/v1").Subrouter())
	return &testServer{router: r, tokens: tokens, mem: mem}
}

func (s *testServer) user(t *testing.T, role domain.Role, balance int64) string {
	t.Helper()
	id := uuid.New()
	s.mem.PutUser(domain.User{
		ID:            id,
		Email:         id.String()[:8] + "@example.com",
		FullName:      "User",
		Role:          role,
		WalletBalance: decimal.NewFromInt(balance),
		CreatedAt:     time.Now(),
	})
	token, err := s.tokens.Issue(id, role, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

type response struct {
	Success  bool                          `json:"success"`
	Error    string                        `json:"error"`
	Request  *domain.RefundRequest         `json:"request"`
	Requests []domain.RefundRequest        `json:"requests"`
	Stats    map[domain.RefundStatus]int64 `json:"stats"`
	Wallet   *domain.Wallet                `json:"wallet"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out response
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return rec.Code, out
}

func TestRefundLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	tasker := s.user(t, domain.RoleTasker, 500)
	admin := s.user(t, domain.RoleAdmin, 0)

	code, out := s.do(t, http.MethodPost, "/api/v1/refund-requests", tasker, map[string]any{"amount": 200})
	if code != http.StatusCreated || !out.Success || out.Request == nil {
		t.Fatalf("create: %d %+v", code, out)
	}
	id := out.Request.ID.String()

	code, out = s.do(t, http.MethodPost, "/api/v1/refund-requests", tasker, map[string]any{"amount": 100})
	if code != http.StatusConflict || out.Success || out.Error != "You already have a pending refund request" {
		t.Fatalf("second create: %d %+v", code, out)
	}

	code, out = s.do(t, http.MethodPost, "/api/v1/refund-requests/"+id+"/confirm-payment", tasker,
		map[string]string{"receipt_url": "https://receipts.example.com/200.pdf"})
	if code != http.StatusOK || out.Request.Status != domain.StatusPaymentConfirmed {
		t.Fatalf("confirm: %d %+v", code, out)
	}

	code, out = s.do(t, http.MethodPost, "/api/v1/admin/refund-requests/"+id+"/approve", tasker, nil)
	if code != http.StatusForbidden {
		t.Fatalf("tasker approve: %d %+v", code, out)
	}

	code, out = s.do(t, http.MethodPost, "/api/v1/admin/refund-requests/"+id+"/approve", admin,
		map[string]string{"admin_notes": "paid"})
	if code != http.StatusOK || out.Request.Status != domain.StatusApproved {
		t.Fatalf("approve: %d %+v", code, out)
	}

	code, out = s.do(t, http.MethodGet, "/api/v1/wallet", tasker, nil)
	if code != http.StatusOK || !out.Wallet.Balance.Equal(decimal.NewFromInt(300)) || len(out.Wallet.Entries) != 1 {
		t.Fatalf("wallet: %d %+v", code, out.Wallet)
	}

	code, out = s.do(t, http.MethodGet, "/api/v1/refund-requests", tasker, nil)
	if code != http.StatusOK || len(out.Requests) != 1 {
		t.Fatalf("list mine: %d %+v", code, out)
	}

	code, out = s.do(t, http.MethodGet, "/api/v1/admin/refund-requests/stats", admin, nil)
	if code != http.StatusOK || out.Stats[domain.StatusApproved] != 1 {
		t.Fatalf("stats: %d %+v", code, out)
	}
}

func TestErrorStatusCodes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	tasker := s.user(t, domain.RoleTasker, 500)
	client := s.user(t, domain.RoleClient, 500)
	admin := s.user(t, domain.RoleAdmin, 0)

	_, created := s.do(t, http.MethodPost, "/api/v1/refund-requests", tasker, map[string]any{"amount": "75.50"})
	if created.Request == nil {
		t.Fatalf("create failed: %+v", created)
	}
	id := created.Request.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
		errMsg string
	}{
		{"no token", http.MethodPost, "/api/v1/refund-requests", "", map[string]any{"amount": 100}, http.StatusUnauthorized, "Not authenticated"},
		{"client role", http.MethodPost, "/api/v1/refund-requests", client, map[string]any{"amount": 100}, http.StatusForbidden, ""},
		{"missing amount", http.MethodPost, "/api/v1/refund-requests", tasker, nil, http.StatusUnprocessableEntity, "Amount must be greater than zero"},
		{"below minimum", http.MethodPost, "/api/v1/refund-requests", s.user(t, domain.RoleTasker, 500), map[string]any{"amount": 20}, http.StatusUnprocessableEntity, "Minimum refund amount is 50"},
		{"above maximum", http.MethodPost, "/api/v1/refund-requests", s.user(t, domain.RoleTasker, 500), map[string]any{"amount": 10001}, http.StatusUnprocessableEntity, "Maximum refund amount is 10000"},
		{"bad id", http.MethodGet, "/api/v1/refund-requests/not-a-uuid", tasker, nil, http.StatusBadRequest, "Invalid refund request id"},
		{"unknown id", http.MethodGet, "/api/v1/refund-requests/" + uuid.NewString(), tasker, nil, http.StatusNotFound, "Refund request not found"},
		{"reject without notes", http.MethodPost, "/api/v1/admin/refund-requests/" + id + "/reject", admin, map[string]string{"admin_notes": "  "}, http.StatusUnprocessableEntity, ""},
		{"approve pending", http.MethodPost, "/api/v1/admin/refund-requests/" + id + "/approve", admin, nil, http.StatusConflict, "Cannot approve request with status: pending"},
		{"bad status filter", http.MethodGet, "/api/v1/admin/refund-requests?status=archived", admin, nil, http.StatusUnprocessableEntity, ""},
		{"bad limit", http.MethodGet, "/api/v1/admin/refund-requests?limit=ten", admin, nil, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := s.do(t, tt.method, tt.path, tt.token, tt.body)
			if code != tt.want || out.Success {
				t.Fatalf("expected %d, got %d %+v", tt.want, code, out)
			}
			if tt.errMsg != "" && out.Error != tt.errMsg {
				t.Fatalf("expected error %q, got %q", tt.errMsg, out.Error)
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	tasker := s.user(t, domain.RoleTasker, 500)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refund-requests", bytes.NewBufferString("{amount:"))
	req.Header.Set("Authorization", "Bearer "+tasker)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	h := NewHandler(nil, zap.NewNop())
	rec := httptest.NewRecorder()
	h.HealthCheckHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil).WithContext(context.Background()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
