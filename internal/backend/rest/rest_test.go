package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"dukapos/terminal/internal/backend"
	"dukapos/terminal/internal/domain"
)

func testSale() domain.PendingSale {
	return domain.PendingSale{
		ID:            "sale-1",
		BusinessID:    "biz-1",
		StaffID:       "staff-1",
		TotalCents:    200,
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleLine{{ServiceID: "svc", Qty: 2, UnitPriceCents: 100, TotalCents: 200}},
		Status:        domain.SaleStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestInsertSaleSendsAuthAndIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/sales" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := New(srv.URL, "till-1", "terminal-secret")
	if err := client.InsertSale(context.Background(), testSale()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if gotKey != "sale-1" {
		t.Fatalf("expected idempotency key sale-1, got %q", gotKey)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}

	// The token must verify against the shared secret and carry the terminal.
	var claims terminalClaims
	_, err := jwtlib.ParseWithClaims(strings.TrimPrefix(gotAuth, "Bearer "), &claims, func(*jwtlib.Token) (any, error) {
		return []byte("terminal-secret"), nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.TerminalID != "till-1" {
		t.Fatalf("expected terminal id in claims, got %q", claims.TerminalID)
	}
}

func TestInsertSaleStatusClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		retryable bool
		rejected  bool
	}{
		{"created", http.StatusCreated, "", false, false},
		{"duplicate treated as success", http.StatusConflict, `{"error":"duplicate sale"}`, false, false},
		{"server error retries", http.StatusInternalServerError, "", true, false},
		{"rate limit retries", http.StatusTooManyRequests, "", true, false},
		{"validation rejects", http.StatusUnprocessableEntity, `{"error":"unknown staff"}`, false, true},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			if tc.body != "" {
				_, _ = w.Write([]byte(tc.body))
			}
		}))

		client := New(srv.URL, "till-1", "terminal-secret")
		err := client.InsertSale(context.Background(), testSale())
		srv.Close()

		switch {
		case !tc.retryable && !tc.rejected:
			if err != nil {
				t.Fatalf("%s: expected success, got %v", tc.name, err)
			}
		case tc.retryable:
			if !backend.IsRetryable(err) {
				t.Fatalf("%s: expected retryable error, got %v", tc.name, err)
			}
		case tc.rejected:
			if err == nil || backend.IsRetryable(err) {
				t.Fatalf("%s: expected permanent rejection, got %v", tc.name, err)
			}
			if !strings.Contains(err.Error(), "unknown staff") {
				t.Fatalf("%s: expected backend message in error, got %v", tc.name, err)
			}
		}
	}
}

func TestInsertSaleConnectionRefusedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening anymore

	client := New(srv.URL, "till-1", "terminal-secret")
	err := client.InsertSale(context.Background(), testSale())
	if !backend.IsRetryable(err) {
		t.Fatalf("expected retryable error for refused connection, got %v", err)
	}
}

func TestPing(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	if err := New(healthy.URL, "till-1", "s").Ping(context.Background()); err != nil {
		t.Fatalf("healthy ping: %v", err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	if err := New(broken.URL, "till-1", "s").Ping(context.Background()); err == nil {
		t.Fatalf("expected error for unhealthy backend")
	}
}
