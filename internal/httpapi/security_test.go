package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kasirinaja/poscore/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	h := newTestAPI(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := rec.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestCORSPreflightAllowsConfiguredOrigin(t *testing.T) {
	h := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Origin", "http://127.0.0.1:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:3000" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS grant for unknown origin, got %q", got)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	h := newTestAPI(t)
	for i := 0; i < 6; i++ {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong-pass"})
		if i < 5 && rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, rec.Code)
		}
		if i == 5 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", rec.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	h := newTestAPI(t)
	veryLong := strings.Repeat("a", maxBodyBytes+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", rec.Code)
	}
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	h := newTestAPI(t)
	token := login(t, h, "cashier", "cashier123")
	openShift(t, h, token)
	sale := recordSale(t, h, token, 1)

	for i := 0; i < 9; i++ {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/sales/"+sale.ID+"/void", token, domain.VoidSaleRequest{Reason: "test void", ManagerPIN: "000000"})
		if i < 8 && rec.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before limit, got %d", i+1, rec.Code)
		}
		if i == 8 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", rec.Code)
		}
	}
}

func TestInternalErrorsHideMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(req.Context(), nil, rec, fmt.Errorf("pq: relation \"secret_table\" does not exist"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret_table") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
	if code := errorCode(t, rec); code != "INTERNAL_ERROR" {
		t.Fatalf("expected INTERNAL_ERROR, got %s", code)
	}
}

func TestLoginRateLimitIsPerClient(t *testing.T) {
	h := newTestAPI(t)
	attempt := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"admin","password":"wrong-pass"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 5; i++ {
		attempt("10.0.0.1:40000")
	}
	rec := attempt("10.0.0.1:40001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for exhausted client, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("expected RATE_LIMIT_EXCEEDED, got %s", code)
	}

	if rec := attempt("10.0.0.2:40000"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected other client to reach login, got %d", rec.Code)
	}
}

func TestRecovererRendersInternalError(t *testing.T) {
	h := recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rec.Code)
	}
}
