package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tradeguard/pkg/utils"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func okHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := UserIDFrom(r.Context()); ok {
			w.Header().Set("X-User", strconv.FormatInt(id, 10))
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuth_IssueAndParse(t *testing.T) {
	auth := NewJWTAuth(testSecret, time.Hour)

	token, expiresAt, err := auth.Issue(7, RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expiresAt in the past: %v", expiresAt)
	}

	claims, err := auth.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != 7 || claims.Role != RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}
}

func TestJWTAuth_RejectsBadTokens(t *testing.T) {
	auth := NewJWTAuth(testSecret, time.Hour)
	other := NewJWTAuth("another-secret-another-secret-xx", time.Hour)
	foreign, _, _ := other.Issue(1, RoleAdmin)

	expired := NewJWTAuth(testSecret, time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _, _ := expired.Issue(1, RoleAdmin)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 1, Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", stale},
		{"alg none", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.Parse(tt.token); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	auth := NewJWTAuth(testSecret, time.Hour)
	token, _, _ := auth.Issue(3, RoleOperator)
	h := auth.Auth(okHandler(t))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"invalid token", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusOK && w.Header().Get("X-User") != "3" {
				t.Errorf("user id not propagated: %q", w.Header().Get("X-User"))
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(RoleAdmin)(okHandler(t))

	tests := []struct {
		name   string
		claims *Claims
		want   int
	}{
		{"no claims", nil, http.StatusUnauthorized},
		{"operator", &Claims{UserID: 1, Role: RoleOperator}, http.StatusForbidden},
		{"admin", &Claims{UserID: 1, Role: RoleAdmin}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/api/v1/accounts/1/emergency-stop", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler(t))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
		req.Header.Set("Origin", "https://evil.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d", w.Code)
		}
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(utils.NopLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
	if body := w.Body.String(); body == "" || strings.Contains(body, "boom") {
		t.Errorf("panic value must not leak to client: %q", body)
	}
}

func TestLogging_CapturesStatus(t *testing.T) {
	h := Logging(utils.NopLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot || w.Body.String() != "short and stout" {
		t.Errorf("response altered: %d %q", w.Code, w.Body.String())
	}
}

func TestLogging_RequestID(t *testing.T) {
	h := Logging(utils.NopLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"client id kept", "req-42", true},
		{"missing id generated", "", false},
		{"oversized id replaced", strings.Repeat("x", 65), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if got == "" {
				t.Fatal("response must carry a request id")
			}
			if tt.keep != (got == tt.incoming) {
				t.Errorf("request id = %q, incoming %q", got, tt.incoming)
			}
		})
	}
}
