package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

// ============ ОБЩИЕ ХЕЛПЕРЫ ============

var allowAll = GuardFunc(func(context.Context) error { return nil })

var emergencyStop = GuardFunc(func(context.Context) error {
	return errs.Validation("account", "emergency stop is active")
})

var testCreds = Credentials{APIKey: "test-key", APISecret: "test-secret", Passphrase: "test-pass"}

// testServer - httptest сервер, считающий запросы
type testServer struct {
	*httptest.Server
	calls atomic.Int64
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testOptions(ts *testServer) Options {
	return Options{
		BaseURL:    ts.URL,
		HTTPClient: WrapHTTPClient(ts.Client()),
		Logger:     utils.NopLogger(),
		MinAmount:  0.001,
		MaxAmount:  10,
	}
}

func hexHMAC(secret, msg string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func assertErrorAs[T error](t *testing.T, err error) T {
	t.Helper()
	var target T
	if !errors.As(err, &target) {
		t.Fatalf("expected %T, got %v", target, err)
	}
	return target
}

func assertTerminalInvariant(t *testing.T, r *OrderResult) {
	t.Helper()
	if r.IsTerminal() && r.Filled+r.Remaining != r.Amount {
		t.Errorf("filled %v + remaining %v != amount %v", r.Filled, r.Remaining, r.Amount)
	}
}
