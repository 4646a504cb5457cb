package exchange

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"tradeguard/pkg/errs"
)

func TestDeribit_TokenCachedAndBearerUsed(t *testing.T) {
	var authCalls, orderCalls atomic.Int64

	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case deribitAuthPath:
			authCalls.Add(1)
			q := r.URL.Query()
			if q.Get("grant_type") != "client_credentials" || q.Get("client_id") != testCreds.APIKey || q.Get("client_secret") != testCreds.APISecret {
				t.Errorf("bad auth query %s", r.URL.RawQuery)
			}
			writeJSON(w, http.StatusOK, `{"jsonrpc":"2.0","result":{"access_token":"tok-1","expires_in":900}}`)
		case deribitSellPath:
			orderCalls.Add(1)
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("Authorization = %q", got)
			}
			q := r.URL.Query()
			if q.Get("instrument_name") != "BTC-PERPETUAL" || q.Get("type") != "market" || q.Get("amount") != "1" {
				t.Errorf("bad order query %s", r.URL.RawQuery)
			}
			if q.Get("reduce_only") != "true" {
				t.Error("reduce_only not forwarded")
			}
			writeJSON(w, http.StatusOK, `{"jsonrpc":"2.0","result":{
				"order":{"order_id":"ETH-1","label":"x","direction":"sell","order_type":"market","order_state":"filled",
					"amount":1,"filled_amount":1,"price":"market_price","average_price":42000,"creation_timestamp":1700000000000},
				"trades":[{"fee":0.00001,"fee_currency":"BTC"}]}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	d := NewDeribit(testOptions(ts))
	p := OrderParams{Symbol: "BTC/USDT", Side: SideSell, Type: OrderTypeMarket, Amount: 1, ReduceOnly: true}

	for i := 0; i < 2; i++ {
		res, err := d.CreateOrder(context.Background(), allowAll, testCreds, p)
		if err != nil {
			t.Fatalf("CreateOrder #%d: %v", i, err)
		}
		if res.Status != OrderStatusClosed || res.Average != 42000 || res.Price != 0 || res.Cost != 42000 {
			t.Errorf("unexpected result %+v", res)
		}
		if res.Fee == nil || res.Fee.Currency != "BTC" {
			t.Errorf("fee %+v", res.Fee)
		}
	}

	if authCalls.Load() != 1 || orderCalls.Load() != 2 {
		t.Errorf("auth calls = %d, order calls = %d", authCalls.Load(), orderCalls.Load())
	}
}

func TestDeribit_TokenRefreshedOnExpiry(t *testing.T) {
	var authCalls atomic.Int64
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == deribitAuthPath {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, `{"result":{"access_token":"tok","expires_in":60}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"result":{"summaries":[{"currency":"BTC","equity":1.5,"available_funds":1.2},{"currency":"ETH","equity":0}]}}`)
	})

	now := time.Unix(1700000000, 0)
	d := NewDeribit(testOptions(ts))
	d.now = func() time.Time { return now }

	balances, err := d.GetBalances(context.Background(), testCreds)
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if len(balances) != 1 || balances[0].Total != 1.5 || balances[0].Free != 1.2 {
		t.Errorf("balances %+v", balances)
	}

	now = now.Add(45 * time.Second) // внутри запаса до истечения
	if _, err := d.GetBalances(context.Background(), testCreds); err != nil {
		t.Fatal(err)
	}
	if authCalls.Load() != 2 {
		t.Errorf("auth calls = %d, want 2", authCalls.Load())
	}
}

func TestDeribit_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind string
	}{
		{"invalid_credentials", `{"error":{"code":13004,"message":"invalid_credentials"}}`, "authentication"},
		{"not_enough_funds", `{"error":{"code":10009,"message":"not_enough_funds"}}`, "exchange_protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, tt.body)
			})
			_, err := NewDeribit(testOptions(ts)).CreateOrder(context.Background(), allowAll, testCreds,
				OrderParams{Symbol: "ETH/USD", Side: SideBuy, Type: OrderTypeLimit, Amount: 1, Price: 2000})
			if got := errs.Kind(err); got != tt.wantKind {
				t.Errorf("kind = %q (%v), want %q", got, err, tt.wantKind)
			}
		})
	}
}

func TestDeribit_AuthErrorDropsToken(t *testing.T) {
	var authCalls atomic.Int64
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == deribitAuthPath {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, `{"result":{"access_token":"tok","expires_in":900}}`)
			return
		}
		writeJSON(w, http.StatusBadRequest, `{"error":{"code":13009,"message":"unauthorized"}}`)
	})

	d := NewDeribit(testOptions(ts))
	for i := 0; i < 2; i++ {
		_, err := d.GetOrderStatus(context.Background(), testCreds, "BTC/USD", "123")
		assertErrorAs[*errs.AuthenticationError](t, err)
	}
	if authCalls.Load() != 2 {
		t.Errorf("token was not dropped after auth error: %d auth calls", authCalls.Load())
	}
}
