package exchange

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"tradeguard/pkg/errs"
	"tradeguard/pkg/ratelimit"
)

// countingLimiter считает вызовы и может отказывать
type countingLimiter struct {
	calls int
	err   error
}

func (l *countingLimiter) Allow(context.Context, string, string) error {
	l.calls++
	return l.err
}

func TestPreflight_Order(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})

	valid := OrderParams{Symbol: "BTC/USDT", Side: SideBuy, Type: OrderTypeMarket, Amount: 1}

	tests := []struct {
		name        string
		guard       OrderGuard
		params      OrderParams
		creds       Credentials
		limiterErr  error
		wantField   string
		wantLimiter int
		wantKind    string
	}{
		{
			name:     "нет guard",
			guard:    nil,
			params:   valid,
			creds:    testCreds,
			wantKind: "validation", wantField: "guard",
		},
		{
			name:     "аварийная остановка раньше проверки объема",
			guard:    emergencyStop,
			params:   OrderParams{Symbol: "BTC/USDT", Side: SideBuy, Type: OrderTypeMarket, Amount: 1000},
			creds:    testCreds,
			wantKind: "validation", wantField: "account",
		},
		{
			name:     "объем ниже минимума",
			guard:    allowAll,
			params:   OrderParams{Symbol: "BTC/USDT", Side: SideBuy, Type: OrderTypeMarket, Amount: 0.0001},
			creds:    testCreds,
			wantKind: "validation", wantField: "amount",
		},
		{
			name:     "объем выше максимума",
			guard:    allowAll,
			params:   OrderParams{Symbol: "BTC/USDT", Side: SideBuy, Type: OrderTypeMarket, Amount: 10.5},
			creds:    testCreds,
			wantKind: "validation", wantField: "amount",
		},
		{
			name:     "неверная сторона",
			guard:    allowAll,
			params:   OrderParams{Symbol: "BTC/USDT", Side: "long", Type: OrderTypeMarket, Amount: 1},
			creds:    testCreds,
			wantKind: "validation", wantField: "side",
		},
		{
			name:     "лимитный без цены",
			guard:    allowAll,
			params:   OrderParams{Symbol: "BTC/USDT", Side: SideBuy, Type: OrderTypeLimit, Amount: 1},
			creds:    testCreds,
			wantKind: "validation", wantField: "price",
		},
		{
			name:     "неподдерживаемый тип",
			guard:    allowAll,
			params:   OrderParams{Symbol: "BTC/USDT", Side: SideBuy, Type: OrderTypeTrailingStop, Amount: 1, StopPrice: 5},
			creds:    testCreds,
			wantKind: "validation", wantField: "type",
		},
		{
			name:     "неверный символ",
			guard:    allowAll,
			params:   OrderParams{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeMarket, Amount: 1},
			creds:    testCreds,
			wantKind: "validation", wantField: "symbol",
		},
		{
			name:     "нет ключей",
			guard:    allowAll,
			params:   valid,
			creds:    Credentials{},
			wantKind: "authentication",
		},
		{
			name:        "лимитер последним",
			guard:       allowAll,
			params:      valid,
			creds:       testCreds,
			limiterErr:  &errs.RateLimitError{Exchange: "binance", Limit: 60},
			wantKind:    "rate_limit",
			wantLimiter: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &countingLimiter{err: tt.limiterErr}
			opts := testOptions(ts)
			opts.Limiter = limiter
			b := NewBinance(opts)

			_, err := b.CreateOrder(context.Background(), tt.guard, tt.creds, tt.params)
			if got := errs.Kind(err); got != tt.wantKind {
				t.Fatalf("kind = %q (%v), want %q", got, err, tt.wantKind)
			}
			if tt.wantField != "" {
				valErr := assertErrorAs[*errs.ValidationError](t, err)
				if valErr.Field != tt.wantField {
					t.Errorf("field = %q, want %q", valErr.Field, tt.wantField)
				}
			}
			if limiter.calls != tt.wantLimiter {
				t.Errorf("limiter calls = %d, want %d", limiter.calls, tt.wantLimiter)
			}
		})
	}

	if n := ts.calls.Load(); n != 0 {
		t.Errorf("rejected orders made %d HTTP calls", n)
	}
}

func TestPreflight_BoundsInclusive(t *testing.T) {
	b := NewBinance(Options{MinAmount: 0.01, MaxAmount: 5})

	for _, amount := range []float64{0.01, 5} {
		if _, err := b.validateOrder(OrderParams{Symbol: "BTC/USDT", Side: SideSell, Type: OrderTypeMarket, Amount: amount}); err != nil {
			t.Errorf("amount %v rejected: %v", amount, err)
		}
	}
}

func TestAdapterOwnsLimiter(t *testing.T) {
	a := NewBybit(Options{})
	b := NewBybit(Options{})
	if a.limiter == b.limiter {
		t.Fatal("adapters share a limiter instance")
	}

	ctx := context.Background()
	for i := 0; i < ratelimit.DefaultLimit; i++ {
		if err := a.throttle(ctx, bybitWalletPath); err != nil {
			t.Fatalf("call %d rejected: %v", i+1, err)
		}
	}
	if err := b.throttle(ctx, bybitWalletPath); err != nil {
		t.Errorf("independent adapter throttled: %v", err)
	}
}

func TestFinalizeResult(t *testing.T) {
	tests := []struct {
		name          string
		in            OrderResult
		wantFilled    float64
		wantRemaining float64
		wantCost      float64
		wantAverage   float64
	}{
		{
			name:          "полное исполнение",
			in:            OrderResult{Status: OrderStatusClosed, Amount: 0.3, Filled: 0.3, Average: 100},
			wantFilled:    0.3,
			wantRemaining: 0,
			wantCost:      30,
			wantAverage:   100,
		},
		{
			name:          "частично отменен",
			in:            OrderResult{Status: OrderStatusCanceled, Amount: 1, Filled: 0.1, Cost: 5},
			wantFilled:    0.1,
			wantRemaining: 0.9,
			wantCost:      5,
			wantAverage:   50,
		},
		{
			name:          "filled больше amount",
			in:            OrderResult{Status: OrderStatusClosed, Amount: 1, Filled: 1.0000001},
			wantFilled:    1,
			wantRemaining: 0,
		},
		{
			name:          "отклонен",
			in:            OrderResult{Status: OrderStatusRejected, Amount: 2},
			wantRemaining: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.in
			finalizeResult(&r)
			if r.Filled != tt.wantFilled || r.Remaining != tt.wantRemaining {
				t.Errorf("filled/remaining = %v/%v, want %v/%v", r.Filled, r.Remaining, tt.wantFilled, tt.wantRemaining)
			}
			if r.Cost != tt.wantCost || r.Average != tt.wantAverage {
				t.Errorf("cost/average = %v/%v, want %v/%v", r.Cost, r.Average, tt.wantCost, tt.wantAverage)
			}
			if r.Timestamp.IsZero() {
				t.Error("timestamp not set")
			}
			assertTerminalInvariant(t, &r)
		})
	}
}

func TestFormatAndParseNum(t *testing.T) {
	if got := formatNum(0.00000123); got != "0.00000123" {
		t.Errorf("formatNum = %q", got)
	}
	if got := formatNum(42); got != "42" {
		t.Errorf("formatNum = %q", got)
	}
	if got := parseNum("0.1"); got != 0.1 {
		t.Errorf("parseNum = %v", got)
	}
	if got := parseNum("bad"); got != 0 {
		t.Errorf("parseNum(bad) = %v", got)
	}
}

func TestNewAdapter(t *testing.T) {
	for _, id := range SupportedExchanges {
		a, err := NewAdapter(id, Options{})
		if err != nil {
			t.Fatalf("NewAdapter(%s): %v", id, err)
		}
		if a.Name() != id {
			t.Errorf("Name() = %q, want %q", a.Name(), id)
		}
		if _, ok := a.(*Simulated); ok {
			t.Errorf("%s: live mode returned simulator", id)
		}

		sim, err := NewAdapter(id, Options{Mode: ModeSimulated})
		if err != nil {
			t.Fatalf("NewAdapter(%s, simulated): %v", id, err)
		}
		if _, ok := sim.(*Simulated); !ok {
			t.Errorf("%s: simulated mode returned %T", id, sim)
		}
	}

	if len(SupportedExchanges) != 6 {
		t.Errorf("SupportedExchanges = %v", SupportedExchanges)
	}

	_, err := NewAdapter("ftx", Options{})
	assertErrorAs[*errs.ConfigurationError](t, err)

	_, err = NewAdapter("binance", Options{Mode: "turbo"})
	if !errors.As(err, new(*errs.ConfigurationError)) {
		t.Errorf("unknown mode: %v", err)
	}

	if !IsSupported(" KuCoin ") || IsSupported("mtgox") {
		t.Error("IsSupported mismatch")
	}
}
