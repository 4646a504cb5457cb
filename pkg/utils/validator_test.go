package utils

import (
	"math"
	"testing"
)

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		name      string
		symbol    string
		wantBase  string
		wantQuote string
		wantErr   bool
	}{
		{"canonical", "BTC/USDT", "BTC", "USDT", false},
		{"lowercase", "eth/usdc", "ETH", "USDC", false},
		{"digits", "1INCH/USDT", "1INCH", "USDT", false},
		{"no separator", "BTCUSDT", "", "", true},
		{"hyphen", "BTC-USDT", "", "", true},
		{"empty base", "/USDT", "", "", true},
		{"special chars", "BTC@/USDT", "", "", true},
		{"too long", "ABCDEFGHIJKLMN/USDT", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, quote, err := SplitSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
			if base != tt.wantBase || quote != tt.wantQuote {
				t.Errorf("SplitSymbol(%q) = %q, %q", tt.symbol, base, quote)
			}
		})
	}
}

func TestNormalizeSymbol(t *testing.T) {
	if got := NormalizeSymbol(" btc/usdt "); got != "BTC/USDT" {
		t.Errorf("got %q", got)
	}
	if got := NormalizeSymbol("btcusdt"); got != "BTCUSDT" {
		t.Errorf("got %q", got)
	}
}

func TestValidatePositive(t *testing.T) {
	tests := []struct {
		value   float64
		wantErr bool
	}{
		{1, false},
		{0.0001, false},
		{0, true},
		{-1, true},
		{math.NaN(), true},
		{math.Inf(1), true},
	}
	for _, tt := range tests {
		if err := ValidatePositive("amount", tt.value); (err != nil) != tt.wantErr {
			t.Errorf("ValidatePositive(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
		}
	}
}

func TestValidatePercentage(t *testing.T) {
	if err := ValidatePercentage("risk_pct", 2); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePercentage("risk_pct", 101); err == nil {
		t.Error("expected error above 100")
	}
}

func TestIsStablecoin(t *testing.T) {
	for _, c := range []string{"USDT", "usdc", "USD", "DAI"} {
		if !IsStablecoin(c) {
			t.Errorf("%s should be a stablecoin", c)
		}
	}
	if IsStablecoin("BTC") {
		t.Error("BTC is not a stablecoin")
	}
}
