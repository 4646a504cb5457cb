package utils

import (
	"fmt"
	"math"
	"strings"

	"tradeguard/pkg/errs"
)

// validator.go - проверка входных данных торговых операций
//
// Единый формат символа в ядре: BASE/QUOTE (BTC/USDT). Перевод в формат
// конкретной биржи выполняют адаптеры.

const maxSymbolPartLength = 12

// stablecoins оцениваются в 1 USD без обращения к кэшу цен
var stablecoins = map[string]bool{
	"USD":   true,
	"USDT":  true,
	"USDC":  true,
	"DAI":   true,
	"BUSD":  true,
	"TUSD":  true,
	"FDUSD": true,
}

// SplitSymbol разбирает символ BASE/QUOTE в верхнем регистре
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(symbol)), "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("symbol %q must be in BASE/QUOTE format", symbol)
	}
	for _, p := range parts {
		if p == "" || len(p) > maxSymbolPartLength {
			return "", "", fmt.Errorf("symbol %q has invalid part length", symbol)
		}
		for _, r := range p {
			if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
				return "", "", fmt.Errorf("symbol %q contains invalid character %q", symbol, r)
			}
		}
	}
	return parts[0], parts[1], nil
}

// ValidateSymbol проверяет формат BASE/QUOTE
func ValidateSymbol(symbol string) error {
	_, _, err := SplitSymbol(symbol)
	return err
}

// NormalizeSymbol приводит символ к виду BASE/QUOTE в верхнем регистре.
// Символ в неверном формате возвращается как есть (в верхнем регистре).
func NormalizeSymbol(symbol string) string {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(symbol))
	}
	return base + "/" + quote
}

// ValidatePositive проверяет, что значение конечно и больше нуля
func ValidatePositive(field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errs.Validation(field, "must be a finite number")
	}
	if value <= 0 {
		return errs.Validation(field, "must be positive, got %v", value)
	}
	return nil
}

// ValidatePercentage проверяет диапазон (0, 100]
func ValidatePercentage(field string, value float64) error {
	if err := ValidatePositive(field, value); err != nil {
		return err
	}
	if value > 100 {
		return errs.Validation(field, "must not exceed 100, got %v", value)
	}
	return nil
}

// IsStablecoin сообщает, привязана ли валюта к доллару
func IsStablecoin(currency string) bool {
	return stablecoins[strings.ToUpper(currency)]
}
