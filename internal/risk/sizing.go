package risk

import (
	"context"
	"fmt"

	"tradeguard/pkg/utils"
)

// KellyFraction - доля капитала по критерию Келли: (p*W - (1-p)*L) / W.
// Отрицательное матожидание дает 0.
func KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if avgWin <= 0 || avgLoss < 0 || winRate < 0 || winRate > 1 {
		return 0
	}
	f := (winRate*avgWin - (1-winRate)*avgLoss) / avgWin
	if f < 0 {
		return 0
	}
	return f
}

// CalculateOptimalPositionSize - размер позиции в валюте счета:
// balance * min(kelly * (1 - volatility), riskPercentage/100).
// Волатильность ограничена диапазоном [0, 1]; результат не превышает balance * riskPercentage/100.
func (e *Engine) CalculateOptimalPositionSize(balance, volatility, riskPercentage float64) float64 {
	if balance <= 0 || riskPercentage <= 0 {
		return 0
	}
	ceiling := utils.Clamp(riskPercentage, 0, 100) / 100
	kelly := KellyFraction(e.cfg.WinRate, e.cfg.AvgWin, e.cfg.AvgLoss)
	damped := kelly * (1 - utils.Clamp(volatility, 0, 1))
	return balance * min(damped, ceiling)
}

// PositionSize - рекомендация размера позиции для счета
type PositionSize struct {
	AccountID      int64   `json:"account_id"`
	Balance        float64 `json:"balance"`
	Volatility     float64 `json:"volatility"`
	RiskPercentage float64 `json:"risk_percentage"`
	KellyFraction  float64 `json:"kelly_fraction"`
	Size           float64 `json:"size"`
}

// SuggestPositionSize считает размер позиции по стоимости и волатильности портфеля
func (e *Engine) SuggestPositionSize(ctx context.Context, accountID int64, riskPercentage float64) (*PositionSize, error) {
	if err := utils.ValidatePercentage("risk_percentage", riskPercentage); err != nil {
		return nil, err
	}
	portfolio, _, err := e.assess(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("assess portfolio: %w", err)
	}
	return &PositionSize{
		AccountID:      accountID,
		Balance:        portfolio.TotalValue,
		Volatility:     portfolio.Volatility,
		RiskPercentage: riskPercentage,
		KellyFraction:  KellyFraction(e.cfg.WinRate, e.cfg.AvgWin, e.cfg.AvgLoss),
		Size:           e.CalculateOptimalPositionSize(portfolio.TotalValue, portfolio.Volatility, riskPercentage),
	}, nil
}
