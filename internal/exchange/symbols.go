package exchange

import (
	"strings"

	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

// symbolMapper переводит BASE, QUOTE в символ конкретной биржи
type symbolMapper func(base, quote string) (string, error)

var symbolMappers = map[string]symbolMapper{
	ExchangeBinance: concatSymbol(""),
	ExchangeDeribit: deribitSymbol,
	ExchangeKraken:  krakenSymbol,
	ExchangeKuCoin:  concatSymbol("-"),
	ExchangeOKX:     concatSymbol("-"),
	ExchangeBybit:   concatSymbol(""),
}

// Коды валют Kraken, отличные от общепринятых
var krakenAssetCodes = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// Бессрочные инверсные контракты Deribit, торгуемые за USD
var deribitInverse = map[string]bool{
	"BTC": true,
	"ETH": true,
}

// MapSymbolFor переводит BASE/QUOTE в символ биржи exchangeID
func MapSymbolFor(exchangeID, symbol string) (string, error) {
	mapper, ok := symbolMappers[exchangeID]
	if !ok {
		return "", errs.Config("exchange", "unsupported exchange %q", exchangeID)
	}
	base, quote, err := utils.SplitSymbol(symbol)
	if err != nil {
		return "", &errs.ValidationError{Field: "symbol", Reason: err.Error()}
	}
	return mapper(base, quote)
}

func concatSymbol(sep string) symbolMapper {
	return func(base, quote string) (string, error) {
		return base + sep + quote, nil
	}
}

// deribitSymbol: BTC/USD и BTC/USDT торгуются инверсным BTC-PERPETUAL,
// USDC-маржинальные контракты имеют вид SOL_USDC-PERPETUAL
func deribitSymbol(base, quote string) (string, error) {
	switch quote {
	case "USD", "USDT":
		if deribitInverse[base] {
			return base + "-PERPETUAL", nil
		}
	case "USDC":
		return base + "_USDC-PERPETUAL", nil
	}
	return "", errs.Validation("symbol", "no deribit perpetual for %s/%s", base, quote)
}

func krakenSymbol(base, quote string) (string, error) {
	return krakenAsset(base) + krakenAsset(quote), nil
}

func krakenAsset(code string) string {
	if k, ok := krakenAssetCodes[code]; ok {
		return k
	}
	return code
}

// normalizeKrakenAsset переводит код актива из баланса Kraken в общепринятый:
// XXBT -> BTC, ZUSD -> USD, XDG -> DOGE, USDT -> USDT.
// Суффиксы .F (earn) и .S (staked) отбрасываются.
func normalizeKrakenAsset(code string) string {
	code = strings.ToUpper(code)
	if i := strings.IndexByte(code, '.'); i > 0 {
		code = code[:i]
	}
	if len(code) == 4 && (code[0] == 'X' || code[0] == 'Z') {
		code = code[1:]
	}
	for common, kraken := range krakenAssetCodes {
		if code == kraken {
			return common
		}
	}
	return code
}
