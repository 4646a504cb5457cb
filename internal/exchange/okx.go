package exchange

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tradeguard/pkg/utils"
)

const (
	okxBaseURL = "https://www.okx.com"

	okxOrderPath   = "/api/v5/trade/order"
	okxBalancePath = "/api/v5/account/balance"
)

// ошибки ключа, подписи и timestamp
var okxAuthCodes = []string{"50111", "50112", "50113"}

// OKX реализует Adapter для спотового API OKX v5.
// Demo trading использует тот же хост с заголовком x-simulated-trading: 1.
type OKX struct {
	base
	now func() time.Time
}

// NewOKX создает адаптер OKX
func NewOKX(opts Options) *OKX {
	o := &OKX{
		base: newBase(ExchangeOKX, okxBaseURL, "", opts, OrderTypeMarket, OrderTypeLimit),
		now:  time.Now,
	}
	o.needPassphrase = true
	return o
}

type okxOrder struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	State     string `json:"state"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Px        string `json:"px"`
	Fee       string `json:"fee"` // отрицательная - списанная комиссия
	FeeCcy    string `json:"feeCcy"`
	CTime     string `json:"cTime"`
}

func (o *OKX) CreateOrder(ctx context.Context, guard OrderGuard, creds Credentials, p OrderParams) (*OrderResult, error) {
	instID, err := o.preflight(ctx, guard, creds, p, okxOrderPath)
	if err != nil {
		return nil, err
	}

	clOrdID := clientOrderID(p)
	order := map[string]string{
		"instId":  instID,
		"tdMode":  "cash",
		"side":    p.Side,
		"ordType": p.Type,
		"sz":      formatNum(p.Amount),
		"clOrdId": clOrdID,
	}
	switch p.Type {
	case OrderTypeMarket:
		// размер рыночного ордера в базовой валюте, а не в котируемой
		order["tgtCcy"] = "base_ccy"
	case OrderTypeLimit:
		order["px"] = formatNum(p.Price)
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	var data []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := o.signed(ctx, creds, http.MethodPost, okxOrderPath, okxOrderPath, string(payload), &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, o.providerError(http.StatusOK, "", "empty order response")
	}
	if data[0].SCode != "" && data[0].SCode != "0" {
		return nil, o.providerError(http.StatusOK, data[0].SCode, data[0].SMsg, okxAuthCodes...)
	}

	return finalizeResult(&OrderResult{
		ID:            data[0].OrdID,
		ClientOrderID: clOrdID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          p.Type,
		Status:        OrderStatusOpen,
		Amount:        p.Amount,
		Price:         p.Price,
	}), nil
}

func (o *OKX) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	if err := o.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := o.throttle(ctx, okxBalancePath); err != nil {
		return nil, err
	}

	var data []struct {
		Details []struct {
			Ccy       string `json:"ccy"`
			CashBal   string `json:"cashBal"`
			AvailBal  string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
	}
	if err := o.signed(ctx, creds, http.MethodGet, okxBalancePath, okxBalancePath, "", &data); err != nil {
		return nil, err
	}

	var balances []Balance
	for _, acc := range data {
		for _, d := range acc.Details {
			total := parseNum(d.CashBal)
			if total == 0 {
				continue
			}
			balances = append(balances, Balance{
				Currency: d.Ccy,
				Free:     parseNum(d.AvailBal),
				Used:     parseNum(d.FrozenBal),
				Total:    total,
			})
		}
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })
	return balances, nil
}

func (o *OKX) GetOrderStatus(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResult, error) {
	instID, err := o.MapSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := o.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := o.throttle(ctx, okxOrderPath); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("instId", instID)
	q.Set("ordId", orderID)

	var data []okxOrder
	if err := o.signed(ctx, creds, http.MethodGet, okxOrderPath, okxOrderPath+"?"+q.Encode(), "", &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, o.providerError(http.StatusOK, "51603", "order "+orderID+" does not exist")
	}
	d := data[0]

	r := &OrderResult{
		ID:            d.OrdID,
		ClientOrderID: d.ClOrdID,
		Symbol:        symbol,
		Side:          d.Side,
		Type:          d.OrdType,
		Status:        okxStatus(d.State),
		Amount:        parseNum(d.Sz),
		Filled:        parseNum(d.AccFillSz),
		Price:         parseNum(d.Px),
		Average:       parseNum(d.AvgPx),
	}
	if fee := parseNum(d.Fee); fee != 0 {
		r.Fee = &Fee{Currency: d.FeeCcy, Cost: abs(fee)}
	}
	if ms, err := strconv.ParseInt(d.CTime, 10, 64); err == nil && ms > 0 {
		r.Timestamp = time.UnixMilli(ms).UTC()
	}
	return finalizeResult(r), nil
}

// signed подписывает ISO-8601 timestamp + method + path (с query) + body
func (o *OKX) signed(ctx context.Context, creds Credentials, method, endpoint, path, body string, out interface{}) error {
	ts := utils.ISOMillis(o.now())

	req, err := http.NewRequestWithContext(ctx, method, o.url(path), strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", creds.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", hmacSHA256Base64(creds.APISecret, ts+method+path+body))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", creds.Passphrase)
	if o.opts.Testnet {
		req.Header.Set("x-simulated-trading", "1")
	}

	respBody, status, err := o.send(req, endpoint)
	if err != nil {
		return err
	}

	var env struct {
		Code string              `json:"code"`
		Msg  string              `json:"msg"`
		Data jsoniter.RawMessage `json:"data"`
	}
	if err := o.decode(respBody, status, &env); err != nil {
		return err
	}
	if env.Code != "0" {
		if env.Code == "" && status >= 400 {
			return o.httpFailure(status, respBody)
		}
		// для ордеров причина отказа лежит в data[0].sCode
		var items []struct {
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		}
		if json.Unmarshal(env.Data, &items) == nil && len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
			return o.providerError(status, items[0].SCode, items[0].SMsg, okxAuthCodes...)
		}
		return o.providerError(status, env.Code, env.Msg, okxAuthCodes...)
	}
	if out != nil && len(env.Data) > 0 {
		return o.decode(env.Data, status, out)
	}
	return nil
}

func okxStatus(s string) string {
	switch s {
	case "filled":
		return OrderStatusClosed
	case "canceled", "mmp_canceled":
		return OrderStatusCanceled
	default: // live, partially_filled
		return OrderStatusOpen
	}
}
