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
	kucoinBaseURL    = "https://api.kucoin.com"
	kucoinSandboxURL = "https://openapi-sandbox.kucoin.com"

	kucoinOrdersPath   = "/api/v1/orders"
	kucoinAccountsPath = "/api/v1/accounts"
	kucoinSuccessCode  = "200000"
)

// неверный timestamp, passphrase, подпись
var kucoinAuthCodes = []string{"400003", "400004", "400005"}

// KuCoin реализует Adapter для спотового API KuCoin (ключи версии 2).
// Passphrase передается подписанным тем же секретом.
type KuCoin struct {
	base
	now func() time.Time
}

// NewKuCoin создает адаптер KuCoin
func NewKuCoin(opts Options) *KuCoin {
	k := &KuCoin{
		base: newBase(ExchangeKuCoin, kucoinBaseURL, kucoinSandboxURL, opts, OrderTypeMarket, OrderTypeLimit),
		now:  time.Now,
	}
	k.needPassphrase = true
	return k
}

type kucoinOrder struct {
	ID          string `json:"id"`
	ClientOid   string `json:"clientOid"`
	Type        string `json:"type"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	DealFunds   string `json:"dealFunds"`
	DealSize    string `json:"dealSize"`
	Fee         string `json:"fee"`
	FeeCurrency string `json:"feeCurrency"`
	IsActive    bool   `json:"isActive"`
	CancelExist bool   `json:"cancelExist"`
	CreatedAt   int64  `json:"createdAt"`
}

func (k *KuCoin) CreateOrder(ctx context.Context, guard OrderGuard, creds Credentials, p OrderParams) (*OrderResult, error) {
	symbol, err := k.preflight(ctx, guard, creds, p, kucoinOrdersPath)
	if err != nil {
		return nil, err
	}

	clientOid := clientOrderID(p)
	order := map[string]string{
		"clientOid": clientOid,
		"side":      p.Side,
		"symbol":    symbol,
		"type":      p.Type,
		"size":      formatNum(p.Amount),
	}
	if p.Type == OrderTypeLimit {
		order["price"] = formatNum(p.Price)
		order["timeInForce"] = "GTC"
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	var data struct {
		OrderID string `json:"orderId"`
	}
	if err := k.signed(ctx, creds, http.MethodPost, kucoinOrdersPath, kucoinOrdersPath, string(payload), &data); err != nil {
		return nil, err
	}

	return finalizeResult(&OrderResult{
		ID:            data.OrderID,
		ClientOrderID: clientOid,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          p.Type,
		Status:        OrderStatusOpen,
		Amount:        p.Amount,
		Price:         p.Price,
	}), nil
}

func (k *KuCoin) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	if err := k.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := k.throttle(ctx, kucoinAccountsPath); err != nil {
		return nil, err
	}

	var accounts []struct {
		Currency  string `json:"currency"`
		Balance   string `json:"balance"`
		Available string `json:"available"`
		Holds     string `json:"holds"`
	}
	path := kucoinAccountsPath + "?type=trade"
	if err := k.signed(ctx, creds, http.MethodGet, kucoinAccountsPath, path, "", &accounts); err != nil {
		return nil, err
	}

	totals := make(map[string]*Balance)
	for _, a := range accounts {
		total := parseNum(a.Balance)
		if total == 0 {
			continue
		}
		agg, ok := totals[a.Currency]
		if !ok {
			agg = &Balance{Currency: a.Currency}
			totals[a.Currency] = agg
		}
		agg.Total += total
		agg.Free += parseNum(a.Available)
		agg.Used += parseNum(a.Holds)
	}

	balances := make([]Balance, 0, len(totals))
	for _, b := range totals {
		balances = append(balances, *b)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })
	return balances, nil
}

func (k *KuCoin) GetOrderStatus(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResult, error) {
	if _, err := k.MapSymbol(symbol); err != nil {
		return nil, err
	}
	if err := k.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := k.throttle(ctx, kucoinOrdersPath); err != nil {
		return nil, err
	}

	var o kucoinOrder
	path := kucoinOrdersPath + "/" + url.PathEscape(orderID)
	if err := k.signed(ctx, creds, http.MethodGet, kucoinOrdersPath, path, "", &o); err != nil {
		return nil, err
	}

	status := OrderStatusClosed
	switch {
	case o.IsActive:
		status = OrderStatusOpen
	case o.CancelExist:
		status = OrderStatusCanceled
	}

	r := &OrderResult{
		ID:            o.ID,
		ClientOrderID: o.ClientOid,
		Symbol:        symbol,
		Side:          o.Side,
		Type:          o.Type,
		Status:        status,
		Amount:        parseNum(o.Size),
		Filled:        parseNum(o.DealSize),
		Price:         parseNum(o.Price),
		Cost:          parseNum(o.DealFunds),
	}
	if fee := parseNum(o.Fee); fee > 0 {
		r.Fee = &Fee{Currency: o.FeeCurrency, Cost: fee}
	}
	if o.CreatedAt > 0 {
		r.Timestamp = time.UnixMilli(o.CreatedAt).UTC()
	}
	return finalizeResult(r), nil
}

// signed подписывает timestamp + method + path (с query) + body.
// endpoint - ключ лимитера и метрик, path - фактический путь запроса.
func (k *KuCoin) signed(ctx context.Context, creds Credentials, method, endpoint, path, body string, out interface{}) error {
	ts := strconv.FormatInt(utils.UnixMillis(k.now()), 10)

	req, err := http.NewRequestWithContext(ctx, method, k.url(path), strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("KC-API-KEY", creds.APIKey)
	req.Header.Set("KC-API-SIGN", hmacSHA256Base64(creds.APISecret, ts+method+path+body))
	req.Header.Set("KC-API-TIMESTAMP", ts)
	req.Header.Set("KC-API-PASSPHRASE", hmacSHA256Base64(creds.APISecret, creds.Passphrase))
	req.Header.Set("KC-API-KEY-VERSION", "2")

	respBody, status, err := k.send(req, endpoint)
	if err != nil {
		return err
	}

	var env struct {
		Code string              `json:"code"`
		Msg  string              `json:"msg"`
		Data jsoniter.RawMessage `json:"data"`
	}
	if err := k.decode(respBody, status, &env); err != nil {
		return err
	}
	if env.Code != kucoinSuccessCode {
		if env.Code == "" && status >= 400 {
			return k.httpFailure(status, respBody)
		}
		return k.providerError(status, env.Code, env.Msg, kucoinAuthCodes...)
	}
	if out != nil && len(env.Data) > 0 {
		return k.decode(env.Data, status, out)
	}
	return nil
}
