package exchange

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const (
	deribitBaseURL    = "https://www.deribit.com"
	deribitTestnetURL = "https://test.deribit.com"

	deribitAuthPath      = "/api/v2/public/auth"
	deribitBuyPath       = "/api/v2/private/buy"
	deribitSellPath      = "/api/v2/private/sell"
	deribitSummariesPath = "/api/v2/private/get_account_summaries"
	deribitOrderPath     = "/api/v2/private/get_order_state"

	// токен обновляется заранее, чтобы не истечь во время запроса
	deribitTokenMargin = 30 * time.Second
)

// invalid_credentials, unauthorized
var deribitAuthCodes = []string{"13004", "13009"}

type deribitToken struct {
	value   string
	expires time.Time
}

// Deribit реализует Adapter для JSON-RPC over HTTP API Deribit.
// client_id/client_secret обмениваются на bearer токен, который кэшируется до expires_in.
type Deribit struct {
	base
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]deribitToken // по client_id
}

// NewDeribit создает адаптер Deribit
func NewDeribit(opts Options) *Deribit {
	return &Deribit{
		base: newBase(ExchangeDeribit, deribitBaseURL, deribitTestnetURL, opts,
			OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit),
		now:    time.Now,
		tokens: make(map[string]deribitToken),
	}
}

type deribitOrder struct {
	OrderID           string      `json:"order_id"`
	Label             string      `json:"label"`
	InstrumentName    string      `json:"instrument_name"`
	Direction         string      `json:"direction"`
	OrderType         string      `json:"order_type"`
	OrderState        string      `json:"order_state"`
	Amount            float64     `json:"amount"`
	FilledAmount      float64     `json:"filled_amount"`
	Price             interface{} `json:"price"` // число или "market_price"
	AveragePrice      float64     `json:"average_price"`
	CreationTimestamp int64       `json:"creation_timestamp"`
}

type deribitTrade struct {
	Fee         float64 `json:"fee"`
	FeeCurrency string  `json:"fee_currency"`
}

func (d *Deribit) CreateOrder(ctx context.Context, guard OrderGuard, creds Credentials, p OrderParams) (*OrderResult, error) {
	path := deribitBuyPath
	if p.Side == SideSell {
		path = deribitSellPath
	}

	instrument, err := d.preflight(ctx, guard, creds, p, path)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("instrument_name", instrument)
	params.Set("amount", formatNum(p.Amount))
	params.Set("label", clientOrderID(p))
	if p.ReduceOnly {
		params.Set("reduce_only", "true")
	}

	switch p.Type {
	case OrderTypeMarket:
		params.Set("type", "market")
	case OrderTypeLimit:
		params.Set("type", "limit")
		params.Set("price", formatNum(p.Price))
	case OrderTypeStop:
		params.Set("type", "stop_market")
		params.Set("trigger_price", formatNum(p.StopPrice))
		params.Set("trigger", "last_price")
	case OrderTypeStopLimit:
		params.Set("type", "stop_limit")
		params.Set("price", formatNum(p.Price))
		params.Set("trigger_price", formatNum(p.StopPrice))
		params.Set("trigger", "last_price")
	}

	var result struct {
		Order  deribitOrder   `json:"order"`
		Trades []deribitTrade `json:"trades"`
	}
	if err := d.private(ctx, creds, path, params, &result); err != nil {
		return nil, err
	}
	return d.toResult(p.Symbol, &result.Order, result.Trades), nil
}

func (d *Deribit) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	if err := d.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := d.throttle(ctx, deribitSummariesPath); err != nil {
		return nil, err
	}

	var result struct {
		Summaries []struct {
			Currency       string  `json:"currency"`
			Equity         float64 `json:"equity"`
			AvailableFunds float64 `json:"available_funds"`
		} `json:"summaries"`
	}
	if err := d.private(ctx, creds, deribitSummariesPath, url.Values{}, &result); err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(result.Summaries))
	for _, s := range result.Summaries {
		if s.Equity == 0 {
			continue
		}
		balances = append(balances, Balance{
			Currency: s.Currency,
			Free:     s.AvailableFunds,
			Used:     s.Equity - s.AvailableFunds,
			Total:    s.Equity,
		})
	}
	return balances, nil
}

func (d *Deribit) GetOrderStatus(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResult, error) {
	if _, err := d.MapSymbol(symbol); err != nil {
		return nil, err
	}
	if err := d.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := d.throttle(ctx, deribitOrderPath); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("order_id", orderID)

	var o deribitOrder
	if err := d.private(ctx, creds, deribitOrderPath, params, &o); err != nil {
		return nil, err
	}
	return d.toResult(symbol, &o, nil), nil
}

// private выполняет приватный метод с bearer токеном.
// При ошибке аутентификации токен удаляется из кэша.
func (d *Deribit) private(ctx context.Context, creds Credentials, path string, params url.Values, out interface{}) error {
	token, err := d.token(ctx, creds)
	if err != nil {
		return err
	}
	err = d.call(ctx, path, params, token, out)
	if err != nil && isAuthError(err) {
		d.dropToken(creds.APIKey)
	}
	return err
}

// token возвращает кэшированный токен или получает новый через public/auth
func (d *Deribit) token(ctx context.Context, creds Credentials) (string, error) {
	d.mu.Lock()
	t, ok := d.tokens[creds.APIKey]
	d.mu.Unlock()
	if ok && d.now().Add(deribitTokenMargin).Before(t.expires) {
		return t.value, nil
	}

	if err := d.throttle(ctx, deribitAuthPath); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("grant_type", "client_credentials")
	params.Set("client_id", creds.APIKey)
	params.Set("client_secret", creds.APISecret)

	var auth struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"` // секунды
	}
	if err := d.call(ctx, deribitAuthPath, params, "", &auth); err != nil {
		return "", err
	}
	if auth.AccessToken == "" {
		return "", d.providerError(http.StatusOK, "", "auth response without access_token")
	}

	d.mu.Lock()
	d.tokens[creds.APIKey] = deribitToken{
		value:   auth.AccessToken,
		expires: d.now().Add(time.Duration(auth.ExpiresIn) * time.Second),
	}
	d.mu.Unlock()

	return auth.AccessToken, nil
}

func (d *Deribit) dropToken(clientID string) {
	d.mu.Lock()
	delete(d.tokens, clientID)
	d.mu.Unlock()
}

// call выполняет GET запрос и разбирает конверт JSON-RPC
func (d *Deribit) call(ctx context.Context, path string, params url.Values, token string, out interface{}) error {
	reqURL := d.url(path)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	body, status, err := d.send(req, path)
	if err != nil {
		return err
	}

	var env struct {
		Result jsoniter.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := d.decode(body, status, &env); err != nil {
		return err
	}
	if env.Error != nil {
		return d.providerError(status, strconv.Itoa(env.Error.Code), env.Error.Message, deribitAuthCodes...)
	}
	if status >= 400 {
		return d.httpFailure(status, body)
	}
	if out != nil {
		return d.decode(env.Result, status, out)
	}
	return nil
}

func (d *Deribit) toResult(symbol string, o *deribitOrder, trades []deribitTrade) *OrderResult {
	r := &OrderResult{
		ID:            o.OrderID,
		ClientOrderID: o.Label,
		Symbol:        symbol,
		Side:          o.Direction,
		Type:          deribitOrderType(o.OrderType),
		Status:        deribitStatus(o.OrderState),
		Amount:        o.Amount,
		Filled:        o.FilledAmount,
		Average:       o.AveragePrice,
	}
	if price, ok := o.Price.(float64); ok {
		r.Price = price
	}
	if o.CreationTimestamp > 0 {
		r.Timestamp = time.UnixMilli(o.CreationTimestamp).UTC()
	}
	for _, t := range trades {
		if r.Fee == nil {
			r.Fee = &Fee{Currency: t.FeeCurrency}
		}
		r.Fee.Cost += t.Fee
	}
	return finalizeResult(r)
}

func deribitStatus(s string) string {
	switch s {
	case "filled":
		return OrderStatusClosed
	case "cancelled":
		return OrderStatusCanceled
	case "rejected":
		return OrderStatusRejected
	default: // open, untriggered
		return OrderStatusOpen
	}
}

func deribitOrderType(t string) string {
	switch t {
	case "stop_market":
		return OrderTypeStop
	case "stop_limit":
		return OrderTypeStopLimit
	case "trailing_stop":
		return OrderTypeTrailingStop
	default:
		return t
	}
}
