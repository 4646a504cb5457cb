package exchange

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradeguard/pkg/utils"
)

const (
	binanceBaseURL    = "https://api.binance.com"
	binanceTestnetURL = "https://testnet.binance.vision"
	binanceRecvWindow = "5000"

	binanceOrderPath   = "/api/v3/order"
	binanceAccountPath = "/api/v3/account"
)

// Коды ошибок Binance, означающие неверный ключ или подпись
var binanceAuthCodes = []string{"-1022", "-2014", "-2015"}

// Binance реализует Adapter для спотового API Binance.
// Подпись: hex HMAC-SHA256 по закодированной строке запроса, ключ в X-MBX-APIKEY.
type Binance struct {
	base
	now func() time.Time
}

// NewBinance создает адаптер Binance
func NewBinance(opts Options) *Binance {
	return &Binance{
		base: newBase(ExchangeBinance, binanceBaseURL, binanceTestnetURL, opts,
			OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit),
		now: time.Now,
	}
}

type binanceOrder struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	TransactTime        int64  `json:"transactTime"`
	Time                int64  `json:"time"`
	Fills               []struct {
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	} `json:"fills"`
}

func (b *Binance) CreateOrder(ctx context.Context, guard OrderGuard, creds Credentials, p OrderParams) (*OrderResult, error) {
	symbol, err := b.preflight(ctx, guard, creds, p, binanceOrderPath)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(p.Side))
	params.Set("quantity", formatNum(p.Amount))
	params.Set("newClientOrderId", clientOrderID(p))
	params.Set("newOrderRespType", "FULL")

	switch p.Type {
	case OrderTypeMarket:
		params.Set("type", "MARKET")
	case OrderTypeLimit:
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", formatNum(p.Price))
	case OrderTypeStop:
		params.Set("type", "STOP_LOSS")
		params.Set("stopPrice", formatNum(p.StopPrice))
	case OrderTypeStopLimit:
		params.Set("type", "STOP_LOSS_LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", formatNum(p.Price))
		params.Set("stopPrice", formatNum(p.StopPrice))
	}

	body, err := b.signedRequest(ctx, http.MethodPost, binanceOrderPath, params, creds)
	if err != nil {
		return nil, err
	}

	var o binanceOrder
	if err := b.decode(body, http.StatusOK, &o); err != nil {
		return nil, err
	}
	return b.toResult(p.Symbol, &o), nil
}

func (b *Binance) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	if err := b.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := b.throttle(ctx, binanceAccountPath); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("omitZeroBalances", "true")

	body, err := b.signedRequest(ctx, http.MethodGet, binanceAccountPath, params, creds)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := b.decode(body, http.StatusOK, &resp); err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(resp.Balances))
	for _, bal := range resp.Balances {
		free, used := parseNum(bal.Free), parseNum(bal.Locked)
		if free+used == 0 {
			continue
		}
		balances = append(balances, Balance{Currency: bal.Asset, Free: free, Used: used, Total: free + used})
	}
	return balances, nil
}

func (b *Binance) GetOrderStatus(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResult, error) {
	exSymbol, err := b.MapSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := b.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := b.throttle(ctx, binanceOrderPath); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", exSymbol)
	params.Set("orderId", orderID)

	body, err := b.signedRequest(ctx, http.MethodGet, binanceOrderPath, params, creds)
	if err != nil {
		return nil, err
	}

	var o binanceOrder
	if err := b.decode(body, http.StatusOK, &o); err != nil {
		return nil, err
	}
	return b.toResult(symbol, &o), nil
}

// signedRequest добавляет recvWindow и timestamp, подписывает строку запроса
// и передает параметры в URL (Binance принимает их так же и для POST)
func (b *Binance) signedRequest(ctx context.Context, method, path string, params url.Values, creds Credentials) ([]byte, error) {
	params.Set("recvWindow", binanceRecvWindow)
	params.Set("timestamp", strconv.FormatInt(utils.UnixMillis(b.now()), 10))

	query := params.Encode()
	query += "&signature=" + hmacSHA256Hex(creds.APISecret, query)

	req, err := http.NewRequestWithContext(ctx, method, b.url(path)+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", creds.APIKey)

	body, status, err := b.send(req, path)
	if err != nil {
		return nil, err
	}

	if status >= 400 {
		var e struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &e) == nil && e.Code != 0 {
			return nil, b.providerError(status, strconv.Itoa(e.Code), e.Msg, binanceAuthCodes...)
		}
		return nil, b.httpFailure(status, body)
	}
	return body, nil
}

func (b *Binance) toResult(symbol string, o *binanceOrder) *OrderResult {
	r := &OrderResult{
		ID:            strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          strings.ToLower(o.Side),
		Type:          binanceOrderType(o.Type),
		Status:        binanceStatus(o.Status),
		Amount:        parseNum(o.OrigQty),
		Filled:        parseNum(o.ExecutedQty),
		Price:         parseNum(o.Price),
		Cost:          parseNum(o.CummulativeQuoteQty),
	}

	ts := o.TransactTime
	if ts == 0 {
		ts = o.Time
	}
	if ts > 0 {
		r.Timestamp = time.UnixMilli(ts).UTC()
	}

	for _, f := range o.Fills {
		if r.Fee == nil {
			r.Fee = &Fee{Currency: f.CommissionAsset}
		}
		if f.CommissionAsset == r.Fee.Currency {
			r.Fee.Cost += parseNum(f.Commission)
		}
	}
	return finalizeResult(r)
}

func binanceStatus(s string) string {
	switch s {
	case "FILLED":
		return OrderStatusClosed
	case "CANCELED", "PENDING_CANCEL":
		return OrderStatusCanceled
	case "REJECTED":
		return OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return OrderStatusExpired
	default:
		return OrderStatusOpen
	}
}

func binanceOrderType(t string) string {
	switch t {
	case "MARKET":
		return OrderTypeMarket
	case "LIMIT", "LIMIT_MAKER":
		return OrderTypeLimit
	case "STOP_LOSS", "TAKE_PROFIT":
		return OrderTypeStop
	case "STOP_LOSS_LIMIT", "TAKE_PROFIT_LIMIT":
		return OrderTypeStopLimit
	default:
		return strings.ToLower(t)
	}
}
