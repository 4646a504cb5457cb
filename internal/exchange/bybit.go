package exchange

import (
	"context"
	"io"
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
	bybitBaseURL    = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"
	bybitRecvWindow = "5000"

	bybitOrderCreatePath = "/v5/order/create"
	bybitOrderStatusPath = "/v5/order/realtime"
	bybitWalletPath      = "/v5/account/wallet-balance"
)

// неверный ключ API, ошибка подписи
var bybitAuthCodes = []string{"10003", "10004"}

// Bybit реализует Adapter для спотового API Bybit v5
type Bybit struct {
	base
	now func() time.Time
}

// NewBybit создает адаптер Bybit
func NewBybit(opts Options) *Bybit {
	return &Bybit{
		base: newBase(ExchangeBybit, bybitBaseURL, bybitTestnetURL, opts, OrderTypeMarket, OrderTypeLimit),
		now:  time.Now,
	}
}

type bybitOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	OrderStatus string `json:"orderStatus"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	Price       string `json:"price"`
	CumExecFee  string `json:"cumExecFee"`
	CreatedTime string `json:"createdTime"`
}

// sign создает подпись запроса Bybit v5: hex HMAC-SHA256(timestamp + apiKey + recvWindow + payload)
func (b *Bybit) sign(creds Credentials, timestamp, payload string) string {
	return hmacSHA256Hex(creds.APISecret, timestamp+creds.APIKey+bybitRecvWindow+payload)
}

// doRequest выполняет подписанный запрос. Для GET подписывается строка запроса, для POST - JSON тело.
func (b *Bybit) doRequest(ctx context.Context, creds Credentials, method, endpoint string, params map[string]string, out interface{}) error {
	var payload, reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		payload = query.Encode()
		reqURL = b.url(endpoint)
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		reqURL = b.url(endpoint)
		if len(params) > 0 {
			body, err := json.Marshal(params)
			if err != nil {
				return err
			}
			payload = string(body)
		}
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return err
	}

	timestamp := strconv.FormatInt(utils.UnixMillis(b.now()), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", creds.APIKey)
	req.Header.Set("X-BAPI-SIGN", b.sign(creds, timestamp, payload))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)

	body, status, err := b.send(req, endpoint)
	if err != nil {
		return err
	}

	var env struct {
		RetCode *int                `json:"retCode"`
		RetMsg  string              `json:"retMsg"`
		Result  jsoniter.RawMessage `json:"result"`
	}
	if err := b.decode(body, status, &env); err != nil {
		return err
	}
	if env.RetCode == nil {
		return b.httpFailure(status, body)
	}
	if *env.RetCode != 0 {
		return b.providerError(status, strconv.Itoa(*env.RetCode), env.RetMsg, bybitAuthCodes...)
	}
	if out != nil && len(env.Result) > 0 {
		return b.decode(env.Result, status, out)
	}
	return nil
}

func (b *Bybit) CreateOrder(ctx context.Context, guard OrderGuard, creds Credentials, p OrderParams) (*OrderResult, error) {
	symbol, err := b.preflight(ctx, guard, creds, p, bybitOrderCreatePath)
	if err != nil {
		return nil, err
	}

	// Конвертируем side и тип в формат Bybit
	bybitSide := "Buy"
	if p.Side == SideSell {
		bybitSide = "Sell"
	}

	linkID := clientOrderID(p)
	params := map[string]string{
		"category":    "spot",
		"symbol":      symbol,
		"side":        bybitSide,
		"qty":         formatNum(p.Amount),
		"orderLinkId": linkID,
	}
	if p.Type == OrderTypeMarket {
		params["orderType"] = "Market"
		params["marketUnit"] = "baseCoin"
	} else {
		params["orderType"] = "Limit"
		params["price"] = formatNum(p.Price)
		params["timeInForce"] = "GTC"
	}

	var created struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := b.doRequest(ctx, creds, http.MethodPost, bybitOrderCreatePath, params, &created); err != nil {
		return nil, err
	}

	// Получаем информацию об исполнении; при неудаче ордер остается open
	result, err := b.GetOrderStatus(ctx, creds, p.Symbol, created.OrderID)
	if err == nil {
		return result, nil
	}
	b.log.Debug("order execution info unavailable", utils.OrderID(created.OrderID), utils.Err(err))

	return finalizeResult(&OrderResult{
		ID:            created.OrderID,
		ClientOrderID: linkID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          p.Type,
		Status:        OrderStatusOpen,
		Amount:        p.Amount,
		Price:         p.Price,
	}), nil
}

func (b *Bybit) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	if err := b.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := b.throttle(ctx, bybitWalletPath); err != nil {
		return nil, err
	}

	params := map[string]string{"accountType": "UNIFIED"}

	var resp struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := b.doRequest(ctx, creds, http.MethodGet, bybitWalletPath, params, &resp); err != nil {
		return nil, err
	}

	var balances []Balance
	for _, acc := range resp.List {
		for _, c := range acc.Coin {
			total := parseNum(c.WalletBalance)
			if total == 0 {
				continue
			}
			locked := parseNum(c.Locked)
			balances = append(balances, Balance{Currency: c.Coin, Free: total - locked, Used: locked, Total: total})
		}
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })
	return balances, nil
}

func (b *Bybit) GetOrderStatus(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResult, error) {
	exSymbol, err := b.MapSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := b.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := b.throttle(ctx, bybitOrderStatusPath); err != nil {
		return nil, err
	}

	params := map[string]string{
		"category": "spot",
		"symbol":   exSymbol,
		"orderId":  orderID,
	}

	var resp struct {
		List []bybitOrder `json:"list"`
	}
	if err := b.doRequest(ctx, creds, http.MethodGet, bybitOrderStatusPath, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.List) == 0 {
		return nil, b.providerError(http.StatusOK, "110001", "order "+orderID+" does not exist")
	}
	o := resp.List[0]

	r := &OrderResult{
		ID:            o.OrderID,
		ClientOrderID: o.OrderLinkID,
		Symbol:        symbol,
		Side:          strings.ToLower(o.Side),
		Type:          strings.ToLower(o.OrderType),
		Status:        bybitStatus(o.OrderStatus),
		Amount:        parseNum(o.Qty),
		Filled:        parseNum(o.CumExecQty),
		Price:         parseNum(o.Price),
		Average:       parseNum(o.AvgPrice),
	}
	if fee := parseNum(o.CumExecFee); fee > 0 {
		r.Fee = &Fee{Cost: fee}
	}
	if ms, err := strconv.ParseInt(o.CreatedTime, 10, 64); err == nil && ms > 0 {
		r.Timestamp = time.UnixMilli(ms).UTC()
	}
	return finalizeResult(r), nil
}

func bybitStatus(s string) string {
	switch s {
	case "Filled":
		return OrderStatusClosed
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return OrderStatusCanceled
	case "Rejected":
		return OrderStatusRejected
	default: // New, PartiallyFilled, Untriggered
		return OrderStatusOpen
	}
}
