package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

const (
	krakenBaseURL = "https://api.kraken.com"

	krakenAddOrderPath    = "/0/private/AddOrder"
	krakenBalancePath     = "/0/private/BalanceEx"
	krakenQueryOrdersPath = "/0/private/QueryOrders"
)

var krakenAuthCodes = []string{"EAPI:Invalid key", "EAPI:Invalid signature"}

// nonceSource выдает строго возрастающие nonce в микросекундах.
// При совпадении времени значение увеличивается на 1 через CAS.
type nonceSource struct {
	last atomic.Int64
	now  func() time.Time
}

func (n *nonceSource) Next() int64 {
	for {
		prev := n.last.Load()
		next := n.now().UnixMicro()
		if next <= prev {
			next = prev + 1
		}
		if n.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// nonce Kraken привязан к ключу API, а не к экземпляру адаптера
var krakenNonces = &nonceSource{now: time.Now}

// Kraken реализует Adapter для спотового REST API Kraken.
// У Kraken нет спотового sandbox: в режиме testnet AddOrder отправляется с validate=true.
type Kraken struct {
	base
	nonces *nonceSource
}

// NewKraken создает адаптер Kraken
func NewKraken(opts Options) *Kraken {
	return &Kraken{
		base: newBase(ExchangeKraken, krakenBaseURL, "", opts,
			OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit, OrderTypeTrailingStop),
		nonces: krakenNonces,
	}
}

type krakenOrderInfo struct {
	Status  string  `json:"status"`
	OpenTm  float64 `json:"opentm"`
	Vol     string  `json:"vol"`
	VolExec string  `json:"vol_exec"`
	Cost    string  `json:"cost"`
	Fee     string  `json:"fee"`
	Price   string  `json:"price"` // средняя цена исполнения
	ClOrdID string  `json:"cl_ord_id"`
	Descr   struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
	} `json:"descr"`
}

func (k *Kraken) CreateOrder(ctx context.Context, guard OrderGuard, creds Credentials, p OrderParams) (*OrderResult, error) {
	pair, err := k.preflight(ctx, guard, creds, p, krakenAddOrderPath)
	if err != nil {
		return nil, err
	}

	clOrdID := clientOrderID(p)

	form := url.Values{}
	form.Set("pair", pair)
	form.Set("type", p.Side)
	form.Set("volume", formatNum(p.Amount))
	form.Set("cl_ord_id", clOrdID)
	if p.ReduceOnly {
		form.Set("reduce_only", "true")
	}
	if k.opts.Testnet {
		form.Set("validate", "true")
	}

	switch p.Type {
	case OrderTypeMarket:
		form.Set("ordertype", "market")
	case OrderTypeLimit:
		form.Set("ordertype", "limit")
		form.Set("price", formatNum(p.Price))
	case OrderTypeStop:
		form.Set("ordertype", "stop-loss")
		form.Set("price", formatNum(p.StopPrice))
	case OrderTypeStopLimit:
		form.Set("ordertype", "stop-loss-limit")
		form.Set("price", formatNum(p.StopPrice))
		form.Set("price2", formatNum(p.Price))
	case OrderTypeTrailingStop:
		form.Set("ordertype", "trailing-stop")
		form.Set("price", "+"+formatNum(p.StopPrice))
	}

	var result struct {
		TxID []string `json:"txid"`
	}
	if err := k.private(ctx, creds, krakenAddOrderPath, form, &result); err != nil {
		return nil, err
	}

	r := &OrderResult{
		ClientOrderID: clOrdID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          p.Type,
		Status:        OrderStatusOpen,
		Amount:        p.Amount,
		Price:         p.Price,
	}
	if len(result.TxID) > 0 {
		r.ID = result.TxID[0]
	} else {
		// validate=true: ордер проверен биржей, но не размещен
		r.ID = clOrdID
		r.Status = OrderStatusCanceled
		k.log.Info("kraken order validated only", utils.Symbol(p.Symbol), utils.OrderID(clOrdID))
	}
	return finalizeResult(r), nil
}

func (k *Kraken) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	if err := k.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := k.throttle(ctx, krakenBalancePath); err != nil {
		return nil, err
	}

	var result map[string]struct {
		Balance   string `json:"balance"`
		HoldTrade string `json:"hold_trade"`
	}
	if err := k.private(ctx, creds, krakenBalancePath, url.Values{}, &result); err != nil {
		return nil, err
	}

	// XXBT и XBT.F сводятся в одну валюту BTC
	totals := make(map[string]*Balance)
	for code, bal := range result {
		currency := normalizeKrakenAsset(code)
		total, hold := parseNum(bal.Balance), parseNum(bal.HoldTrade)
		if total == 0 {
			continue
		}
		agg, ok := totals[currency]
		if !ok {
			agg = &Balance{Currency: currency}
			totals[currency] = agg
		}
		agg.Total += total
		agg.Used += hold
		agg.Free += total - hold
	}

	balances := make([]Balance, 0, len(totals))
	for _, b := range totals {
		balances = append(balances, *b)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })
	return balances, nil
}

func (k *Kraken) GetOrderStatus(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResult, error) {
	if _, err := k.MapSymbol(symbol); err != nil {
		return nil, err
	}
	if err := k.checkCredentials(creds); err != nil {
		return nil, err
	}
	if err := k.throttle(ctx, krakenQueryOrdersPath); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("txid", orderID)

	var result map[string]krakenOrderInfo
	if err := k.private(ctx, creds, krakenQueryOrdersPath, form, &result); err != nil {
		return nil, err
	}
	info, ok := result[orderID]
	if !ok {
		return nil, k.providerError(http.StatusOK, "EOrder:Unknown order", "order "+orderID+" not found")
	}

	r := &OrderResult{
		ID:            orderID,
		ClientOrderID: info.ClOrdID,
		Symbol:        symbol,
		Side:          info.Descr.Type,
		Type:          krakenOrderType(info.Descr.OrderType),
		Status:        krakenStatus(info.Status),
		Amount:        parseNum(info.Vol),
		Filled:        parseNum(info.VolExec),
		Price:         parseNum(info.Descr.Price),
		Average:       parseNum(info.Price),
		Cost:          parseNum(info.Cost),
	}
	if fee := parseNum(info.Fee); fee > 0 {
		_, quote, _ := utils.SplitSymbol(symbol)
		r.Fee = &Fee{Currency: quote, Cost: fee}
	}
	if info.OpenTm > 0 {
		r.Timestamp = time.UnixMicro(int64(info.OpenTm * 1e6)).UTC()
	}
	return finalizeResult(r), nil
}

// sign: base64(HMAC-SHA512(base64decode(secret), path + SHA256(nonce + postdata)))
func (k *Kraken) sign(path, nonce, postData string, secret []byte) string {
	sum := sha256.Sum256([]byte(nonce + postData))
	message := append([]byte(path), sum[:]...)
	return base64.StdEncoding.EncodeToString(hmacSHA512(secret, message))
}

// private выполняет подписанный POST и разбирает конверт {error: [], result: {}}
func (k *Kraken) private(ctx context.Context, creds Credentials, path string, form url.Values, out interface{}) error {
	secret, err := base64.StdEncoding.DecodeString(creds.APISecret)
	if err != nil {
		return &errs.AuthenticationError{Exchange: k.name, Message: "api secret is not valid base64", Original: err}
	}

	nonce := strconv.FormatInt(k.nonces.Next(), 10)
	form.Set("nonce", nonce)
	postData := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.url(path), strings.NewReader(postData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("API-Key", creds.APIKey)
	req.Header.Set("API-Sign", k.sign(path, nonce, postData, secret))

	body, status, err := k.send(req, path)
	if err != nil {
		return err
	}

	var env struct {
		Error  []string            `json:"error"`
		Result jsoniter.RawMessage `json:"result"`
	}
	if err := k.decode(body, status, &env); err != nil {
		return err
	}
	if len(env.Error) > 0 {
		return k.providerError(status, env.Error[0], strings.Join(env.Error, "; "), krakenAuthCodes...)
	}
	if status >= 400 {
		return k.httpFailure(status, body)
	}
	if out != nil && len(env.Result) > 0 {
		return k.decode(env.Result, status, out)
	}
	return nil
}

func krakenStatus(s string) string {
	switch s {
	case "closed":
		return OrderStatusClosed
	case "canceled":
		return OrderStatusCanceled
	case "expired":
		return OrderStatusExpired
	default: // pending, open
		return OrderStatusOpen
	}
}

func krakenOrderType(t string) string {
	switch t {
	case "stop-loss":
		return OrderTypeStop
	case "stop-loss-limit":
		return OrderTypeStopLimit
	case "trailing-stop":
		return OrderTypeTrailingStop
	default:
		return t
	}
}
