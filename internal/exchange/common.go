package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"tradeguard/internal/metrics"
	"tradeguard/pkg/errs"
	"tradeguard/pkg/ratelimit"
	"tradeguard/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxResponseSize = 4 << 20
	maxErrorBody    = 512
)

// ErrNoGuard - ордер без OrderGuard не отправляется
var ErrNoGuard = errors.New("order guard is required")

// base содержит общую для всех бирж логику: предпроверку ордера, лимитер и HTTP транспорт
type base struct {
	name           string
	baseURL        string
	opts           Options
	client         *HTTPClient
	limiter        RateLimiter
	log            *utils.Logger
	orderTypes     map[string]bool
	needPassphrase bool
	paper          bool // симулятор не требует ключей
}

func newBase(name, prodURL, testnetURL string, opts Options, orderTypes ...string) base {
	b := base{
		name:       name,
		baseURL:    prodURL,
		opts:       opts,
		client:     opts.HTTPClient,
		limiter:    opts.Limiter,
		orderTypes: make(map[string]bool, len(orderTypes)),
	}
	if opts.Testnet && testnetURL != "" {
		b.baseURL = testnetURL
	}
	if opts.BaseURL != "" {
		b.baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if b.client == nil {
		b.client = GetGlobalHTTPClient()
	}
	// у каждого экземпляра адаптера свой счетчик, если общий не передан
	if b.limiter == nil {
		b.limiter = ratelimit.NewWindowLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultLimit)
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.L()
	}
	b.log = logger.WithComponent("exchange").WithExchange(name)

	for _, t := range orderTypes {
		b.orderTypes[t] = true
	}
	return b
}

func (b *base) Name() string {
	return b.name
}

func (b *base) MapSymbol(symbol string) (string, error) {
	return MapSymbolFor(b.name, symbol)
}

// ============================================================
// Предпроверка ордера
// ============================================================

// preflight выполняется до подписи и любого сетевого вызова, строго в порядке:
// guard, параметры и границы объема, лимитер. Возвращает символ биржи.
func (b *base) preflight(ctx context.Context, guard OrderGuard, creds Credentials, p OrderParams, endpoint string) (string, error) {
	symbol, err := b.checkOrder(ctx, guard, creds, p)
	if err == nil {
		err = b.throttle(ctx, endpoint)
	}
	if err != nil {
		metrics.RecordRejection(b.name, errs.Kind(err))
		b.log.Debug("order refused before submission",
			utils.Symbol(p.Symbol), utils.Side(p.Side), utils.Amount(p.Amount), utils.Err(err))
		return "", err
	}
	return symbol, nil
}

func (b *base) checkOrder(ctx context.Context, guard OrderGuard, creds Credentials, p OrderParams) (string, error) {
	if guard == nil {
		return "", &errs.ValidationError{Field: "guard", Reason: ErrNoGuard.Error()}
	}
	if err := guard.AllowOrder(ctx); err != nil {
		return "", err
	}
	symbol, err := b.validateOrder(p)
	if err != nil {
		return "", err
	}
	if err := b.checkCredentials(creds); err != nil {
		return "", err
	}
	return symbol, nil
}

// validateOrder проверяет параметры и MinAmount <= amount <= MaxAmount
func (b *base) validateOrder(p OrderParams) (string, error) {
	symbol, err := b.MapSymbol(p.Symbol)
	if err != nil {
		return "", err
	}
	if p.Side != SideBuy && p.Side != SideSell {
		return "", errs.Validation("side", "must be buy or sell, got %q", p.Side)
	}
	if !b.orderTypes[p.Type] {
		return "", errs.Validation("type", "order type %q is not supported by %s", p.Type, b.name)
	}
	if err := utils.ValidatePositive("amount", p.Amount); err != nil {
		return "", err
	}
	if p.Amount < b.opts.MinAmount {
		return "", errs.Validation("amount", "%v is below minimum trade amount %v", p.Amount, b.opts.MinAmount)
	}
	if b.opts.MaxAmount > 0 && p.Amount > b.opts.MaxAmount {
		return "", errs.Validation("amount", "%v exceeds maximum trade amount %v", p.Amount, b.opts.MaxAmount)
	}

	switch p.Type {
	case OrderTypeLimit, OrderTypeStopLimit:
		if err := utils.ValidatePositive("price", p.Price); err != nil {
			return "", err
		}
	}
	switch p.Type {
	case OrderTypeStop, OrderTypeStopLimit, OrderTypeTrailingStop:
		if err := utils.ValidatePositive("stop_price", p.StopPrice); err != nil {
			return "", err
		}
	}
	return symbol, nil
}

func (b *base) checkCredentials(creds Credentials) error {
	if b.paper {
		return nil
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return &errs.AuthenticationError{Exchange: b.name, Message: "api key and secret are required"}
	}
	if b.needPassphrase && creds.Passphrase == "" {
		return &errs.AuthenticationError{Exchange: b.name, Message: "passphrase is required"}
	}
	return nil
}

// throttle учитывает запрос в лимитере (для GetBalances и GetOrderStatus - единственная проверка)
func (b *base) throttle(ctx context.Context, endpoint string) error {
	err := b.limiter.Allow(ctx, b.name, endpoint)
	var rateErr *errs.RateLimitError
	if errors.As(err, &rateErr) {
		metrics.RateLimited.WithLabelValues(b.name, endpoint).Inc()
	}
	return err
}

// ============================================================
// HTTP транспорт
// ============================================================

// send выполняет запрос. Транспортный сбой - NetworkError, HTTP 401/403 - AuthenticationError.
// Остальные статусы возвращаются вызывающему для разбора конверта биржи.
func (b *base) send(req *http.Request, endpoint string) ([]byte, int, error) {
	start := time.Now()

	resp, err := b.client.Do(req)
	if err != nil {
		metrics.RecordExchangeRequest(b.name, endpoint, "network", sinceMs(start))
		b.log.Warn("exchange request failed", utils.String("endpoint", endpoint), utils.Err(err))
		return nil, 0, &errs.NetworkError{Exchange: b.name, Op: req.Method + " " + endpoint, Original: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		metrics.RecordExchangeRequest(b.name, endpoint, "network", sinceMs(start))
		return nil, resp.StatusCode, &errs.NetworkError{Exchange: b.name, Op: "read " + endpoint, Original: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		metrics.RecordExchangeRequest(b.name, endpoint, "authentication", sinceMs(start))
		return nil, resp.StatusCode, &errs.AuthenticationError{
			Exchange: b.name,
			Message:  fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(body)),
		}
	}

	outcome := "ok"
	if resp.StatusCode >= 400 {
		outcome = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	metrics.RecordExchangeRequest(b.name, endpoint, outcome, sinceMs(start))
	b.log.Debug("exchange request", utils.String("endpoint", endpoint), utils.Int("status", resp.StatusCode), utils.Elapsed(time.Since(start)))

	return body, resp.StatusCode, nil
}

// decode разбирает ответ; нечитаемый ответ - ExchangeProtocolError с телом ответа
func (b *base) decode(body []byte, status int, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &errs.ExchangeProtocolError{
			Exchange:   b.name,
			Message:    "malformed response: " + truncate(body),
			HTTPStatus: status,
			Original:   err,
		}
	}
	return nil
}

// httpFailure - статус >= 400 без кода ошибки в конверте биржи
func (b *base) httpFailure(status int, body []byte) error {
	return &errs.ExchangeProtocolError{
		Exchange:   b.name,
		Code:       fmt.Sprintf("http_%d", status),
		Message:    truncate(body),
		HTTPStatus: status,
	}
}

// providerError сохраняет код и сообщение биржи; коды из authCodes - ошибка аутентификации
func (b *base) providerError(status int, code, message string, authCodes ...string) error {
	for _, c := range authCodes {
		if c == code {
			return &errs.AuthenticationError{Exchange: b.name, Message: "[" + code + "] " + message}
		}
	}
	return &errs.ExchangeProtocolError{Exchange: b.name, Code: code, Message: message, HTTPStatus: status}
}

func (b *base) url(path string) string {
	return b.baseURL + path
}

// ============================================================
// Нормализация результата
// ============================================================

// finalizeResult приводит результат к инвариантам: filled <= amount,
// filled + remaining == amount, cost = filled * average
func finalizeResult(r *OrderResult) *OrderResult {
	amount := decimal.NewFromFloat(r.Amount)
	filled := decimal.NewFromFloat(r.Filled)
	if filled.GreaterThan(amount) {
		filled = amount
	}
	if filled.IsNegative() {
		filled = decimal.Zero
	}
	r.Filled = filled.InexactFloat64()
	r.Remaining = amount.Sub(filled).InexactFloat64()

	if r.Cost == 0 && r.Average > 0 {
		r.Cost = filled.Mul(decimal.NewFromFloat(r.Average)).InexactFloat64()
	}
	if r.Average == 0 && r.Cost > 0 && filled.IsPositive() {
		r.Average = decimal.NewFromFloat(r.Cost).Div(filled).InexactFloat64()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return r
}

// ============================================================
// Числа, подписи, идентификаторы
// ============================================================

// formatNum печатает число без экспоненты и лишних нулей
func formatNum(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// parseNum разбирает строковое число биржи; пустая или некорректная строка - 0
func parseNum(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func hmacSHA256(secret, message []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(message)
	return h.Sum(nil)
}

func hmacSHA256Hex(secret, message string) string {
	return hex.EncodeToString(hmacSHA256([]byte(secret), []byte(message)))
}

func hmacSHA256Base64(secret, message string) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256([]byte(secret), []byte(message)))
}

func hmacSHA512(secret, message []byte) []byte {
	h := hmac.New(sha512.New, secret)
	h.Write(message)
	return h.Sum(nil)
}

// newClientOrderID - uuid без дефисов (OKX допускает только буквы и цифры)
func newClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func clientOrderID(p OrderParams) string {
	if p.ClientOrderID != "" {
		return p.ClientOrderID
	}
	return newClientOrderID()
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

func abs(v float64) float64 {
	return math.Abs(v)
}

func isAuthError(err error) bool {
	var authErr *errs.AuthenticationError
	return errors.As(err, &authErr)
}
