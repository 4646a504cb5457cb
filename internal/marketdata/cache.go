// Package marketdata хранит последние котировки, полученные от внешнего источника.
// Собственных подключений к биржам у пакета нет: цены приходят через Update.
package marketdata

import (
	"sort"
	"sync"
	"time"

	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

// DefaultHistorySize - число хранимых значений цены на символ
const DefaultHistorySize = 256

// котируемые валюты, через которые оценивается актив, в порядке приоритета
var valuationQuotes = []string{"USDT", "USD", "USDC"}

// Quote - последняя цена символа
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

type series struct {
	last    Quote
	history []float64 // кольцевой буфер
	next    int
	full    bool
}

// PriceCache - потокобезопасный кэш цен с ограниченной историей.
// Реализует exchange.PriceSource.
type PriceCache struct {
	mu      sync.RWMutex
	symbols map[string]*series
	size    int
	now     func() time.Time
}

// NewPriceCache создает кэш; historySize <= 0 означает DefaultHistorySize
func NewPriceCache(historySize int) *PriceCache {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &PriceCache{
		symbols: make(map[string]*series),
		size:    historySize,
		now:     time.Now,
	}
}

// Update записывает новую цену символа BASE/QUOTE
func (c *PriceCache) Update(symbol string, price float64) error {
	base, quote, err := utils.SplitSymbol(symbol)
	if err != nil {
		return errs.Validation("symbol", "%v", err)
	}
	if err := utils.ValidatePositive("price", price); err != nil {
		return err
	}
	symbol = base + "/" + quote

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.symbols[symbol]
	if !ok {
		s = &series{history: make([]float64, c.size)}
		c.symbols[symbol] = s
	}
	s.last = Quote{Symbol: symbol, Price: price, UpdatedAt: c.now()}
	s.history[s.next] = price
	s.next = (s.next + 1) % c.size
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// LatestPrice возвращает последнюю цену символа
func (c *PriceCache) LatestPrice(symbol string) (float64, bool) {
	q, ok := c.Quote(symbol)
	return q.Price, ok
}

// Quote возвращает последнюю котировку символа
func (c *PriceCache) Quote(symbol string) (Quote, bool) {
	symbol = utils.NormalizeSymbol(symbol)

	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.symbols[symbol]
	if !ok {
		return Quote{}, false
	}
	return s.last, true
}

// History возвращает копию истории цен от старых к новым
func (c *PriceCache) History(symbol string) []float64 {
	symbol = utils.NormalizeSymbol(symbol)

	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.symbols[symbol]
	if !ok {
		return nil
	}
	if !s.full {
		return append([]float64(nil), s.history[:s.next]...)
	}
	out := make([]float64, 0, c.size)
	out = append(out, s.history[s.next:]...)
	return append(out, s.history[:s.next]...)
}

// PriceOf оценивает актив в долларах: стейблкоины - 1,
// остальные через первую найденную пару к USDT, USD или USDC
func (c *PriceCache) PriceOf(currency string) (float64, bool) {
	if utils.IsStablecoin(currency) {
		return 1, true
	}
	for _, quote := range valuationQuotes {
		if p, ok := c.LatestPrice(currency + "/" + quote); ok {
			return p, true
		}
	}
	return 0, false
}

// HistoryOf - история цены актива в долларах по той же паре, что и PriceOf
func (c *PriceCache) HistoryOf(currency string) []float64 {
	if utils.IsStablecoin(currency) {
		return nil
	}
	for _, quote := range valuationQuotes {
		if h := c.History(currency + "/" + quote); len(h) > 0 {
			return h
		}
	}
	return nil
}

// Snapshot возвращает последние котировки всех символов, отсортированные по символу
func (c *PriceCache) Snapshot() []Quote {
	c.mu.RLock()
	out := make([]Quote, 0, len(c.symbols))
	for _, s := range c.symbols {
		out = append(out, s.last)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
