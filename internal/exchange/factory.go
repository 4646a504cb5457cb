package exchange

import (
	"sort"
	"strings"

	"tradeguard/pkg/errs"
)

type constructor func(opts Options) Adapter

// constructors - таблица адаптеров по идентификатору биржи
var constructors = map[string]constructor{
	ExchangeBinance: func(o Options) Adapter { return NewBinance(o) },
	ExchangeDeribit: func(o Options) Adapter { return NewDeribit(o) },
	ExchangeKraken:  func(o Options) Adapter { return NewKraken(o) },
	ExchangeKuCoin:  func(o Options) Adapter { return NewKuCoin(o) },
	ExchangeOKX:     func(o Options) Adapter { return NewOKX(o) },
	ExchangeBybit:   func(o Options) Adapter { return NewBybit(o) },
}

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = supportedExchanges()

func supportedExchanges() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAdapter создает адаптер биржи по идентификатору.
// В режиме simulated для любой поддерживаемой биржи возвращается симулятор.
func NewAdapter(id string, opts Options) (Adapter, error) {
	id = strings.ToLower(strings.TrimSpace(id))

	ctor, ok := constructors[id]
	if !ok {
		return nil, errs.Config("exchange", "unsupported exchange: %s", id)
	}

	switch opts.Mode {
	case ModeSimulated:
		return NewSimulated(id, opts), nil
	case ModeLive, "":
		return ctor(opts), nil
	default:
		return nil, errs.Config("TRADING_MODE", "unknown adapter mode %q", opts.Mode)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	_, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
