// Package instrument holds the per-symbol contract metadata (tick size,
// lot step, min notional, max exchange leverage) used for order rounding
// and sizing. Spec §3 requires each Instrument be "immutable after load";
// the registry is populated once at startup and never mutated afterward.
package instrument

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

// Registry is a read-only lookup of Instrument metadata by symbol, built
// once at startup and shared across Risk, Execution, and Position Manager.
type Registry struct {
	bysymbol map[string]types.Instrument
}

// NewRegistry builds a Registry from the given instruments, keyed by symbol.
func NewRegistry(instruments []types.Instrument) *Registry {
	m := make(map[string]types.Instrument, len(instruments))
	for _, inst := range instruments {
		m[inst.Symbol] = inst
	}
	return &Registry{bysymbol: m}
}

// Get returns the Instrument for symbol, or an error if unknown.
func (r *Registry) Get(symbol string) (types.Instrument, error) {
	inst, ok := r.bysymbol[symbol]
	if !ok {
		return types.Instrument{}, fmt.Errorf("instrument: unknown symbol %q", symbol)
	}
	return inst, nil
}

// Default builds a conservative Instrument for a symbol not given explicit
// metadata: 1-cent tick, 4-decimal lot step, $10 min notional, 20x max
// leverage. Used only as a startup fallback — real deployments should
// supply exact venue precision.
func Default(symbol string) types.Instrument {
	return types.Instrument{
		Symbol:      symbol,
		TickSize:    decimal.NewFromFloat(0.01),
		LotStep:     decimal.NewFromFloat(0.0001),
		MinNotional: decimal.NewFromInt(10),
		MaxLeverage: 20,
	}
}

// BuildFromSymbols constructs a Registry covering exactly the configured
// trading symbols, using Default metadata for each.
func BuildFromSymbols(symbols []string) *Registry {
	instruments := make([]types.Instrument, 0, len(symbols))
	for _, s := range symbols {
		instruments = append(instruments, Default(s))
	}
	return NewRegistry(instruments)
}
