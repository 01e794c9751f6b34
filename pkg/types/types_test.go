package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestInstrumentRoundQtyDown(t *testing.T) {
	t.Parallel()

	inst := Instrument{LotStep: dec("0.001")}

	tests := []struct {
		qty  string
		want string
	}{
		{"0.0239", "0.023"},
		{"1.0009", "1"},
		{"0.001", "0.001"},
		{"0", "0"},
	}

	for _, tt := range tests {
		got := inst.RoundQtyDown(dec(tt.qty))
		if !got.Equal(dec(tt.want)) {
			t.Errorf("RoundQtyDown(%s) = %s, want %s", tt.qty, got, tt.want)
		}
	}
}

func TestInstrumentRoundPriceDownZeroStep(t *testing.T) {
	t.Parallel()

	inst := Instrument{TickSize: decimal.Zero}
	got := inst.RoundPriceDown(dec("123.456"))
	if !got.Equal(dec("123.456")) {
		t.Errorf("RoundPriceDown with zero step should be identity, got %s", got)
	}
}

func TestCandleValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		c    Candle
		want bool
	}{
		{
			name: "valid",
			c:    Candle{Open: dec("100"), High: dec("110"), Low: dec("95"), Close: dec("105"), Volume: dec("10")},
			want: true,
		},
		{
			name: "negative volume",
			c:    Candle{Open: dec("100"), High: dec("110"), Low: dec("95"), Close: dec("105"), Volume: dec("-1")},
			want: false,
		},
		{
			name: "high below close",
			c:    Candle{Open: dec("100"), High: dec("102"), Low: dec("95"), Close: dec("105"), Volume: dec("1")},
			want: false,
		},
		{
			name: "open below low",
			c:    Candle{Open: dec("90"), High: dec("110"), Low: dec("95"), Close: dec("105"), Volume: dec("1")},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.c.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccountStateEquity(t *testing.T) {
	t.Parallel()

	a := AccountState{Balance: dec("1000"), TotalUnrealizedPnL: dec("-50")}
	if !a.Equity().Equal(dec("950")) {
		t.Errorf("Equity() = %s, want 950", a.Equity())
	}
}
