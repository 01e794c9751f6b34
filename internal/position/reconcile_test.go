package position

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

func TestReconcileAdoptsOrphanExchangePosition(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{positions: []exchange.ExchangePosition{
		{Symbol: "ETHUSDT", Side: types.SideLong, Quantity: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(3000), Leverage: 5},
	}}
	m := testManager(t, gw, func(string) (decimal.Decimal, bool) { return decimal.Zero, false })
	defer m.Stop()

	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	found := false
	for _, p := range m.OpenPositions() {
		if p.Symbol == "ETHUSDT" {
			found = true
		}
	}
	if !found {
		t.Error("expected orphan exchange position to be adopted locally")
	}
}

func TestReconcileMarksGhostPositionReconciled(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	m := testManager(t, gw, func(string) (decimal.Decimal, bool) { return decimal.Zero, false })
	defer m.Stop()

	pos, _ := m.Open("BTCUSDT", types.SideLong, decimal.NewFromFloat(0.1), decimal.NewFromInt(50000), 10, decimal.NewFromInt(48000), nil, nil, "cycle-1", "BTCUSDT")
	m.ConfirmFill(context.Background(), pos.ID, decimal.NewFromInt(50000))

	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, _ := m.Get(pos.ID)
	if got.State != types.PositionReconciled {
		t.Errorf("State = %v, want closed_reconciled", got.State)
	}
}

func TestReconcileCorrectsQuantityMismatch(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{positions: []exchange.ExchangePosition{
		{Symbol: "BTCUSDT", Side: types.SideLong, Quantity: decimal.NewFromFloat(0.2), EntryPrice: decimal.NewFromInt(50000), Leverage: 10},
	}}
	m := testManager(t, gw, func(string) (decimal.Decimal, bool) { return decimal.Zero, false })
	defer m.Stop()

	pos, _ := m.Open("BTCUSDT", types.SideLong, decimal.NewFromFloat(0.1), decimal.NewFromInt(50000), 10, decimal.NewFromInt(48000), nil, nil, "cycle-1", "BTCUSDT")
	m.ConfirmFill(context.Background(), pos.ID, decimal.NewFromInt(50000))

	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, _ := m.Get(pos.ID)
	if !got.Quantity.Equal(decimal.NewFromFloat(0.2)) {
		t.Errorf("Quantity = %v, want 0.2 (exchange wins)", got.Quantity)
	}
}
