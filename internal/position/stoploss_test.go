package position

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

func TestStopCrossedLong(t *testing.T) {
	t.Parallel()
	pos := types.Position{Side: types.SideLong, StopLossPrice: decimal.NewFromInt(48000)}
	if !stopCrossed(pos, decimal.NewFromInt(47000)) {
		t.Error("expected stop crossed when price fell below stop")
	}
	if stopCrossed(pos, decimal.NewFromInt(49000)) {
		t.Error("expected stop not crossed while price above stop")
	}
}

func TestStopCrossedShort(t *testing.T) {
	t.Parallel()
	pos := types.Position{Side: types.SideShort, StopLossPrice: decimal.NewFromInt(52000)}
	if !stopCrossed(pos, decimal.NewFromInt(53000)) {
		t.Error("expected stop crossed when price rose above stop")
	}
	if stopCrossed(pos, decimal.NewFromInt(51000)) {
		t.Error("expected stop not crossed while price below stop")
	}
}

func TestUnrealizedLossPctLongLosing(t *testing.T) {
	t.Parallel()
	pos := types.Position{Side: types.SideLong, EntryPrice: decimal.NewFromInt(50000), Leverage: 10}
	// price down 2% * 10x leverage = 20% loss
	loss := unrealizedLossPct(pos, decimal.NewFromInt(49000))
	if loss < 0.19 || loss > 0.21 {
		t.Errorf("loss = %v, want ~0.20", loss)
	}
}

func TestUnrealizedLossPctLongWinningIsZero(t *testing.T) {
	t.Parallel()
	pos := types.Position{Side: types.SideLong, EntryPrice: decimal.NewFromInt(50000), Leverage: 10}
	loss := unrealizedLossPct(pos, decimal.NewFromInt(51000))
	if loss != 0 {
		t.Errorf("loss = %v, want 0 when position is winning", loss)
	}
}
