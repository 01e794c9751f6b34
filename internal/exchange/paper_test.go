package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

func TestPaperGatewayFillsMarketOrderAtMarkPrice(t *testing.T) {
	t.Parallel()
	pg := NewPaperGateway(decimal.NewFromInt(10000), nil)
	pg.SetMarkPrice("BTCUSDT", decimal.NewFromInt(50000))

	order, err := pg.CreateOrder(context.Background(), CreateOrderRequest{
		ClientID: "cid-1",
		Symbol:   "BTCUSDT",
		Side:     types.OrderBuy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromFloat(0.1),
		Leverage: 10,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Status != types.OrderStatusFilled {
		t.Errorf("Status = %v, want filled", order.Status)
	}
	if !order.AvgFillPrice.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("AvgFillPrice = %v, want 50000", order.AvgFillPrice)
	}
}

func TestPaperGatewayCreateOrderIsIdempotent(t *testing.T) {
	t.Parallel()
	pg := NewPaperGateway(decimal.NewFromInt(10000), nil)
	pg.SetMarkPrice("BTCUSDT", decimal.NewFromInt(50000))

	req := CreateOrderRequest{
		ClientID: "cid-dup",
		Symbol:   "BTCUSDT",
		Side:     types.OrderBuy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromFloat(0.1),
	}

	first, err := pg.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("first CreateOrder: %v", err)
	}
	second, err := pg.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("second CreateOrder: %v", err)
	}
	if first.ExchangeID != second.ExchangeID {
		t.Errorf("expected same ExchangeID for duplicate ClientID, got %s and %s", first.ExchangeID, second.ExchangeID)
	}

	positions, _ := pg.GetPositions(context.Background())
	if len(positions) != 1 || !positions[0].Quantity.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("expected single 0.1 qty position from idempotent replay, got %+v", positions)
	}
}

func TestPaperGatewayRealizesPnLOnClose(t *testing.T) {
	t.Parallel()
	pg := NewPaperGateway(decimal.NewFromInt(10000), nil)
	pg.SetMarkPrice("BTCUSDT", decimal.NewFromInt(50000))

	_, err := pg.CreateOrder(context.Background(), CreateOrderRequest{
		ClientID: "open", Symbol: "BTCUSDT", Side: types.OrderBuy,
		Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	pg.SetMarkPrice("BTCUSDT", decimal.NewFromInt(51000))
	_, err = pg.CreateOrder(context.Background(), CreateOrderRequest{
		ClientID: "close", Symbol: "BTCUSDT", Side: types.OrderSell,
		Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	account, err := pg.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	want := decimal.NewFromInt(11000) // 10000 starting + 1000 realized profit
	if !account.Balance.Equal(want) {
		t.Errorf("Balance = %v, want %v", account.Balance, want)
	}

	positions, _ := pg.GetPositions(context.Background())
	if len(positions) != 0 {
		t.Errorf("expected fully closed position, got %+v", positions)
	}
}

func TestPaperGatewayRejectsOrderWithNoMarkPrice(t *testing.T) {
	t.Parallel()
	pg := NewPaperGateway(decimal.NewFromInt(10000), nil)

	_, err := pg.CreateOrder(context.Background(), CreateOrderRequest{
		ClientID: "cid", Symbol: "ETHUSDT", Side: types.OrderBuy,
		Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1),
	})
	if err == nil {
		t.Error("expected error for unknown mark price, got nil")
	}
}
