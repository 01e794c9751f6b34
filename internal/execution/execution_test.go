package execution

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/alert"
	"tradingcore/internal/config"
	"tradingcore/internal/errkind"
	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		OrderFillTimeout:  200 * time.Millisecond,
		PartialFillMinPct: 0.50,
		SlippageAlertPct:  0.02,
	}
}

type fakeGateway struct {
	createErr   error
	createOrder types.Order
	getOrder    types.Order
	getOrderErr error
	account     types.AccountState
	accountErr  error
	canceled    bool
}

func (f *fakeGateway) GetOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	return nil, nil
}
func (f *fakeGateway) GetOpenInterestFunding(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, nil
}
func (f *fakeGateway) GetAccount(ctx context.Context) (types.AccountState, error) {
	return f.account, f.accountErr
}
func (f *fakeGateway) GetPositions(ctx context.Context) ([]exchange.ExchangePosition, error) {
	return nil, nil
}
func (f *fakeGateway) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (types.Order, error) {
	if f.createErr != nil {
		return types.Order{}, f.createErr
	}
	f.createOrder.ClientID = req.ClientID
	f.createOrder.Symbol = req.Symbol
	return f.createOrder, nil
}
func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, exchangeID string) error {
	f.canceled = true
	return nil
}
func (f *fakeGateway) GetOrder(ctx context.Context, symbol, exchangeID string) (types.Order, error) {
	return f.getOrder, f.getOrderErr
}

func TestIdempotencyKeyStableWithinSameMinute(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 10, 30, 15, 0, time.UTC)
	later := time.Date(2026, 1, 1, 10, 30, 45, 0, time.UTC)
	k1 := IdempotencyKey("cycle-1", "BTCUSDT", types.OrderBuy, decimal.NewFromFloat(0.1), now)
	k2 := IdempotencyKey("cycle-1", "BTCUSDT", types.OrderBuy, decimal.NewFromFloat(0.1), later)
	if k1 != k2 {
		t.Errorf("keys differ within same minute: %s vs %s", k1, k2)
	}
}

func TestIdempotencyKeyDiffersAcrossMinutes(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	next := time.Date(2026, 1, 1, 10, 31, 0, 0, time.UTC)
	k1 := IdempotencyKey("cycle-1", "BTCUSDT", types.OrderBuy, decimal.NewFromFloat(0.1), now)
	k2 := IdempotencyKey("cycle-1", "BTCUSDT", types.OrderBuy, decimal.NewFromFloat(0.1), next)
	if k1 == k2 {
		t.Error("keys should differ across minutes")
	}
}

func TestSubmitFullFill(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{
		createOrder: types.Order{ExchangeID: "ex-1"},
		getOrder: types.Order{
			ExchangeID: "ex-1", Status: types.OrderStatusFilled,
			QtyFilled: decimal.NewFromFloat(0.1), AvgFillPrice: decimal.NewFromInt(50000),
		},
	}
	p := New(testConfig(), gw, alert.NewLogEmitter(discardLogger()), discardLogger())

	res, err := p.Submit(context.Background(), "cycle-1", "BTCUSDT", types.OrderBuy, decimal.NewFromFloat(0.1), 10, decimal.NewFromInt(50000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != OutcomeFilled {
		t.Errorf("Outcome = %v, want filled", res.Outcome)
	}
}

func TestSubmitPartialFillAboveThresholdAccepted(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{
		createOrder: types.Order{ExchangeID: "ex-1"},
		getOrder: types.Order{
			ExchangeID: "ex-1", Status: types.OrderStatusFilled,
			QtyFilled: decimal.NewFromFloat(0.06), AvgFillPrice: decimal.NewFromInt(50000),
		},
	}
	p := New(testConfig(), gw, alert.NewLogEmitter(discardLogger()), discardLogger())

	res, err := p.Submit(context.Background(), "cycle-1", "BTCUSDT", types.OrderBuy, decimal.NewFromFloat(0.1), 10, decimal.NewFromInt(50000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != OutcomePartial {
		t.Errorf("Outcome = %v, want partial", res.Outcome)
	}
}

func TestSubmitPartialFillBelowThresholdRejected(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{
		createOrder: types.Order{ExchangeID: "ex-1"},
		getOrder: types.Order{
			ExchangeID: "ex-1", Status: types.OrderStatusFilled,
			QtyFilled: decimal.NewFromFloat(0.02), AvgFillPrice: decimal.NewFromInt(50000),
		},
	}
	p := New(testConfig(), gw, alert.NewLogEmitter(discardLogger()), discardLogger())

	res, err := p.Submit(context.Background(), "cycle-1", "BTCUSDT", types.OrderBuy, decimal.NewFromFloat(0.1), 10, decimal.NewFromInt(50000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Errorf("Outcome = %v, want rejected", res.Outcome)
	}
}

func TestSubmitTimeoutCancelsOrder(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{
		createOrder: types.Order{ExchangeID: "ex-1"},
		getOrder:    types.Order{ExchangeID: "ex-1", Status: types.OrderStatusNew},
	}
	p := New(testConfig(), gw, alert.NewLogEmitter(discardLogger()), discardLogger())

	res, err := p.Submit(context.Background(), "cycle-1", "BTCUSDT", types.OrderBuy, decimal.NewFromFloat(0.1), 10, decimal.NewFromInt(50000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != OutcomeTimeout {
		t.Errorf("Outcome = %v, want timeout", res.Outcome)
	}
	if !gw.canceled {
		t.Error("expected order to be canceled after timeout")
	}
}

func TestSubmitRejectedCreateOrder(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{createErr: errkind.New(errkind.Policy, "test", errTest)}
	p := New(testConfig(), gw, alert.NewLogEmitter(discardLogger()), discardLogger())

	res, err := p.Submit(context.Background(), "cycle-1", "BTCUSDT", types.OrderBuy, decimal.NewFromFloat(0.1), 10, decimal.NewFromInt(50000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Errorf("Outcome = %v, want rejected", res.Outcome)
	}
}

func TestSubmitResubmitsOnTransientFailure(t *testing.T) {
	t.Parallel()
	calls := 0
	gw := &fakeGateway{}
	orig := gw.CreateOrder
	_ = orig
	gw.createErr = errkind.New(errkind.Transient, "test", errTest)
	// fakeGateway's CreateOrder would return createErr on every call, so
	// retryingGateway replaces it: the first call fails, the next succeeds.
	p := New(testConfig(), &retryingGateway{fakeGateway: gw, failOnce: true, calls: &calls}, alert.NewLogEmitter(discardLogger()), discardLogger())

	res, err := p.Submit(context.Background(), "cycle-1", "BTCUSDT", types.OrderBuy, decimal.NewFromFloat(0.1), 10, decimal.NewFromInt(50000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if calls < 2 {
		t.Errorf("calls = %d, want >= 2 (resubmission)", calls)
	}
	if res.Outcome != OutcomeTimeout && res.Outcome != OutcomeRejected && res.Outcome != OutcomeFilled {
		t.Errorf("unexpected outcome %v", res.Outcome)
	}
}

func TestPreflightCheckRejectsInsufficientMargin(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{account: types.AccountState{AvailableMargin: decimal.NewFromInt(100)}}
	p := New(testConfig(), gw, alert.NewLogEmitter(discardLogger()), discardLogger())

	err := p.PreflightCheck(context.Background(), decimal.NewFromInt(500), decimal.NewFromInt(1000), decimal.NewFromInt(10000), decimal.Zero)
	if err == nil || !errkind.Is(err, errkind.Policy) {
		t.Errorf("expected policy error, got %v", err)
	}
}

func TestPreflightCheckRejectsExposureOverLimit(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{account: types.AccountState{AvailableMargin: decimal.NewFromInt(10000)}}
	p := New(testConfig(), gw, alert.NewLogEmitter(discardLogger()), discardLogger())

	err := p.PreflightCheck(context.Background(), decimal.NewFromInt(100), decimal.NewFromInt(5000), decimal.NewFromInt(9000), decimal.NewFromInt(8000))
	if err == nil || !errkind.Is(err, errkind.Policy) {
		t.Errorf("expected policy error, got %v", err)
	}
}

var errTest = &testError{}

type testError struct{}

func (e *testError) Error() string { return "test error" }

// retryingGateway wraps fakeGateway to fail the first CreateOrder call with
// a transient error then succeed, exercising Submit's resubmission path.
type retryingGateway struct {
	*fakeGateway
	failOnce bool
	calls    *int
}

func (r *retryingGateway) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (types.Order, error) {
	*r.calls++
	if r.failOnce && *r.calls == 1 {
		return types.Order{}, errkind.New(errkind.Transient, "test", errTest)
	}
	r.fakeGateway.getOrder = types.Order{ExchangeID: "ex-retry", Status: types.OrderStatusFilled, QtyFilled: decimal.NewFromFloat(0.1), AvgFillPrice: decimal.NewFromInt(50000)}
	return types.Order{ExchangeID: "ex-retry"}, nil
}
