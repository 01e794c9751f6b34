// ws.go implements the WebSocket market/account feed (spec §4.2, §4.3).
// One connection streams mark-price ticks for all subscribed symbols and
// account fill/order events; it auto-reconnects with exponential backoff
// (1s → 32s max) and re-subscribes on reconnection, exactly as the teacher's
// market/user feeds do, generalized from two channel-specific feeds into
// one symbol-subscribing tick+account feed since a perp venue multiplexes
// both over a single stream.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

const (
	pingInterval     = 20 * time.Second
	readTimeout      = 45 * time.Second
	maxReconnectWait = 32 * time.Second
	writeTimeout     = 10 * time.Second
	tickBufferSize   = 256
	eventBufferSize  = 64
)

// Tick is one mark-price update for a symbol.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// FillEvent reports a fill or status change for a previously submitted order.
type FillEvent struct {
	ClientOrderID string
	ExchangeID    string
	Symbol        string
	Status        types.OrderStatus
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Timestamp     time.Time
}

// WSFeed manages the account+market WebSocket connection: subscription
// tracking, message routing, reconnection, and the staleness clock the
// Market Data Service consults (spec §4.3 "stale_ws after ws_staleness_max_sec").
type WSFeed struct {
	url    string
	apiKey string

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	tickCh  chan Tick
	fillCh  chan FillEvent

	lastMsgMu sync.RWMutex
	lastMsgAt time.Time

	logger *slog.Logger
}

// NewWSFeed creates a feed against wsURL, authenticated with apiKey for the
// account-event half of the stream.
func NewWSFeed(wsURL, apiKey string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:        wsURL,
		apiKey:     apiKey,
		subscribed: make(map[string]bool),
		tickCh:     make(chan Tick, tickBufferSize),
		fillCh:     make(chan FillEvent, eventBufferSize),
		logger:     logger.With("component", "ws_feed"),
	}
}

// Ticks returns a read-only channel of mark-price ticks.
func (f *WSFeed) Ticks() <-chan Tick { return f.tickCh }

// Fills returns a read-only channel of fill/order-status events.
func (f *WSFeed) Fills() <-chan FillEvent { return f.fillCh }

// LastMessageAge returns how long it has been since any message was
// received, used by Market Data to flag WarnStaleWS.
func (f *WSFeed) LastMessageAge() time.Duration {
	f.lastMsgMu.RLock()
	defer f.lastMsgMu.RUnlock()
	if f.lastMsgAt.IsZero() {
		return time.Duration(1<<62 - 1) // effectively "never connected"
	}
	return time.Since(f.lastMsgAt)
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds symbols to the tick stream.
func (f *WSFeed) Subscribe(symbols []string) error {
	f.subscribedMu.Lock()
	for _, s := range symbols {
		f.subscribed[s] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(subscribeMsg{Op: "subscribe", Symbols: symbols})
}

// Unsubscribe removes symbols from the tick stream.
func (f *WSFeed) Unsubscribe(symbols []string) error {
	f.subscribedMu.Lock()
	for _, s := range symbols {
		delete(f.subscribed, s)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(subscribeMsg{Op: "unsubscribe", Symbols: symbols})
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendAuth(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected")
	f.touchLastMsg()

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.touchLastMsg()
		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) touchLastMsg() {
	f.lastMsgMu.Lock()
	f.lastMsgAt = time.Now()
	f.lastMsgMu.Unlock()
}

func (f *WSFeed) sendAuth() error {
	return f.writeJSON(map[string]any{"op": "auth", "api_key": f.apiKey})
}

func (f *WSFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	symbols := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		symbols = append(symbols, s)
	}
	f.subscribedMu.RUnlock()

	if len(symbols) == 0 {
		return nil
	}
	return f.writeJSON(subscribeMsg{Op: "subscribe", Symbols: symbols})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var envelope struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Channel {
	case "tick":
		var payload struct {
			Symbol    string `json:"symbol"`
			Price     string `json:"price"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			f.logger.Error("unmarshal tick", "error", err)
			return
		}
		tick := Tick{
			Symbol:    payload.Symbol,
			Price:     decOrZero(payload.Price),
			Timestamp: time.UnixMilli(payload.Timestamp).UTC(),
		}
		select {
		case f.tickCh <- tick:
		default:
			f.logger.Warn("tick channel full, dropping tick", "symbol", tick.Symbol)
		}

	case "order_update":
		var payload struct {
			ClientOrderID string `json:"client_order_id"`
			OrderID       string `json:"order_id"`
			Symbol        string `json:"symbol"`
			Status        string `json:"status"`
			FilledQty     string `json:"filled_quantity"`
			AvgFillPrice  string `json:"avg_price"`
			Timestamp     int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			f.logger.Error("unmarshal order_update", "error", err)
			return
		}
		evt := FillEvent{
			ClientOrderID: payload.ClientOrderID,
			ExchangeID:    payload.OrderID,
			Symbol:        payload.Symbol,
			Status:        types.OrderStatus(payload.Status),
			FilledQty:     decOrZero(payload.FilledQty),
			AvgFillPrice:  decOrZero(payload.AvgFillPrice),
			Timestamp:     time.UnixMilli(payload.Timestamp).UTC(),
		}
		select {
		case f.fillCh <- evt:
		default:
			f.logger.Warn("fill channel full, dropping event", "order_id", evt.ExchangeID)
		}

	case "pong", "heartbeat":
		// keepalive, no payload to process

	default:
		f.logger.Debug("unknown ws channel", "channel", envelope.Channel)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte(`{"op":"ping"}`)); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
