package engine

import (
	"context"
	"time"
)

// Trade is a single aggregated executed trade, the order-flow analyser's
// input unit.
type Trade struct {
	Price float64
	Qty float64
	BuyerIsMaker bool
	Time time.Time
}

// SymbolInfo is the exchange's precision/limits contract.
type SymbolInfo struct {
	TickSize float64
	StepSize float64
	MinQty float64
	MinNotional float64
	MinStopsLevelPoints float64
	FillingModes []string
}

// OrderID is an opaque broker order identifier.
type OrderID string

// PendingOrderInfo mirrors a broker-side resting order.
type PendingOrderInfo struct {
	OrderID OrderID
	Side Side
	StopPrice float64
	Magic Magic
	SubmittedAt time.Time
}

// PositionInfo mirrors a broker-side open position,
// used at startup and after any suspension point to re-synchronise local
// state.
type PositionInfo struct {
	PositionID string
	Side Side
	Magic Magic
	EntryPrice float64
	Volume float64
}

// BrokerAdapter is the narrow, exchange-agnostic interface components A and
// G consume. Any futures gateway with server-side stop/limit
// orders and per-order magic/comment tagging satisfies this contract; the
// concrete implementation shipped in this repo is broker/binancefutures.
type BrokerAdapter interface {
	// StreamBars yields closed primary-timeframe bars (component A).
	StreamBars(ctx context.Context, symbol, timeframe string) (<-chan Bar, error)
	// StreamTrades yields the raw aggregated-trade feed (component J).
	StreamTrades(ctx context.Context, symbol string) (<-chan Trade, error)

	PlaceMarket(ctx context.Context, userID string, side Side, qty float64, magic Magic) (OrderID, error)
	PlaceStop(ctx context.Context, userID string, side Side, stopPrice, qty float64, expiry time.Time, sl, tp float64, magic Magic) (OrderID, error)
	PlaceLimit(ctx context.Context, userID string, side Side, price, qty float64, sl, tp float64, magic Magic) (OrderID, error)

	ModifyPosition(ctx context.Context, userID, positionID string, sl, tp float64) error
	ClosePosition(ctx context.Context, userID, positionID string) error
	ClosePartial(ctx context.Context, userID, positionID string, qty float64) error
	CancelOrder(ctx context.Context, userID string, orderID OrderID) error

	ListPositions(ctx context.Context, userID string, magicFilter []Magic) ([]PositionInfo, error)
	ListPendingOrders(ctx context.Context, userID string, magicFilter []Magic) ([]PendingOrderInfo, error)

	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)

	// AccountBalance returns the user's available balance in quote currency,
	// input to the orchestrator's sizing formula.
	AccountBalance(ctx context.Context, userID string) (float64, error)
	// BestBidAsk returns the current top-of-book, used by the tick monitor
	// and the market-order entry-price path.
	BestBidAsk(ctx context.Context, symbol string) (bid, ask float64, err error)
}
