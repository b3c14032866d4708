package engine

import (
	"context"
	"time"
)

// fakeBroker is a minimal in-memory BrokerAdapter stub, grounded on the same
// narrow interface broker/binancefutures.Adapter implements, built
// here to drive PositionManager tests without a network dependency.
type fakeBroker struct {
	nextOrderID int

	pendingOrders []PendingOrderInfo
	positions []PositionInfo

	cancelled []OrderID
	closed []string
	modified map[string][2]float64

	placeStopErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{modified: make(map[string][2]float64)}
}

func (f *fakeBroker) StreamBars(ctx context.Context, symbol, timeframe string) (<-chan Bar, error) {
	return nil, nil
}

func (f *fakeBroker) StreamTrades(ctx context.Context, symbol string) (<-chan Trade, error) {
	return nil, nil
}

func (f *fakeBroker) PlaceMarket(ctx context.Context, userID string, side Side, qty float64, magic Magic) (OrderID, error) {
	return f.nextID(), nil
}

func (f *fakeBroker) PlaceStop(ctx context.Context, userID string, side Side, stopPrice, qty float64, expiry time.Time, sl, tp float64, magic Magic) (OrderID, error) {
	if f.placeStopErr != nil {
		return "", f.placeStopErr
	}
	id := f.nextID()
	f.pendingOrders = append(f.pendingOrders, PendingOrderInfo{OrderID: id, Side: side, StopPrice: stopPrice, Magic: magic, SubmittedAt: time.Now()})
	return id, nil
}

func (f *fakeBroker) PlaceLimit(ctx context.Context, userID string, side Side, price, qty float64, sl, tp float64, magic Magic) (OrderID, error) {
	return f.nextID(), nil
}

func (f *fakeBroker) ModifyPosition(ctx context.Context, userID, positionID string, sl, tp float64) error {
	f.modified[positionID] = [2]float64{sl, tp}
	return nil
}

func (f *fakeBroker) ClosePosition(ctx context.Context, userID, positionID string) error {
	f.closed = append(f.closed, positionID)
	return nil
}

func (f *fakeBroker) ClosePartial(ctx context.Context, userID, positionID string, qty float64) error {
	return nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, userID string, orderID OrderID) error {
	f.cancelled = append(f.cancelled, orderID)
	for i, o := range f.pendingOrders {
		if o.OrderID == orderID {
			f.pendingOrders = append(f.pendingOrders[:i], f.pendingOrders[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBroker) ListPositions(ctx context.Context, userID string, magicFilter []Magic) ([]PositionInfo, error) {
	return f.positions, nil
}

func (f *fakeBroker) ListPendingOrders(ctx context.Context, userID string, magicFilter []Magic) ([]PendingOrderInfo, error) {
	return f.pendingOrders, nil
}

func (f *fakeBroker) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	return SymbolInfo{TickSize: 0.1, StepSize: 0.001, MinQty: 0.001}, nil
}

func (f *fakeBroker) AccountBalance(ctx context.Context, userID string) (float64, error) {
	return 1000, nil
}

func (f *fakeBroker) BestBidAsk(ctx context.Context, symbol string) (float64, float64, error) {
	return 99.9, 100.1, nil
}

func (f *fakeBroker) nextID() OrderID {
	f.nextOrderID++
	return OrderID(string(rune('A' + f.nextOrderID)))
}

// fillOrder drops an order out of pendingOrders and publishes a matching
// live position, simulating a broker-side fill between two bar closes.
func (f *fakeBroker) fillOrder(id OrderID, side Side, entry float64) {
	for i, o := range f.pendingOrders {
		if o.OrderID == id {
			f.pendingOrders = append(f.pendingOrders[:i], f.pendingOrders[i+1:]...)
			break
		}
	}
	f.positions = append(f.positions, PositionInfo{PositionID: string(id), Side: side, EntryPrice: entry})
}
