package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brookscore/tradingcore/config"
)

func testPositionConfig() *config.Config {
	return &config.Config{
		MaxStopATR: 3.0,
		HardStop: true,
		HardStopBuffer: 1.5,
		SoftStop: true,
		SoftStopMode: 0,
		SoftStopBars: 2,
		TP1ScalpR: 1.0,
		RunnerTP2MinATR: 1.5,
		MinStopsLevelPts: 30,
		FridayMinRToHold: 1.5,
	}
}

func newTestManager(broker BrokerAdapter) *PositionManager {
	cfg := testPositionConfig()
	return NewPositionManager("u1", broker, NewRiskComputer(cfg), cfg, NopJournal{}, NewLTFSwingTracker(), zerolog.Nop())
}

func TestSubmitSignalSplitsIntoTwinLegsWhenQtyAllows(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	sig := Signal{ID: "sig-1", Kind: SignalH2, Side: SideBuy}
	plan := EntryPlan{Entry: 100, TechnicalStop: 99, HardStop: 98.5, TP1: 101, TP2: 103, Qty: 0.2}

	err := m.SubmitSignal(context.Background(), sig, plan, time.Now().Add(time.Hour), 0.001)
	require.NoError(t, err)
	assert.Len(t, broker.pendingOrders, 2)
	assert.Len(t, m.pending, 2)
}

func TestSubmitSignalFallsBackToSingleLegWhenQtyTooSmall(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	sig := Signal{ID: "sig-2", Kind: SignalH2, Side: SideBuy}
	plan := EntryPlan{Entry: 100, TechnicalStop: 99, HardStop: 98.5, TP1: 101, TP2: 103, Qty: 0.001}

	err := m.SubmitSignal(context.Background(), sig, plan, time.Now().Add(time.Hour), 0.001)
	require.NoError(t, err)
	assert.Len(t, broker.pendingOrders, 1)
	assert.Equal(t, MagicRunner, m.pending[0].Magic)
}

func TestSubmitSignalRejectsOpposingHedge(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	m.positions = append(m.positions, &Position{ID: "p1", Side: SideSell, Status: PositionOpen})

	plan := EntryPlan{Entry: 100, Qty: 0.2}
	err := m.SubmitSignal(context.Background(), Signal{ID: "sig-3", Side: SideBuy}, plan, time.Now().Add(time.Hour), 0.001)
	assert.ErrorIs(t, err, ErrNoOpposingHedge)
}

func TestSubmitTwinLegsRollsBackScalpWhenRunnerLegFails(t *testing.T) {
	broker := &countingFailBroker{fakeBroker: newFakeBroker(), failOnCall: 2}
	m := newTestManager(broker)
	sig := Signal{ID: "sig-4", Side: SideBuy}
	plan := EntryPlan{Entry: 100, TP1: 101, TP2: 103, Qty: 0.2}

	err := m.SubmitSignal(context.Background(), sig, plan, time.Now().Add(time.Hour), 0.001)
	require.Error(t, err)
	assert.Len(t, broker.cancelled, 1, "scalp leg cancelled after runner leg placement failed")
}

// countingFailBroker wraps fakeBroker and fails PlaceStop on its Nth call,
// used to exercise the twin-leg rollback path.
type countingFailBroker struct {
	*fakeBroker
	calls int
	failOnCall int
}

func (c *countingFailBroker) PlaceStop(ctx context.Context, userID string, side Side, stopPrice, qty float64, expiry time.Time, sl, tp float64, magic Magic) (OrderID, error) {
	c.calls++
	if c.calls == c.failOnCall {
		return "", errPlaceStopFailed
	}
	return c.fakeBroker.PlaceStop(ctx, userID, side, stopPrice, qty, expiry, sl, tp, magic)
}

var errPlaceStopFailed = context.DeadlineExceeded

func TestReconcilePendingFillsAdoptsFilledOrder(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	sig := Signal{ID: "sig-5", Side: SideBuy}
	plan := EntryPlan{Entry: 100, TechnicalStop: 99, TP1: 101, TP2: 103, Qty: 0.2}
	require.NoError(t, m.SubmitSignal(context.Background(), sig, plan, time.Now().Add(time.Hour), 0.001))
	require.Len(t, m.pending, 2)

	scalpID := OrderID(m.pending[0].OrderID)
	broker.fillOrder(scalpID, SideBuy, 100.05)

	m.reconcilePendingFills(context.Background(), 1.0)

	assert.Len(t, m.pending, 1, "filled order removed from pending")
	assert.Len(t, m.positions, 1, "filled order adopted as an open position")
	assert.Equal(t, 100.05, m.positions[0].EntryPrice)
}

func TestScalpTakeProfitEvaluationClosesScalpAndArmsBreakeven(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	m.positions = append(m.positions,
		&Position{ID: "scalp", SignalID: "sig-6", Side: SideBuy, Magic: MagicScalp, Status: PositionOpen, TP1: 101, EntryPrice: 100},
		&Position{ID: "runner", SignalID: "sig-6", Side: SideBuy, Magic: MagicRunner, Status: PositionOpen, EntryPrice: 100},
	)

	bars := []Bar{{High: 101.5, Low: 100.5, Close: 101.2}}
	m.scalpTakeProfitEvaluation(context.Background(), bars)

	assert.Len(t, m.positions, 1, "scalp leg closed and removed")
	assert.Equal(t, "runner", m.positions[0].ID)
	assert.True(t, m.positions[0].ScalpClosed)
}

func TestBreakevenAndTrailingPromotesStopAfterScalpClosed(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	runner := &Position{ID: "runner", Side: SideBuy, Magic: MagicRunner, Status: PositionOpen,
		EntryPrice: 100, TechnicalStop: 99, ScalpClosed: true}
	m.positions = append(m.positions, runner)

	m.breakevenAndTrailing(context.Background(), 101, 1.0)

	assert.True(t, runner.BreakevenApplied)
	assert.Equal(t, 100.0, runner.TechnicalStop)
	assert.Contains(t, broker.modified, "runner")
}

func TestSoftStopEvaluationClosesOnBarCloseBeyondStop(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	m.positions = append(m.positions, &Position{ID: "p1", Side: SideBuy, Status: PositionOpen,
			EntryPrice: 100, TechnicalStop: 99})

	bars := []Bar{{Close: 98.5}}
	m.softStopEvaluation(context.Background(), bars)

	assert.Contains(t, broker.closed, "p1")
	assert.Len(t, m.positions, 0)
}

func TestOnTickClosesOnLastResortBreach(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	m.positions = append(m.positions, &Position{ID: "p1", Side: SideSell, Status: PositionOpen,
			EntryPrice: 100, TechnicalStop: 101})

	m.OnTick(context.Background(), 99, 101.5)

	assert.Contains(t, broker.closed, "p1")
}

func TestCancelExpiredPendingRemovesStaleOrders(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	m.pending = append(m.pending, &PendingStopOrder{OrderID: "stale", ExpiresAt: time.Now().Add(-time.Minute)})
	m.pending = append(m.pending, &PendingStopOrder{OrderID: "fresh", ExpiresAt: time.Now().Add(time.Hour)})

	m.cancelExpiredPending(context.Background(), time.Now())

	assert.Len(t, m.pending, 1)
	assert.Equal(t, "fresh", m.pending[0].OrderID)
	assert.Contains(t, broker.cancelled, OrderID("stale"))
}

func TestWeekendCloseClosesAllThinRPositions(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	thin := &Position{ID: "thin", Side: SideBuy, Status: PositionOpen, EntryPrice: 100, TechnicalStop: 99, EntryATR: 1}
	solid := &Position{ID: "solid", Side: SideBuy, Status: PositionOpen, EntryPrice: 100, TechnicalStop: 99, EntryATR: 1}
	m.positions = append(m.positions, thin, solid)

	regime := RegimeSnapshot{State: StateStrongTrend}
	m.WeekendClose(context.Background(), regime, 100.5) // R = 0.5 on both -> both below FridayMinRToHold(1.5)

	assert.Contains(t, broker.closed, "thin")
	assert.Contains(t, broker.closed, "solid")
}

func TestWeekendCloseHoldsStrongTrendWinnerAtBreakeven(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	winner := &Position{ID: "winner", Side: SideBuy, Status: PositionOpen, EntryPrice: 100, TechnicalStop: 99, EntryATR: 1}
	m.positions = append(m.positions, winner)

	regime := RegimeSnapshot{State: StateStrongTrend}
	m.WeekendClose(context.Background(), regime, 102) // R = 2 >= FridayMinRToHold

	assert.NotContains(t, broker.closed, "winner")
	assert.Equal(t, 100.0, winner.TechnicalStop)
}
