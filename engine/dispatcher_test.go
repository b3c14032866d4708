package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/brookscore/tradingcore/config"
)

func testDispatcherConfig() *config.Config {
	return &config.Config{
		SignalCooldown:    3,
		TTROverlapRatio:   0.40,
		TTRRangeATRMult:   2.5,
		SpreadFilter:      true,
		SpreadMaxMult:     2.0,
		HTFBypassGapCount: 5,
		WeekendFilter:     true,
	}
}

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(testDispatcherConfig(), zerolog.Nop())
}

func TestCooldownBlocksWithinWindowAndSmallMove(t *testing.T) {
	d := newTestDispatcher()
	d.barCounter = 1
	d.RecordEntry(SideBuy, 100.0)
	d.barCounter = 2 // barsSince = 1 < SignalCooldown(3)

	bars := []Bar{{Close: 100.2, High: 100.5, Low: 99.8}}
	assert.True(t, d.cooldownBlocks(SideBuy, bars, 1.0))
}

func TestCooldownClearsAfterWindowElapses(t *testing.T) {
	d := newTestDispatcher()
	d.barCounter = 1
	d.RecordEntry(SideBuy, 100.0)
	d.barCounter = 5 // barsSince = 4 >= SignalCooldown(3)

	bars := []Bar{{Close: 100.2}}
	assert.False(t, d.cooldownBlocks(SideBuy, bars, 1.0))
}

func TestCooldownClearsOnLargePriceMove(t *testing.T) {
	d := newTestDispatcher()
	d.barCounter = 1
	d.RecordEntry(SideBuy, 100.0)
	d.barCounter = 2

	bars := []Bar{{Close: 102.0}} // moved 2.0 >= 1.5*ATR(1.0)
	assert.False(t, d.cooldownBlocks(SideBuy, bars, 1.0))
}

func TestPassGatesBlocksOppositeReversalInStrongTrend(t *testing.T) {
	d := newTestDispatcher()
	regime := RegimeSnapshot{State: StateStrongTrend, StrongTrendSide: SideBuy}
	s := Signal{Kind: SignalMTR, Side: SideSell}
	ok := d.passGates(s, regime, HTFUp, 1.0, []Bar{{Close: 100}}, 1.0, false)
	assert.False(t, ok)
}

func TestPassGatesBlocksReversalDuringSpikeCycleExceptClimax(t *testing.T) {
	d := newTestDispatcher()
	regime := RegimeSnapshot{Cycle: CycleSpike}

	mtr := Signal{Kind: SignalMTR, Side: SideBuy}
	assert.False(t, d.passGates(mtr, regime, HTFUp, 1.0, []Bar{{Close: 100}}, 1.0, false))

	climax := Signal{Kind: SignalClimax, Side: SideBuy}
	assert.True(t, d.passGates(climax, regime, HTFUp, 1.0, []Bar{{Close: 100}}, 1.0, false))
}

func TestPassGatesSpreadFilterOnlyBlocksSpike(t *testing.T) {
	d := newTestDispatcher()
	spike := Signal{Kind: SignalSpike, Side: SideBuy}
	assert.False(t, d.passGates(spike, RegimeSnapshot{}, HTFUp, 3.0, []Bar{{Close: 100}}, 1.0, true))

	h2 := Signal{Kind: SignalH2, Side: SideBuy}
	assert.True(t, d.passGates(h2, RegimeSnapshot{}, HTFUp, 3.0, []Bar{{Close: 100}}, 1.0, true))
}

func TestPassGatesHTFBlocksCounterTrendEntry(t *testing.T) {
	d := newTestDispatcher()
	buy := Signal{Kind: SignalH2, Side: SideBuy}
	assert.False(t, d.passGates(buy, RegimeSnapshot{}, HTFDown, 1.0, []Bar{{Close: 100}}, 1.0, true))
}

func TestPassGatesHTFBypassedByStrongTrendAndGapCount(t *testing.T) {
	d := newTestDispatcher()
	regime := RegimeSnapshot{State: StateStrongTrend, Gap: GapState{GapCount: 5}}
	buy := Signal{Kind: SignalH2, Side: SideBuy}
	assert.True(t, d.passGates(buy, regime, HTFDown, 1.0, []Bar{{Close: 100}}, 1.0, true))
}

func TestPassGatesOrderFlowSuppressesLowMultiplier(t *testing.T) {
	d := newTestDispatcher()
	d.OrderFlow = fakeOrderFlow{mult: 0.2}
	h2 := Signal{Kind: SignalH2, Side: SideBuy}
	assert.False(t, d.passGates(h2, RegimeSnapshot{}, HTFUp, 1.0, []Bar{{Close: 100}}, 1.0, true))
}

type fakeOrderFlow struct{ mult float64 }

func (f fakeOrderFlow) Multiplier(kind SignalKind, side Side) float64 { return f.mult }

func TestTTRSuppressedFalseWhenATRNotPositive(t *testing.T) {
	d := newTestDispatcher()
	bars := make([]Bar, 20)
	for i := range bars {
		// Identical, fully overlapping narrow bars.
		bars[i] = Bar{High: 100.1, Low: 99.9, Close: 100.0}
	}
	assert.False(t, d.ttrSuppressed(bars, RegimeSnapshot{}, 0)) // atr<=0 short-circuits false
}
