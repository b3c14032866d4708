package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brookscore/tradingcore/config"
)

func testRiskConfig() *config.Config {
	return &config.Config{
		MaxStopATR:       3.0,
		HardStopBuffer:   1.5,
		MinStopsLevelPts: 30,
		TP1ScalpR:        1.0,
		RunnerTP2MinATR:  1.5,
	}
}

func TestBrooksStopUsesSwingWhenWithinMaxStopATR(t *testing.T) {
	r := NewRiskComputer(testRiskConfig())
	swing := &SwingPoint{Price: 99.0}
	in := StopInputs{
		Side: SideBuy, Entry: 100.0, ATR: 1.0,
		SignalBar: Bar{Low: 98.5, High: 100.5}, EntryBar: Bar{Low: 98.7, High: 100.5},
		SwingLoss: swing,
	}
	got := r.BrooksStop(in)
	// buffer = max(0.3*1, 0.2*1) = 0.3, candidate = 99 - 0.3 = 98.7
	assert.InDelta(t, 98.7, got, 1e-9)
}

func TestBrooksStopFallsBackToBarExtremeWhenSwingTooFar(t *testing.T) {
	r := NewRiskComputer(testRiskConfig())
	swing := &SwingPoint{Price: 50.0} // far beyond 3*ATR from entry
	in := StopInputs{
		Side: SideBuy, Entry: 100.0, ATR: 1.0,
		SignalBar: Bar{Low: 98.0, High: 100.5}, EntryBar: Bar{Low: 98.5, High: 100.5},
		SwingLoss: swing,
	}
	got := r.BrooksStop(in)
	// haveSwing false -> candidate = min(98.0, 98.5) - 0.3 = 97.7
	assert.InDelta(t, 97.7, got, 1e-9)
}

func TestBrooksStopClampsToMaxStopATR(t *testing.T) {
	r := NewRiskComputer(testRiskConfig())
	in := StopInputs{
		Side: SideBuy, Entry: 100.0, ATR: 1.0,
		SignalBar: Bar{Low: 50.0, High: 100.5}, EntryBar: Bar{Low: 50.0, High: 100.5},
	}
	got := r.BrooksStop(in)
	assert.InDelta(t, 97.0, got, 1e-9) // floor = entry - 3*ATR
}

func TestBrooksStopPrefersTighterSignalBarStopInStrongTrend(t *testing.T) {
	r := NewRiskComputer(testRiskConfig())
	in := StopInputs{
		Side: SideBuy, Entry: 100.0, ATR: 1.0,
		SignalBar: Bar{Low: 97.0, High: 100.5}, EntryBar: Bar{Low: 97.0, High: 100.5},
		StrongTrend: true, SignalBarStop: 99.2,
	}
	got := r.BrooksStop(in)
	assert.InDelta(t, 99.2, got, 1e-9)
}

func TestHardStopWidensAndEnforcesMinDistance(t *testing.T) {
	cfg := testRiskConfig()
	r := NewRiskComputer(cfg)

	hard := r.HardStop(SideBuy, 100.0, 99.0, 0.01)
	// risk=1, widened=1*(1.5-1)=0.5, hard=99-0.5=98.5; minDist=30*0.01=0.3 -> dist 1.5 ok
	assert.InDelta(t, 98.5, hard, 1e-9)

	// Tight technical stop: widened hard stop still inside minDist, gets floored out.
	tight := r.HardStop(SideSell, 100.0, 100.05, 1.0)
	assert.GreaterOrEqual(t, tight-100.0, cfg.MinStopsLevelPts*1.0-1e-9)
}

func TestTakeProfitsBuySide(t *testing.T) {
	r := NewRiskComputer(testRiskConfig())
	tp1, tp2 := r.TakeProfits(SideBuy, 100.0, 99.0, 1.0, RegimeSnapshot{}, 0.4)
	assert.InDelta(t, 101.0, tp1, 1e-9) // 1R
	// moveSize = max(2*0.4, 0.5*1) = 0.8 < RunnerTP2MinATR(1.5)*ATR(1) -> clamps to 1.5
	assert.InDelta(t, 101.5, tp2, 1e-9)
}

func TestTakeProfitsRespectsRunnerMinATR(t *testing.T) {
	r := NewRiskComputer(testRiskConfig())
	_, tp2 := r.TakeProfits(SideSell, 100.0, 101.0, 1.0, RegimeSnapshot{}, 0.1)
	// moveSize = max(0.2, 0.5) = 0.5 < RunnerTP2MinATR(1.5)*ATR(1) -> clamps to 1.5
	assert.InDelta(t, 98.5, tp2, 1e-9)
}

func TestTakeProfitsTightChannelUsesRangeExtreme(t *testing.T) {
	r := NewRiskComputer(testRiskConfig())
	regime := RegimeSnapshot{TightChannelActive: true, TightChannelDir: SideBuy, TRHigh: 105.0}
	_, tp2 := r.TakeProfits(SideBuy, 100.0, 99.0, 1.0, regime, 2.0)
	// moveSize = max(4, 0.5) = 4 -> entry+4=104 < TRHigh(105) -> extreme = 105
	assert.InDelta(t, 105.0, tp2, 1e-9)
}

func TestEntryPriceMarketVsStop(t *testing.T) {
	r := NewRiskComputer(testRiskConfig())
	bar := Bar{High: 101.0, Low: 99.0}

	require.InDelta(t, 100.2, r.EntryPrice(SideBuy, true, 100.1, 100.2, bar, 0.01), 1e-9)
	require.InDelta(t, 100.1, r.EntryPrice(SideSell, true, 100.1, 100.2, bar, 0.01), 1e-9)
	require.InDelta(t, 101.01, r.EntryPrice(SideBuy, false, 0, 0, bar, 0.01), 1e-9)
	require.InDelta(t, 98.99, r.EntryPrice(SideSell, false, 0, 0, bar, 0.01), 1e-9)
}

func TestRoundToTickAndStep(t *testing.T) {
	assert.InDelta(t, 100.25, RoundToTick(100.253, 0.05), 1e-9)
	assert.InDelta(t, 1.230, RoundToStep(1.2349, 0.01), 1e-9)
	assert.InDelta(t, 0, RoundToStep(0.004, 0.01), 1e-9)
}
