package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/brookscore/tradingcore/config"
)

func newTestClassifier() *RegimeClassifier {
	return NewRegimeClassifier(&config.Config{}, zerolog.Nop())
}

func TestOnNewBarReturnsTradingRangeOnInsufficientBars(t *testing.T) {
	r := newTestClassifier()
	snap := r.OnNewBar([]Bar{{Close: 100}}, 95, 1.0, NewSwingTracker())
	assert.Equal(t, StateTradingRange, snap.State)
	assert.Equal(t, CycleTradingRange, snap.Cycle)
	assert.Equal(t, AlwaysInNeutral, snap.AlwaysIn)
}

func TestOnNewBarReturnsTradingRangeOnZeroATR(t *testing.T) {
	r := newTestClassifier()
	bars := make([]Bar, 10)
	snap := r.OnNewBar(bars, 95, 0, NewSwingTracker())
	assert.Equal(t, StateTradingRange, snap.State)
}

// bullishBar builds a bar whose body is a strong (>0.55) fraction of its
// range, closing bullish above ema — shape used by the AlwaysIn cascade's
// rule (a),
func bullishBar(open, closePrice float64) Bar {
	return Bar{Open: open, Close: closePrice, High: closePrice + 0.2, Low: open - 0.2}
}

func bearishBar(open, closePrice float64) Bar {
	return Bar{Open: open, Close: closePrice, High: open + 0.2, Low: closePrice - 0.2}
}

func TestComputeAlwaysInLongOnTwoStrongBullishBarsAboveEMA(t *testing.T) {
	r := newTestClassifier()
	bars := []Bar{
		bullishBar(100, 103), // bars[0], most recent
		bullishBar(97, 100), // bars[1]
	}
	got := r.computeAlwaysIn(bars, 95.0, 1.0, NewSwingTracker())
	assert.Equal(t, AlwaysInLong, got)
}

func TestComputeAlwaysInShortOnTwoStrongBearishBarsBelowEMA(t *testing.T) {
	r := newTestClassifier()
	bars := []Bar{
		bearishBar(100, 97),
		bearishBar(103, 100),
	}
	got := r.computeAlwaysIn(bars, 105.0, 1.0, NewSwingTracker())
	assert.Equal(t, AlwaysInShort, got)
}

func TestComputeAlwaysInNeutralOnChoppyBars(t *testing.T) {
	r := newTestClassifier()
	bars := []Bar{
		{Open: 100, Close: 100.1, High: 100.15, Low: 99.95},
		{Open: 100.1, Close: 100.0, High: 100.15, Low: 99.9},
		{Open: 100.0, Close: 100.1, High: 100.2, Low: 99.9},
		{Open: 100.1, Close: 100.0, High: 100.2, Low: 99.9},
	}
	got := r.computeAlwaysIn(bars, 100.05, 1.0, NewSwingTracker())
	assert.Equal(t, AlwaysInNeutral, got)
}
