package engine

import "github.com/brookscore/tradingcore/config"

// DetectorContext bundles everything a pattern detector needs to evaluate
// the current closed bar (component D is "stateless per-bar functions").
// ATR, EMA and Regime are value copies; Bars, Swings, Pushes and Classifier
// are shared with the dispatcher and detectors only read them, with the
// one exception noted on Classifier below.
type DetectorContext struct {
	Bars []Bar // newest-first, index 0 = most recently closed bar
	ATR float64
	EMA float64
	Regime RegimeSnapshot
	Swings *SwingTracker
	Pushes *PushCounter
	Cfg *config.Config

	// Classifier is consulted only by DetectClimax to record/inspect the
	// single outstanding ReversalAttempt: Brooks' "first
	// reversal usually fails" rule genuinely couples the classifier and
	// this one detector, so it is the sole exception to detectors
	// otherwise being pure functions of their context.
	Classifier *RegimeClassifier
}

// detectorFn is the shape every pattern detector satisfies.
type detectorFn func(ctx DetectorContext) (Signal, bool)

// vetoStop applies the "every detector: technical_stop is bounded by
// MaxStopATR×ATR" rule It returns the stop unchanged with ok=true
// if within bound, or ok=false if the detector should tighten-and-recheck
// or return None.
func vetoStop(entry, stop, atr, maxStopATR float64) (float64, bool) {
	if atr <= 0 {
		return stop, false
	}
	dist := entry - stop
	if dist < 0 {
		dist = -dist
	}
	if dist > maxStopATR*atr {
		return stop, false
	}
	return stop, true
}

// sig builds a Signal, stamping a fresh ID and the source bar index (always
// 1, the signal/confirmation bar, per the glossary).
func sig(kind SignalKind, side Side, stop, baseHeight float64) Signal {
	return Signal{
		ID: NewSignalID(),
		Kind: kind,
		Side: side,
		TechnicalStop: stop,
		BaseHeight: baseHeight,
		SourceBarIndex: 1,
	}
}

func bodyOverlapRatio(cur, prev Bar) float64 {
	if prev.Range() <= 0 {
		return 0
	}
	return overlapAmount(cur, prev) / prev.Range()
}

func isTrendBar(b Bar, atr float64) bool {
	strongBody := b.BodyRatio() > 0.5
	outerWithRange := b.Range() > 0.5*atr && (b.ClosePosition() >= 0.6 || b.ClosePosition() <= 0.4)
	return strongBody || outerWithRange
}

func meanBody(bars []Bar, start, n int) float64 {
	if start+n > len(bars) {
		return 0
	}
	sum := 0.0
	for i := start; i < start+n; i++ {
		sum += bars[i].Body()
	}
	return sum / float64(n)
}

func lowestLow(bars []Bar, n int) float64 {
	if n > len(bars) {
		n = len(bars)
	}
	lo := bars[0].Low
	for i := 1; i < n; i++ {
		if bars[i].Low < lo {
			lo = bars[i].Low
		}
	}
	return lo
}

func highestHigh(bars []Bar, n int) float64 {
	if n > len(bars) {
		n = len(bars)
	}
	hi := bars[0].High
	for i := 1; i < n; i++ {
		if bars[i].High > hi {
			hi = bars[i].High
		}
	}
	return hi
}
