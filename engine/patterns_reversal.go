package engine

// Reversal detectors, grounded on other_examples's regime.go
// scoring shape and pressure-score.go's documented-formula style for the
// multi-term geometry checks below.

// DetectClimax implements Brooks' "first reversal usually fails" climax
// reversal. In strict mode (MarketCycle==Spike) a qualifying climax bar
// only records a ReversalAttempt the first time; it fires Climax only once
// a same-direction attempt has already failed. Outside strict
// mode it fires directly.
func DetectClimax(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("CLIMAX") || ctx.ATR() <= 0 || len(ctx.Bars) < 7 || ctx.Classifier == nil {
		return Signal{}, false
	}
	strict := ctx.Regime.Cycle == CycleSpike
	rangeThresh := 2.5
	moveThresh := 2.0
	if strict {
		rangeThresh = 3.0
		moveThresh = 4.0
	}

	prev, cur := ctx.Bars[1], ctx.Bars[0]
	if prev.Range() <= rangeThresh*ctx.ATR() {
		return Signal{}, false
	}

	var dir ReversalDirection
	var side Side
	switch {
	case prev.IsBullish() && cur.IsBearish() && cur.Close < prev.Close:
		dir, side = ReversalBearish, SideSell
	case prev.IsBearish() && cur.IsBullish() && cur.Close > prev.Close:
		dir, side = ReversalBullish, SideBuy
	default:
		return Signal{}, false
	}

	// Rejection tail on the exit side, <=25% of range.
	var tailRatio float64
	if dir == ReversalBearish {
		top := cur.Open
		if cur.Close > top {
			top = cur.Close
		}
		tailRatio = (cur.High - top) / cur.Range()
	} else {
		bot := cur.Open
		if cur.Close < bot {
			bot = cur.Close
		}
		tailRatio = (bot - cur.Low) / cur.Range()
	}
	if cur.Range() <= 0 || tailRatio > 0.25 {
		return Signal{}, false
	}

	// Prior-move requirement over the 5 bars leading into (and including)
	// the climax bar.
	priorMove := highestHigh(ctx.Bars[1:], 5) - lowestLow(ctx.Bars[1:], 5)
	if priorMove < moveThresh*ctx.ATR() {
		return Signal{}, false
	}

	if strict {
		existing := ctx.Classifier.CurrentReversal()
		failedPrior := existing != nil && existing.Direction == dir && existing.Failed
		if !failedPrior {
			ctx.Classifier.recordReversal(dir, cur.Low, cur.High, cur.Low)
			return Signal{}, false
		}
		ctx.Classifier.ClearReversal()
	}

	var stop float64
	if side == SideSell {
		stop = cur.High + 0.3*ctx.ATR()
	} else {
		stop = cur.Low - 0.3*ctx.ATR()
	}
	if s, ok := vetoStop(cur.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
		return sig(SignalClimax, side, s, priorMove), true
	}
	return Signal{}, false
}

// DetectWedge implements the direction-neutral three-push wedge: three
// strictly lower swing lows (buy wedge) or higher swing highs (sell
// wedge), firing only when the current bar sits within 0.2xATR of the third
// extremum and closes in the wedge-break direction in its outer half. The
// retracement depth between pushes and the size of each push's impulse are
// not checked.
func DetectWedge(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("WEDGE") || ctx.ATR() <= 0 {
		return Signal{}, false
	}
	l1, l2, l3 := ctx.Swings.RecentSwingLow(1, false), ctx.Swings.RecentSwingLow(2, false), ctx.Swings.RecentSwingLow(3, false)
	if buyWedge(ctx, l1, l2, l3) {
		cur := ctx.Bars[0]
		stop := l1.Price - 0.2*ctx.ATR()
		if s, ok := vetoStop(cur.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalWedge, SideBuy, s, ctx.ATR()), true
		}
	}
	h1, h2, h3 := ctx.Swings.RecentSwingHigh(1, false), ctx.Swings.RecentSwingHigh(2, false), ctx.Swings.RecentSwingHigh(3, false)
	if sellWedge(ctx, h1, h2, h3) {
		cur := ctx.Bars[0]
		stop := h1.Price + 0.2*ctx.ATR()
		if s, ok := vetoStop(cur.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalWedge, SideSell, s, ctx.ATR()), true
		}
	}
	return Signal{}, false
}

func buyWedge(ctx DetectorContext, l1, l2, l3 *SwingPoint) bool {
	if l1 == nil || l2 == nil || l3 == nil {
		return false
	}
	if !(l1.Price < l2.Price && l2.Price < l3.Price) {
		return false
	}
	cur := ctx.Bars[0]
	near := abs(cur.Low-l1.Price) <= 0.2*ctx.ATR() || abs(cur.Close-l1.Price) <= 0.2*ctx.ATR()
	return near && cur.IsBullish() && cur.ClosePosition() >= 0.5
}

func sellWedge(ctx DetectorContext, h1, h2, h3 *SwingPoint) bool {
	if h1 == nil || h2 == nil || h3 == nil {
		return false
	}
	if !(h1.Price > h2.Price && h2.Price > h3.Price) {
		return false
	}
	cur := ctx.Bars[0]
	near := abs(cur.High-h1.Price) <= 0.2*ctx.ATR() || abs(cur.Close-h1.Price) <= 0.2*ctx.ATR()
	return near && cur.IsBearish() && cur.ClosePosition() <= 0.5
}

// DetectMTR implements the Major Trend Reversal: a previously-broken
// trendline (taken as the horizontal level of the most recent swing high
// or low, not a line drawn through two swings), a failed retest, a structural lower-high (buy→sell) or
// higher-low (sell→buy), and a confirming bar in the new direction closing
// in the outer 50%. The 0.2xATR retest tolerance is configurable per
// DESIGN.md's Open Question decision (MTRRetestATRMult).
func DetectMTR(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("MTR") || ctx.ATR() <= 0 {
		return Signal{}, false
	}
	tol := ctx.Cfg.MTRRetestATRMult
	if tol <= 0 {
		tol = 0.2
	}

	// Downtrend-to-uptrend MTR: two lower swing highs, the level of the
	// latest one broken by a close above it by >=0.1xATR, a retest within
	// tol that rejects, a higher low, and a confirming bullish bar.
	h1, h2 := ctx.Swings.RecentSwingHigh(1, false), ctx.Swings.RecentSwingHigh(2, false)
	l1, l2 := ctx.Swings.RecentSwingLow(1, false), ctx.Swings.RecentSwingLow(2, false)
	cur := ctx.Bars[0]

	if h1 != nil && h2 != nil && h1.Price < h2.Price && l1 != nil && l2 != nil && l1.Price > l2.Price {
		lineLevel := h1.Price
		broken := cur.Close > lineLevel+0.1*ctx.ATR() || (len(ctx.Bars) > 1 && ctx.Bars[1].Close > lineLevel+0.1*ctx.ATR())
		retested := abs(cur.Low-lineLevel) <= tol*ctx.ATR() || abs(cur.High-lineLevel) <= tol*ctx.ATR()
		if broken && retested && cur.IsBullish() && cur.ClosePosition() >= 0.5 {
			stop := l1.Price - 0.2*ctx.ATR()
			if s, ok := vetoStop(cur.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
				return sig(SignalMTR, SideBuy, s, ctx.ATR()), true
			}
		}
	}

	if l1 != nil && l2 != nil && l1.Price > l2.Price && h1 != nil && h2 != nil && h1.Price < h2.Price {
		lineLevel := l1.Price
		broken := cur.Close < lineLevel-0.1*ctx.ATR() || (len(ctx.Bars) > 1 && ctx.Bars[1].Close < lineLevel-0.1*ctx.ATR())
		retested := abs(cur.High-lineLevel) <= tol*ctx.ATR() || abs(cur.Low-lineLevel) <= tol*ctx.ATR()
		if broken && retested && cur.IsBearish() && cur.ClosePosition() <= 0.5 {
			stop := h1.Price + 0.2*ctx.ATR()
			if s, ok := vetoStop(cur.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
				return sig(SignalMTR, SideSell, s, ctx.ATR()), true
			}
		}
	}
	return Signal{}, false
}

// DetectFailedBreakout fires when, within an active TradingRange, the bar
// exceeds TR_High (→sell) or TR_Low (→buy) intrabar but closes back inside.
func DetectFailedBreakout(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("FAILED_BREAKOUT") || !ctx.Regime.TRActive || ctx.ATR() <= 0 {
		return Signal{}, false
	}
	b0 := ctx.Bars[0]
	if b0.High > ctx.Regime.TRHigh && b0.Close < ctx.Regime.TRHigh && b0.ClosePosition() <= 0.4 {
		stop := b0.High + 0.3*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalFailedBreakout, SideSell, s, ctx.Regime.TRHigh-ctx.Regime.TRLow), true
		}
	}
	if b0.Low < ctx.Regime.TRLow && b0.Close > ctx.Regime.TRLow && b0.ClosePosition() >= 0.6 {
		stop := b0.Low - 0.3*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalFailedBreakout, SideBuy, s, ctx.Regime.TRHigh-ctx.Regime.TRLow), true
		}
	}
	return Signal{}, false
}

// DetectFinalFlag fires only in the FinalFlag regime: a bar counter to the
// prior tight-channel direction with a strong close.
func DetectFinalFlag(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("FINAL_FLAG") || !ctx.Regime.FinalFlagActive || ctx.ATR() <= 0 {
		return Signal{}, false
	}
	b0 := ctx.Bars[0]
	counterDir := ctx.Regime.FinalFlagDir.Opposite()
	if counterDir == SideBuy && b0.IsBullish() && b0.ClosePosition() >= 0.6 {
		stop := b0.Low - 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalFinalFlag, SideBuy, s, ctx.ATR()), true
		}
	}
	if counterDir == SideSell && b0.IsBearish() && b0.ClosePosition() <= 0.4 {
		stop := b0.High + 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalFinalFlag, SideSell, s, ctx.ATR()), true
		}
	}
	return Signal{}, false
}

// DetectDoubleTopBottom fires when the two most-recent swing extremes sit
// within 0.3xATR of each other and of the current bar's extreme, with a
// reversing bar.
func DetectDoubleTopBottom(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("DOUBLE_TOP_BOTTOM") || ctx.ATR() <= 0 {
		return Signal{}, false
	}
	b0 := ctx.Bars[0]
	h1, h2 := ctx.Swings.RecentSwingHigh(1, false), ctx.Swings.RecentSwingHigh(2, false)
	if h1 != nil && h2 != nil && abs(h1.Price-h2.Price) <= 0.3*ctx.ATR() && abs(b0.High-h1.Price) <= 0.3*ctx.ATR() {
		if b0.IsBearish() && b0.BodyRatio() >= 0.4 && b0.ClosePosition() <= 0.45 {
			stop := b0.High + 0.2*ctx.ATR()
			if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
				return sig(SignalDoubleTopBottom, SideSell, s, ctx.ATR()), true
			}
		}
	}
	l1, l2 := ctx.Swings.RecentSwingLow(1, false), ctx.Swings.RecentSwingLow(2, false)
	if l1 != nil && l2 != nil && abs(l1.Price-l2.Price) <= 0.3*ctx.ATR() && abs(b0.Low-l1.Price) <= 0.3*ctx.ATR() {
		if b0.IsBullish() && b0.BodyRatio() >= 0.4 && b0.ClosePosition() >= 0.55 {
			stop := b0.Low - 0.2*ctx.ATR()
			if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
				return sig(SignalDoubleTopBottom, SideBuy, s, ctx.ATR()), true
			}
		}
	}
	return Signal{}, false
}

// DetectReversalBar fires on a plain one-bar reversal: strong range, strong
// body, close in the outer zone opposite the prevailing AlwaysIn direction.
func DetectReversalBar(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("REVERSAL_BAR") || ctx.ATR() <= 0 {
		return Signal{}, false
	}
	b0 := ctx.Bars[0]
	if b0.Range() <= 1.0*ctx.ATR() || b0.BodyRatio() <= 0.55 {
		return Signal{}, false
	}
	if ctx.Regime.AlwaysIn == AlwaysInLong && b0.IsBearish() && b0.ClosePosition() <= 0.25 {
		stop := b0.High + 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalReversalBar, SideSell, s, ctx.ATR()), true
		}
	}
	if ctx.Regime.AlwaysIn == AlwaysInShort && b0.IsBullish() && b0.ClosePosition() >= 0.75 {
		stop := b0.Low - 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalReversalBar, SideBuy, s, ctx.ATR()), true
		}
	}
	return Signal{}, false
}

// DetectIIPattern fires on Brooks' "ii" (two small inside bars) breakout: two
// consecutive bars each inside the range of the bar before them, followed by
// a breakout bar.
func DetectIIPattern(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("II_PATTERN") || ctx.ATR() <= 0 || len(ctx.Bars) < 4 {
		return Signal{}, false
	}
	b0, in1, in2 := ctx.Bars[0], ctx.Bars[1], ctx.Bars[2]
	insideOf := func(inner, outer Bar) bool { return inner.High <= outer.High && inner.Low >= outer.Low }
	if !insideOf(in1, in2) || !insideOf(in2, ctx.Bars[3]) {
		return Signal{}, false
	}
	if b0.High > in2.High && b0.IsBullish() {
		stop := in2.Low - 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalIIPattern, SideBuy, s, ctx.ATR()), true
		}
	}
	if b0.Low < in2.Low && b0.IsBearish() {
		stop := in2.High + 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalIIPattern, SideSell, s, ctx.ATR()), true
		}
	}
	return Signal{}, false
}

// DetectOutsideBar fires on an outside bar (range engulfs the prior bar)
// that closes as a reversal in the outer 25%.
func DetectOutsideBar(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("OUTSIDE_BAR") || ctx.ATR() <= 0 || len(ctx.Bars) < 2 {
		return Signal{}, false
	}
	b0, b1 := ctx.Bars[0], ctx.Bars[1]
	if !(b0.High > b1.High && b0.Low < b1.Low) {
		return Signal{}, false
	}
	if b0.IsBullish() && b0.ClosePosition() >= 0.75 {
		stop := b0.Low - 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalOutsideBar, SideBuy, s, ctx.ATR()), true
		}
	}
	if b0.IsBearish() && b0.ClosePosition() <= 0.25 {
		stop := b0.High + 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalOutsideBar, SideSell, s, ctx.ATR()), true
		}
	}
	return Signal{}, false
}

// DetectMeasuredMove projects a target off the active Measuring-Gap and
// fires a continuation entry on the first pullback toward the gap's mid,
// that then resumes in the gap's direction.
func DetectMeasuredMove(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("MEASURED_MOVE") || !ctx.Regime.MeasuringGap.Active || ctx.ATR() <= 0 {
		return Signal{}, false
	}
	g := ctx.Regime.MeasuringGap
	b0 := ctx.Bars[0]
	if g.Direction == SideBuy && b0.Low <= g.Mid+0.2*ctx.ATR() && b0.IsBullish() && b0.ClosePosition() >= 0.55 {
		stop := g.Low - 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalMeasuredMove, SideBuy, s, g.High-g.Low), true
		}
	}
	if g.Direction == SideSell && b0.High >= g.Mid-0.2*ctx.ATR() && b0.IsBearish() && b0.ClosePosition() <= 0.45 {
		stop := g.High + 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalMeasuredMove, SideSell, s, g.High-g.Low), true
		}
	}
	return Signal{}, false
}
