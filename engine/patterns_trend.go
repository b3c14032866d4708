package engine

// Trend-continuation detectors, grounded on
// other_examples's breakout_strategy.go for range/breakout geometry and
// confirmation-bar style, generalized to Brooks' bar-count and push
// vocabulary.

// DetectSpike implements the Spike detector: a burst of consecutive
// same-direction trend bars with low overlap.
func DetectSpike(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("SPIKE") || ctx.ATR() <= 0 || len(ctx.Bars) < ctx.Cfg.MinSpikeBars+1 {
		return Signal{}, false
	}
	minBars := ctx.Cfg.MinSpikeBars
	if minBars < 1 {
		minBars = 3
	}

	countBull, countBear := 0, 0
	for i := 0; i < minBars; i++ {
		b := ctx.Bars[i]
		strong := b.BodyRatio() > 0.5 || (b.Range() > 0.5*ctx.ATR() && (b.ClosePosition() >= 0.6 || b.ClosePosition() <= 0.4))
		if !strong {
			break
		}
		if i+1 < len(ctx.Bars) {
			overlap := bodyOverlapRatio(b, ctx.Bars[i+1])
			if overlap > ctx.Cfg.SpikeOverlapMax {
				break
			}
		}
		if b.IsBullish() {
			countBull++
		} else if b.IsBearish() {
			countBear++
		} else {
			break
		}
	}

	confirm := ctx.Bars[1]
	if countBull >= minBars && confirm.IsBullish() {
		region := ctx.Bars[:minBars]
		stop := lowestLow(region, minBars) - 0.3*ctx.ATR()
		entry := ctx.Bars[0].Close
		if s, ok := vetoStop(entry, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalSpike, SideBuy, s, highestHigh(region, minBars)-lowestLow(region, minBars)), true
		}
		return Signal{}, false
	}
	if countBear >= minBars && confirm.IsBearish() {
		region := ctx.Bars[:minBars]
		stop := highestHigh(region, minBars) + 0.3*ctx.ATR()
		entry := ctx.Bars[0].Close
		if s, ok := vetoStop(entry, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalSpike, SideSell, s, highestHigh(region, minBars)-lowestLow(region, minBars)), true
		}
	}
	return Signal{}, false
}

// DetectMicroChannel: >=5 bars each making a higher high AND higher low
// (symmetric for sells), shallow pullbacks, confirmed on breakout of the
// previous bar's extreme.
func DetectMicroChannel(ctx DetectorContext) (Signal, bool) {
	return detectMicroChannel(ctx, SignalMicroChannel, "MICRO_CHANNEL", 5)
}

// DetectMicroChannelH1 is the v2-only, shorter (3-bar) variant kept behind
// its own flag so v2 and v4 behavior can both be enabled independently
// (see DESIGN.md).
func DetectMicroChannelH1(ctx DetectorContext) (Signal, bool) {
	return detectMicroChannel(ctx, SignalMicroChannelH1, "MICRO_CHANNEL_H1", 3)
}

func detectMicroChannel(ctx DetectorContext, kind SignalKind, flag string, n int) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled(flag) || ctx.ATR() <= 0 || len(ctx.Bars) < n+1 {
		return Signal{}, false
	}

	upOK, downOK := true, true
	for i := 0; i < n-1; i++ {
		cur, next := ctx.Bars[i], ctx.Bars[i+1]
		if !(cur.High > next.High && cur.Low > next.Low) {
			upOK = false
		}
		if !(cur.High < next.High && cur.Low < next.Low) {
			downOK = false
		}
		if next.Range() > 0 {
			var pull float64
			if cur.High > next.High {
				pull = next.High - cur.Low
			} else {
				pull = cur.High - next.Low
			}
			if pull > 0.25*next.Range() {
				upOK, downOK = false, false
			}
		}
	}

	confirm := ctx.Bars[0]
	prev := ctx.Bars[1]
	if upOK && confirm.High > prev.High && confirm.IsBullish() {
		stop := lowestLow(ctx.Bars, n) - 0.3*ctx.ATR()
		if s, ok := vetoStop(confirm.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(kind, SideBuy, s, highestHigh(ctx.Bars, n)-lowestLow(ctx.Bars, n)), true
		}
	}
	if downOK && confirm.Low < prev.Low && confirm.IsBearish() {
		stop := highestHigh(ctx.Bars, n) + 0.3*ctx.ATR()
		if s, ok := vetoStop(confirm.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(kind, SideSell, s, highestHigh(ctx.Bars, n)-lowestLow(ctx.Bars, n)), true
		}
	}
	return Signal{}, false
}

// DetectH2Buy / DetectL2Sell are Brooks' "mainstay" continuation signals:
// a breakout of the second push's swing extreme. DetectH1Buy / DetectL1Sell
// are their first-push, stricter-gated siblings.
func DetectH2Buy(ctx DetectorContext) (Signal, bool) { return detectPush(ctx, SideBuy, 2) }
func DetectL2Sell(ctx DetectorContext) (Signal, bool) { return detectPush(ctx, SideSell, 2) }
func DetectH1Buy(ctx DetectorContext) (Signal, bool) { return detectPush(ctx, SideBuy, 1) }
func DetectL1Sell(ctx DetectorContext) (Signal, bool) { return detectPush(ctx, SideSell, 1) }

func detectPush(ctx DetectorContext, side Side, count int) (Signal, bool) {
	var kind SignalKind
	var flag string
	switch {
	case side == SideBuy && count == 1:
		kind, flag = SignalH1, "H1"
	case side == SideBuy && count == 2:
		kind, flag = SignalH2, "H2"
	case side == SideSell && count == 1:
		kind, flag = SignalL1, "L1"
	default:
		kind, flag = SignalL2, "L2"
	}
	if !ctx.Cfg.SignalEnabled(flag) || ctx.ATR() <= 0 || ctx.Pushes == nil {
		return Signal{}, false
	}

	if count == 1 {
		// H1/L1 additionally require "extremely strong" regime and >=4 of
		// last 5 bars in trend direction, and are blocked by the 20-Gap
		// first-pullback machine.
		if ctx.Regime.Gap.Overextended && ctx.Regime.Gap.Direction == side && !ctx.Regime.Gap.FirstPullbackComplete {
			return Signal{}, false
		}
		if ctx.Regime.StrongTrendSide != side || ctx.Regime.StrongTrendScore < 0.7 {
			return Signal{}, false
		}
		n := 5
		if len(ctx.Bars) < n {
			return Signal{}, false
		}
		trendBars := 0
		for i := 0; i < n; i++ {
			if (side == SideBuy && ctx.Bars[i].IsBullish()) || (side == SideSell && ctx.Bars[i].IsBearish()) {
				trendBars++
			}
		}
		if trendBars < 4 {
			return Signal{}, false
		}
	}

	if side == SideBuy {
		if ctx.Pushes.BuyPushes() != count {
			return Signal{}, false
		}
		h1 := ctx.Swings.RecentSwingHigh(1, false)
		if h1 == nil || ctx.Bars[0].Close <= h1.Price || !ctx.Bars[0].IsBullish() {
			return Signal{}, false
		}
		low1 := ctx.Swings.RecentSwingLow(1, true)
		buffer := 0.3 * ctx.ATR()
		var stop float64
		if low1 != nil {
			stop = low1.Price - buffer
		} else {
			stop = lowestLow(ctx.Bars, 3) - buffer
		}
		if s, ok := vetoStop(ctx.Bars[0].Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(kind, SideBuy, s, ctx.ATR()), true
		}
		return Signal{}, false
	}

	if ctx.Pushes.SellPushes() != count {
		return Signal{}, false
	}
	l1 := ctx.Swings.RecentSwingLow(1, false)
	if l1 == nil || ctx.Bars[0].Close >= l1.Price || !ctx.Bars[0].IsBearish() {
		return Signal{}, false
	}
	high1 := ctx.Swings.RecentSwingHigh(1, true)
	buffer := 0.3 * ctx.ATR()
	var stop float64
	if high1 != nil {
		stop = high1.Price + buffer
	} else {
		stop = highestHigh(ctx.Bars, 3) + buffer
	}
	if s, ok := vetoStop(ctx.Bars[0].Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
		return sig(kind, SideSell, s, ctx.ATR()), true
	}
	return Signal{}, false
}

// DetectTrendBar fires a plain trend-continuation bar inside an established
// regime direction: a strong-bodied bar closing in the outer zone, with the
// other catalogue entries (spike, h/l, micro-channel) silent this bar.
func DetectTrendBar(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("TREND_BAR") || ctx.ATR() <= 0 || len(ctx.Bars) < 2 {
		return Signal{}, false
	}
	b0 := ctx.Bars[0]
	if ctx.Regime.StrongTrendSide == SideNone {
		return Signal{}, false
	}
	if !isTrendBar(b0, ctx.ATR()) {
		return Signal{}, false
	}
	side := ctx.Regime.StrongTrendSide
	if side == SideBuy && !b0.IsBullish() {
		return Signal{}, false
	}
	if side == SideSell && !b0.IsBearish() {
		return Signal{}, false
	}
	var stop float64
	if side == SideBuy {
		stop = ctx.Bars[1].Low - 0.2*ctx.ATR()
	} else {
		stop = ctx.Bars[1].High + 0.2*ctx.ATR()
	}
	if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
		return sig(SignalTrendBar, side, s, b0.Range()), true
	}
	return Signal{}, false
}

// DetectGapBar fires on a strong-bodied bar that opens beyond the previous
// bar's range in the trend direction (an "opening gap" trend bar), distinct
// from the classifier's Measuring-Gap overlay.
func DetectGapBar(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("GAP_BAR") || ctx.ATR() <= 0 || len(ctx.Bars) < 2 {
		return Signal{}, false
	}
	b0, b1 := ctx.Bars[0], ctx.Bars[1]
	if !isTrendBar(b0, ctx.ATR()) {
		return Signal{}, false
	}
	if b0.Low > b1.High && b0.IsBullish() {
		stop := b1.High - 0.3*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalGapBar, SideBuy, s, b0.Low-b1.High), true
		}
	}
	if b0.High < b1.Low && b0.IsBearish() {
		stop := b1.Low + 0.3*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalGapBar, SideSell, s, b1.Low-b0.High), true
		}
	}
	return Signal{}, false
}

// DetectTRBreakout fires when price closes beyond the trading-range bounds
// with a strong body, the directional counterpart to Failed-Breakout
//.
func DetectTRBreakout(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("TR_BREAKOUT") || !ctx.Regime.TRActive || ctx.ATR() <= 0 {
		return Signal{}, false
	}
	b0 := ctx.Bars[0]
	if b0.BodyRatio() < 0.5 {
		return Signal{}, false
	}
	if b0.Close > ctx.Regime.TRHigh && b0.IsBullish() && b0.ClosePosition() >= 0.6 {
		stop := ctx.Regime.TRHigh - 0.3*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalTRBreakout, SideBuy, s, ctx.Regime.TRHigh-ctx.Regime.TRLow), true
		}
	}
	if b0.Close < ctx.Regime.TRLow && b0.IsBearish() && b0.ClosePosition() <= 0.4 {
		stop := ctx.Regime.TRLow + 0.3*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalTRBreakout, SideSell, s, ctx.Regime.TRHigh-ctx.Regime.TRLow), true
		}
	}
	return Signal{}, false
}

// DetectBreakoutPullback is the dispatcher's priority-one detector while
// Breakout-Mode is active: the first shallow pullback
// after the breakout bar that resumes in the breakout direction.
func DetectBreakoutPullback(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("BREAKOUT_PULLBACK") || !ctx.Regime.BreakoutMode.Active || ctx.ATR() <= 0 {
		return Signal{}, false
	}
	b0 := ctx.Bars[0]
	dir := ctx.Regime.BreakoutMode.Direction
	if dir == SideBuy && b0.IsBullish() && b0.ClosePosition() >= 0.6 {
		stop := b0.Low - 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalBreakoutPullback, SideBuy, s, ctx.ATR()), true
		}
	}
	if dir == SideSell && b0.IsBearish() && b0.ClosePosition() <= 0.4 {
		stop := b0.High + 0.2*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalBreakoutPullback, SideSell, s, ctx.ATR()), true
		}
	}
	return Signal{}, false
}

// DetectEmergencySpike is the v2-only bypass detector (Open Question
// decision): a single extreme-range bar, stricter than Spike's multi-bar
// requirement, meant to catch a violent one-bar move the multi-bar Spike
// detector would miss entirely.
func DetectEmergencySpike(ctx DetectorContext) (Signal, bool) {
	if !ctx.Cfg.SignalEnabled("EMERGENCY_SPIKE") || ctx.ATR() <= 0 || len(ctx.Bars) < 1 {
		return Signal{}, false
	}
	b0 := ctx.Bars[0]
	if b0.Range() < 2.0*ctx.ATR() || b0.BodyRatio() < 0.7 {
		return Signal{}, false
	}
	if b0.IsBullish() && b0.ClosePosition() >= 0.85 {
		stop := b0.Low - 0.3*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalEmergencySpike, SideBuy, s, b0.Range()), true
		}
	}
	if b0.IsBearish() && b0.ClosePosition() <= 0.15 {
		stop := b0.High + 0.3*ctx.ATR()
		if s, ok := vetoStop(b0.Close, stop, ctx.ATR(), ctx.Cfg.MaxStopATR); ok {
			return sig(SignalEmergencySpike, SideSell, s, b0.Range()), true
		}
	}
	return Signal{}, false
}
