package engine

import (
	"github.com/rs/zerolog"

	"github.com/brookscore/tradingcore/config"
)

// Minimum-hold bar counts for state inertia.
func minHold(s MarketState) int {
	switch s {
	case StateStrongTrend, StateTightChannel:
		return 3
	case StateTradingRange, StateBreakout:
		return 2
	default:
		return 1
	}
}

// MeasuringGapState tracks an active measuring-gap projection.
type MeasuringGapState struct {
	Active bool
	Direction Side
	High float64
	Low float64
	Mid float64
	BarsSince int
}

// BreakoutModeState tracks Breakout-Mode armed/active status.
type BreakoutModeState struct {
	Active bool
	Direction Side
	EntryPrice float64
	BarsSince int
}

// RegimeSnapshot is the per-bar, read-only output of the classifier,
// handed to the dispatcher and detectors as a value-copy.
type RegimeSnapshot struct {
	State MarketState
	Cycle MarketCycle

	AlwaysIn AlwaysIn

	StrongTrendSide Side
	StrongTrendScore float64

	TightChannelActive bool
	TightChannelDir Side

	TRHigh, TRLow float64
	TRActive bool

	BreakoutActive bool

	FinalFlagActive bool
	FinalFlagDir Side

	Gap GapState

	BarbWireActive bool

	MeasuringGap MeasuringGapState
	BreakoutMode BreakoutModeState

	Reversal *ReversalAttempt
}

// RegimeClassifier implements component C: the six-regime state machine,
// AlwaysIn cascade, and the Barb-Wire/Measuring-Gap/Breakout-Mode/20-Gap
// overlays, expressed as a named-state-with-scoring machine rather than a
// single numeric indicator.
type RegimeClassifier struct {
	cfg *config.Config
	log zerolog.Logger

	lockedState MarketState
	holdRemaining int

	tightChannelActive bool
	tightChannelDir Side
	tightChannelBars int
	channelEndedBarsAgo int
	hadTightChannel bool

	trHigh, trLow float64
	trActive bool

	gap GapState

	barbWireActive bool

	measuringGap MeasuringGapState
	breakoutMode BreakoutModeState

	reversal *ReversalAttempt
	// reversalRefHigh/Low are the recording bar's own High/Low, used by
	// checkReversalFailure — kept separate from ReversalAttempt.ExtremePrice
	// because the failure test compares against the bar's high/low,
	// not the push extreme.
	reversalRefHigh, reversalRefLow float64

	lastAlwaysIn AlwaysIn
}

// NewRegimeClassifier constructs a classifier with defaults (neutral
// regime, no active overlays).
func NewRegimeClassifier(cfg *config.Config, log zerolog.Logger) *RegimeClassifier {
	return &RegimeClassifier{
		cfg: cfg,
		log: log.With().Str("component", "regime").Logger(),
		lockedState: StateTradingRange,
		lastAlwaysIn: AlwaysInNeutral,
	}
}

// OnNewBar evaluates every criterion against closedBars (newest-first,
// index 0 = most recently closed) and returns the new snapshot. ema/atr
// are the primary-buffer's current values; ema==0 or atr==0 means buffer
// underflow: the classifier returns a neutral snapshot and emits no
// signals upstream.
func (r *RegimeClassifier) OnNewBar(closedBars []Bar, ema, atr float64, swings *SwingTracker) RegimeSnapshot {
	if atr <= 0 || ema <= 0 || len(closedBars) < 5 {
		return RegimeSnapshot{State: StateTradingRange, Cycle: CycleTradingRange, AlwaysIn: AlwaysInNeutral}
	}

	alwaysIn := r.computeAlwaysIn(closedBars, ema, atr, swings)
	r.lastAlwaysIn = alwaysIn

	strongSide, strongScore := r.computeStrongTrend(closedBars, ema, atr)
	r.computeTightChannel(closedBars, atr)
	r.computeTradingRange(closedBars, atr)
	breakoutActive := r.computeBreakout(closedBars, atr, ema)
	finalFlagActive, finalFlagDir := r.computeFinalFlag(atr, ema, closedBars)

	tentative := r.selectTentativeState(strongSide, strongScore, breakoutActive, finalFlagActive)
	state := r.applyInertia(tentative)

	r.updateGapMachine(closedBars, ema, atr, state)
	r.updateBarbWire(closedBars, atr)
	r.updateMeasuringGap(closedBars, atr)
	r.updateBreakoutMode(closedBars, atr, ema)
	r.checkReversalFailure(closedBars)
	r.updateReversalExpiry(state)

	snap := RegimeSnapshot{
		State: state,
		Cycle: CycleFromState(state),
		AlwaysIn: alwaysIn,
		StrongTrendSide: strongSide,
		StrongTrendScore: strongScore,
		TightChannelActive: r.tightChannelActive,
		TightChannelDir: r.tightChannelDir,
		TRHigh: r.trHigh,
		TRLow: r.trLow,
		TRActive: r.trActive,
		BreakoutActive: breakoutActive,
		FinalFlagActive: finalFlagActive,
		FinalFlagDir: finalFlagDir,
		Gap: r.gap,
		BarbWireActive: r.barbWireActive,
		MeasuringGap: r.measuringGap,
		BreakoutMode: r.breakoutMode,
		Reversal: r.reversal,
	}
	return snap
}

// --- AlwaysIn cascade ---

func (r *RegimeClassifier) computeAlwaysIn(bars []Bar, ema, atr float64, swings *SwingTracker) AlwaysIn {
	// (a) two consecutive bars of body-ratio >0.55 closing same-sided
	// across EMA.
	if len(bars) >= 2 {
		b0, b1 := bars[0], bars[1]
		if b0.BodyRatio() > 0.55 && b1.BodyRatio() > 0.55 {
			if b0.IsBullish() && b1.IsBullish() && b0.Close > ema && b1.Close > ema {
				return AlwaysInLong
			}
			if b0.IsBearish() && b1.IsBearish() && b0.Close < ema && b1.Close < ema {
				return AlwaysInShort
			}
		}
	}

	// (b) one extreme bar that breaks EMA or most recent swing and closes
	// in the outer 25%.
	if len(bars) >= 4 {
		b0 := bars[0]
		meanPrev3 := (bars[1].Body() + bars[2].Body() + bars[3].Body()) / 3
		if b0.Range() > 1.0*atr && meanPrev3 > 0 && b0.Body() > 2*meanPrev3 && b0.BodyRatio() > 0.6 {
			recentHigh := swings.RecentSwingHigh(1, true)
			recentLow := swings.RecentSwingLow(1, true)
			if b0.IsBullish() && b0.ClosePosition() >= 0.75 {
				if b0.Close > ema || (recentHigh != nil && b0.Close > recentHigh.Price) {
					return AlwaysInLong
				}
			}
			if b0.IsBearish() && b0.ClosePosition() <= 0.25 {
				if b0.Close < ema || (recentLow != nil && b0.Close < recentLow.Price) {
					return AlwaysInShort
				}
			}
		}
	}

	// (c) strong reversal bar.
	if len(bars) >= 1 {
		b0 := bars[0]
		if b0.Range() > 1.2*atr && b0.BodyRatio() > 0.65 {
			if b0.IsBullish() && b0.ClosePosition() >= 0.75 {
				return AlwaysInLong
			}
			if b0.IsBearish() && b0.ClosePosition() <= 0.25 {
				return AlwaysInShort
			}
		}
	}

	// (d) scoring.
	longScore, shortScore := r.alwaysInScore(bars, ema, atr, swings)
	if longScore >= 0.5 && longScore-shortScore >= 0.1 {
		return AlwaysInLong
	}
	if shortScore >= 0.5 && shortScore-longScore >= 0.1 {
		return AlwaysInShort
	}
	return AlwaysInNeutral
}

func (r *RegimeClassifier) alwaysInScore(bars []Bar, ema, atr float64, swings *SwingTracker) (long, short float64) {
	n := 5
	if len(bars) < n {
		n = len(bars)
	}
	upBars, downBars := 0.0, 0.0
	overlapPenalty := 0.0
	for i := 0; i < n; i++ {
		b := bars[i]
		strong := b.BodyRatio() > 0.5 && b.Range() > 0.4*atr
		if !strong {
			continue
		}
		weight := 1.0
		if i+1 < n {
			prevRange := bars[i+1].Range()
			if prevRange > 0 {
				overlap := overlapAmount(b, bars[i+1]) / prevRange
				weight = clamp01(1 - overlap)
				overlapPenalty += overlap
			}
		}
		if b.IsBullish() {
			upBars += weight
		} else if b.IsBearish() {
			downBars += weight
		}
	}
	trendScore := clamp01(upBars / float64(n))
	downScore := clamp01(downBars / float64(n))

	hhllUp, hhllDown := swingSequenceScore(swings)

	emaUp, emaDown := 0.0, 0.0
	if bars[0].Close > ema {
		emaUp = 1
	} else if bars[0].Close < ema {
		emaDown = 1
	}

	lastUp, lastDown := 0.0, 0.0
	if bars[0].IsBullish() {
		lastUp = bars[0].BodyRatio() * bars[0].ClosePosition()
	} else if bars[0].IsBearish() {
		lastDown = bars[0].BodyRatio() * (1 - bars[0].ClosePosition())
	}

	long = clamp01(0.35*trendScore + 0.25*hhllUp + 0.25*emaUp + 0.15*lastUp)
	short = clamp01(0.35*downScore + 0.25*hhllDown + 0.25*emaDown + 0.15*lastDown)
	return long, short
}

func overlapAmount(a, b Bar) float64 {
	lo := max64(a.Low, b.Low)
	hi := min64(a.High, b.High)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func swingSequenceScore(swings *SwingTracker) (up, down float64) {
	if swings == nil {
		return 0, 0
	}
	h2, h1 := swings.RecentSwingHigh(2, false), swings.RecentSwingHigh(1, false)
	l2, l1 := swings.RecentSwingLow(2, false), swings.RecentSwingLow(1, false)
	higherHighs := h1 != nil && h2 != nil && h1.Price > h2.Price
	lowerLows := l1 != nil && l2 != nil && l1.Price < l2.Price
	if higherHighs {
		up = 1
	}
	if lowerLows {
		down = 1
	}
	return up, down
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// --- StrongTrend ---

func (r *RegimeClassifier) computeStrongTrend(bars []Bar, ema, atr float64) (Side, float64) {
	n := 8
	if len(bars) < n {
		n = len(bars)
	}
	consecUp, consecDown := 0, 0
	for i := 0; i < n; i++ {
		if bars[i].IsBullish() {
			consecUp++
		} else {
			break
		}
	}
	for i := 0; i < n; i++ {
		if bars[i].IsBearish() {
			consecDown++
		} else {
			break
		}
	}

	above, below := 0, 0
	for i := 0; i < n; i++ {
		if bars[i].Close > ema {
			above++
		} else if bars[i].Close < ema {
			below++
		}
	}

	distATR := 0.0
	if atr > 0 {
		distATR = (bars[0].Close - ema) / atr
	}

	longScore := clamp01(0.3*float64(consecUp)/3 + 0.3*float64(above)/float64(n) + 0.4*clamp01(distATR/2))
	shortScore := clamp01(0.3*float64(consecDown)/3 + 0.3*float64(below)/float64(n) + 0.4*clamp01(-distATR/2))

	threshold := 0.5

	if longScore >= threshold && longScore > shortScore {
		return SideBuy, longScore
	}
	if shortScore >= threshold && shortScore > longScore {
		return SideSell, shortScore
	}
	return SideNone, max64(longScore, shortScore)
}

// --- TightChannel ---

func (r *RegimeClassifier) computeTightChannel(bars []Bar, atr float64) {
	n := 12
	if len(bars) < n {
		r.tightChannelActive = false
		return
	}
	upBody, downBody := 0, 0
	newExtreme := 0
	shallowPullback := 0
	for i := 0; i < n; i++ {
		b := bars[i]
		if b.IsBullish() {
			upBody++
		} else if b.IsBearish() {
			downBody++
		}
		if i+1 < n {
			prev := bars[i+1]
			if b.High > prev.High || b.Low < prev.Low {
				newExtreme++
			}
			if prev.Range() > 0 {
				var pull float64
				if b.IsBullish() {
					pull = prev.High - b.Low
				} else {
					pull = b.High - prev.Low
				}
				if pull < 0.25*prev.Range() {
					shallowPullback++
				}
			}
		}
	}

	var dir Side
	var sameSide int
	if upBody >= downBody {
		dir = SideBuy
		sameSide = upBody
	} else {
		dir = SideSell
		sameSide = downBody
	}

	active := float64(sameSide)/float64(n) >= 0.60 &&
	float64(newExtreme)/float64(n) >= 0.50 &&
	float64(shallowPullback)/float64(n) >= 0.40

	if active {
		if !r.tightChannelActive || r.tightChannelDir != dir {
			r.tightChannelBars = 0
		}
		r.tightChannelActive = true
		r.tightChannelDir = dir
		r.tightChannelBars++
		r.hadTightChannel = true
		r.channelEndedBarsAgo = 0
	} else {
		if r.tightChannelActive {
			r.channelEndedBarsAgo = 1
		} else if r.hadTightChannel {
			r.channelEndedBarsAgo++
		}
		r.tightChannelActive = false
	}
}

// --- TradingRange ---

func (r *RegimeClassifier) computeTradingRange(bars []Bar, atr float64) {
	n := 20
	if len(bars) < n {
		r.trActive = false
		return
	}
	hi, lo := bars[0].High, bars[0].Low
	for i := 1; i < n; i++ {
		if bars[i].High > hi {
			hi = bars[i].High
		}
		if bars[i].Low < lo {
			lo = bars[i].Low
		}
	}
	totalRange := hi - lo
	if totalRange < 2*atr {
		r.trActive = false
		return
	}

	upperZone := hi - 0.15*totalRange
	lowerZone := lo + 0.15*totalRange
	upperTouches, lowerTouches := 0, 0
	crosses := 0
	for i := 0; i < n; i++ {
		if bars[i].High >= upperZone {
			upperTouches++
		}
		if bars[i].Low <= lowerZone {
			lowerTouches++
		}
		if i+1 < n {
			a, b := bars[i].Close, bars[i+1].Close
			mid := (hi + lo) / 2
			if (a-mid)*(b-mid) < 0 {
				crosses++
			}
		}
	}

	r.trActive = upperTouches >= 2 && lowerTouches >= 2 && crosses >= 4
	if r.trActive {
		r.trHigh, r.trLow = hi, lo
	}
}

// --- Breakout ---

func (r *RegimeClassifier) computeBreakout(bars []Bar, atr, ema float64) bool {
	n := 10
	if len(bars) < n+1 {
		return false
	}
	sum := 0.0
	for i := 1; i <= n; i++ {
		sum += bars[i].Body()
	}
	meanBody := sum / float64(n)
	if meanBody <= 0 {
		return false
	}
	b0 := bars[0]
	if b0.Body() <= 1.5*meanBody {
		return false
	}
	outside := b0.Close > ema || b0.Close < ema
	outerZone := b0.ClosePosition() >= 0.70 || b0.ClosePosition() <= 0.30
	return outside && outerZone
}

// --- FinalFlag ---

func (r *RegimeClassifier) computeFinalFlag(atr, ema float64, bars []Bar) (bool, Side) {
	if !r.hadTightChannel || r.tightChannelActive {
		return false, SideNone
	}
	if r.tightChannelBars < 5 {
		return false, SideNone
	}
	if r.channelEndedBarsAgo < 3 || r.channelEndedBarsAgo > 8 {
		return false, SideNone
	}
	dist := (bars[0].Close - ema) / atr
	switch r.tightChannelDir {
	case SideBuy:
		if dist >= 0.5 {
			return true, SideBuy
		}
	case SideSell:
		if dist <= -0.5 {
			return true, SideSell
		}
	}
	return false, SideNone
}

// --- state selection + inertia ---

func (r *RegimeClassifier) selectTentativeState(strongSide Side, strongScore float64, breakout, finalFlag bool) MarketState {
	switch {
	case finalFlag:
		return StateFinalFlag
	case breakout:
		return StateBreakout
	case r.tightChannelActive:
		return StateTightChannel
	case strongSide != SideNone:
		return StateStrongTrend
	case r.trActive:
		return StateTradingRange
	default:
		return StateChannel
	}
}

func (r *RegimeClassifier) applyInertia(tentative MarketState) MarketState {
	if r.holdRemaining > 0 && tentative != r.lockedState {
		r.holdRemaining--
		return r.lockedState
	}
	if tentative != r.lockedState {
		r.lockedState = tentative
		r.holdRemaining = minHold(tentative) - 1
	} else if r.holdRemaining > 0 {
		r.holdRemaining--
	}
	return r.lockedState
}

// --- 20-Gap overextension ---

func (r *RegimeClassifier) updateGapMachine(bars []Bar, ema, atr float64, state MarketState) {
	if !r.cfg.Enable20Gap {
		r.gap = GapState{}
		return
	}
	trendUp := r.lastAlwaysIn == AlwaysInLong
	trendDown := r.lastAlwaysIn == AlwaysInShort
	if !trendUp && !trendDown {
		return
	}

	n := r.cfg.GapBarThreshold
	if n <= 0 {
		n = 20
	}
	if len(bars) < n {
		return
	}
	count := 0
	for i := 0; i < n; i++ {
		if trendUp && bars[i].Low > ema {
			count++
		} else if trendDown && bars[i].High < ema {
			count++
		} else {
			break
		}
	}
	r.gap.GapCount = count

	if count >= n && !r.gap.Overextended {
		r.gap.Overextended = true
		r.gap.WaitingForRecovery = true
		r.gap.FirstPullbackComplete = false
		if trendUp {
			r.gap.Direction = SideBuy
		} else {
			r.gap.Direction = SideSell
		}
	}

	if !r.gap.Overextended {
		return
	}

	b0 := bars[0]
	if r.gap.Direction == SideBuy && b0.Low <= ema {
		r.gap.ConsolidationCount++
		if r.gap.PullbackExtreme == 0 || b0.Low < r.gap.PullbackExtreme {
			r.gap.PullbackExtreme = b0.Low
		}
	} else if r.gap.Direction == SideSell && b0.High >= ema {
		r.gap.ConsolidationCount++
		if r.gap.PullbackExtreme == 0 || b0.High > r.gap.PullbackExtreme {
			r.gap.PullbackExtreme = b0.High
		}
	}

	consolidationWindow := 5
	withinRange := atr > 0 && abs(b0.Close-ema) < 1.5*atr
	released := false
	if r.gap.ConsolidationCount >= consolidationWindow && withinRange {
		released = true
	}
	if doubleTouchAtExtreme(bars, r.gap.PullbackExtreme, atr) {
		released = true
	}
	if emaCrossTwoBars(bars, ema, r.gap.Direction) {
		released = true
	}

	if released {
		r.gap.Overextended = false
		r.gap.WaitingForRecovery = false
		r.gap.FirstPullbackComplete = true
		r.gap.ConsolidationCount = 0
	} else if r.gap.ConsolidationCount >= 1 {
		r.gap.FirstPullbackComplete = true
	}
}

func doubleTouchAtExtreme(bars []Bar, extreme, atr float64) bool {
	if extreme == 0 || atr <= 0 || len(bars) < 6 {
		return false
	}
	touches := 0
	for i := 0; i < 6; i++ {
		if abs(bars[i].Low-extreme) < 0.3*atr || abs(bars[i].High-extreme) < 0.3*atr {
			touches++
		}
	}
	return touches >= 2
}

func emaCrossTwoBars(bars []Bar, ema float64, dir Side) bool {
	if len(bars) < 2 {
		return false
	}
	if dir == SideBuy {
		return bars[0].Close < ema && bars[1].Close < ema
	}
	return bars[0].Close > ema && bars[1].Close > ema
}

// --- Barb-Wire ---

func (r *RegimeClassifier) updateBarbWire(bars []Bar, atr float64) {
	if !r.cfg.BarbWire {
		r.barbWireActive = false
		return
	}
	n := 3
	if len(bars) < n {
		return
	}
	small := 0
	dojis := 0
	for i := 0; i < n; i++ {
		b := bars[i]
		if b.BodyRatio() < 0.35 || b.Range() < 0.5*atr {
			small++
		}
		if b.BodyRatio() < 0.1 {
			dojis++
		}
	}
	overlap := avgOverlapRatio(bars[:n])

	if small >= 3 && dojis >= 1 && overlap >= 0.5 {
		r.barbWireActive = true
		return
	}

	if r.barbWireActive {
		b0 := bars[0]
		breakout := b0.Range() > 0.5*atr && b0.BodyRatio() > 0.5
		if breakout {
			r.barbWireActive = false
			if r.cfg.BreakoutMode {
				r.armBreakoutMode(b0)
			}
		}
	}
}

func avgOverlapRatio(bars []Bar) float64 {
	if len(bars) < 2 {
		return 0
	}
	sum := 0.0
	count := 0
	for i := 0; i+1 < len(bars); i++ {
		prevRange := bars[i+1].Range()
		if prevRange <= 0 {
			continue
		}
		sum += overlapAmount(bars[i], bars[i+1]) / prevRange
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// --- Measuring-Gap ---

func (r *RegimeClassifier) updateMeasuringGap(bars []Bar, atr float64) {
	if !r.cfg.MeasuringGap {
		r.measuringGap = MeasuringGapState{}
		return
	}
	if r.measuringGap.Active {
		r.measuringGap.BarsSince++
		b0 := bars[0]
		if r.measuringGap.BarsSince > 20 || crossedGapMid(b0, r.measuringGap) {
			r.measuringGap = MeasuringGapState{}
		}
		return
	}
	if len(bars) < 2 {
		return
	}
	cur, prev := bars[0], bars[1]
	if cur.Low > prev.High && cur.Range() >= 0.3*atr && cur.BodyRatio() > 0.5 {
		r.measuringGap = MeasuringGapState{
			Active: true, Direction: SideBuy,
			Low: prev.High, High: cur.Low, Mid: (prev.High + cur.Low) / 2,
		}
	} else if cur.High < prev.Low && cur.Range() >= 0.3*atr && cur.BodyRatio() > 0.5 {
		r.measuringGap = MeasuringGapState{
			Active: true, Direction: SideSell,
			Low: cur.High, High: prev.Low, Mid: (cur.High + prev.Low) / 2,
		}
	}
}

func crossedGapMid(bar Bar, g MeasuringGapState) bool {
	if g.Direction == SideBuy {
		return bar.Close < g.Mid
	}
	return bar.Close > g.Mid
}

// --- Breakout-Mode ---

func (r *RegimeClassifier) armBreakoutMode(bar Bar) {
	dir := SideBuy
	if bar.IsBearish() {
		dir = SideSell
	}
	r.breakoutMode = BreakoutModeState{Active: true, Direction: dir, EntryPrice: bar.Close}
}

func (r *RegimeClassifier) updateBreakoutMode(bars []Bar, atr, ema float64) {
	if !r.cfg.BreakoutMode {
		r.breakoutMode = BreakoutModeState{}
		return
	}
	b0 := bars[0]
	if !r.breakoutMode.Active {
		if b0.Range() >= 1.5*atr && b0.BodyRatio() > 0.6 {
			outer := b0.ClosePosition() >= 0.75 || b0.ClosePosition() <= 0.25
			if outer {
				r.armBreakoutMode(b0)
			}
		}
		return
	}

	r.breakoutMode.BarsSince++
	strongReversal := b0.Range() > 1.2*atr && b0.BodyRatio() > 0.65
	retraced := false
	if r.breakoutMode.Direction == SideBuy {
		moveSize := r.breakoutMode.EntryPrice - b0.Low
		_ = moveSize
		retraced = b0.Close < r.breakoutMode.EntryPrice-0.5*(r.breakoutMode.EntryPrice-ema)
	} else {
		retraced = b0.Close > r.breakoutMode.EntryPrice+0.5*(ema-r.breakoutMode.EntryPrice)
	}

	if r.breakoutMode.BarsSince > 5 || strongReversal || retraced {
		r.breakoutMode = BreakoutModeState{}
	}
}

// --- ReversalAttempt (used by the Climax detector, component D) ---

// recordReversal stores a new outstanding reversal attempt, replacing any
// prior one. Called by the Climax detector
// via DetectorContext.Classifier.
func (r *RegimeClassifier) recordReversal(dir ReversalDirection, extreme, refHigh, refLow float64) {
	r.reversal = &ReversalAttempt{BarsAgo: 0, ExtremePrice: extreme, Direction: dir}
	r.reversalRefHigh, r.reversalRefLow = refHigh, refLow
}

// CurrentReversal exposes the outstanding reversal attempt, if any.
func (r *RegimeClassifier) CurrentReversal() *ReversalAttempt { return r.reversal }

// ClearReversal drops the outstanding attempt once the Climax detector has
// consumed a failed attempt to fire its signal.
func (r *RegimeClassifier) ClearReversal() { r.reversal = nil }

// checkReversalFailure marks the outstanding attempt failed the first time
// a later bar makes a higher high (bearish attempt) or lower low (bullish
// attempt) than the bar the attempt was recorded on.
func (r *RegimeClassifier) checkReversalFailure(bars []Bar) {
	if r.reversal == nil || r.reversal.Failed || len(bars) == 0 {
		return
	}
	b0 := bars[0]
	switch r.reversal.Direction {
	case ReversalBearish:
		if b0.High > r.reversalRefHigh {
			r.reversal.Failed = true
		}
	case ReversalBullish:
		if b0.Low < r.reversalRefLow {
			r.reversal.Failed = true
		}
	}
}

func (r *RegimeClassifier) updateReversalExpiry(state MarketState) {
	if r.reversal == nil {
		return
	}
	r.reversal.BarsAgo++
	if r.reversal.BarsAgo > 10 || state != StateStrongTrend {
		r.reversal = nil
	}
}
