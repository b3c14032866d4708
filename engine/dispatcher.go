package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/brookscore/tradingcore/config"
)

// trendGroup lists the trend-continuation detectors in dispatch priority
// order.
var trendGroup = []struct {
	fn detectorFn
	kind SignalKind
}{
	{DetectSpike, SignalSpike},
	{DetectEmergencySpike, SignalEmergencySpike},
	{DetectMicroChannel, SignalMicroChannel},
	{DetectMicroChannelH1, SignalMicroChannelH1},
	{DetectH2Buy, SignalH2},
	{DetectL2Sell, SignalL2},
	{DetectH1Buy, SignalH1},
	{DetectL1Sell, SignalL1},
	{DetectBreakoutPullback, SignalBreakoutPullback},
	{DetectTrendBar, SignalTrendBar},
	{DetectGapBar, SignalGapBar},
	{DetectTRBreakout, SignalTRBreakout},
}

// reversalGroup lists the reversal detectors in dispatch priority order.
var reversalGroup = []struct {
	fn detectorFn
	kind SignalKind
}{
	{DetectClimax, SignalClimax},
	{DetectWedge, SignalWedge},
	{DetectMTR, SignalMTR},
	{DetectFailedBreakout, SignalFailedBreakout},
	{DetectDoubleTopBottom, SignalDoubleTopBottom},
	{DetectOutsideBar, SignalOutsideBar},
	{DetectReversalBar, SignalReversalBar},
	{DetectIIPattern, SignalIIPattern},
	{DetectMeasuredMove, SignalMeasuredMove},
	{DetectFinalFlag, SignalFinalFlag},
}

// OrderFlowModifier is consulted by the dispatcher for a qualitative boost
// or suppression multiplier on a candidate signal. A nil modifier
// behaves as "always 1.0".
type OrderFlowModifier interface {
	Multiplier(kind SignalKind, side Side) float64
}

// Dispatcher implements component E: it owns the regime classifier, swing
// tracker, and push counter, runs the
// detector catalogue in priority order, and applies every hard gate before
// emitting at most one Signal per bar, using a sequential early-return
// gate chain and a per-side cooldown map.
type Dispatcher struct {
	cfg *config.Config
	log zerolog.Logger

	Classifier *RegimeClassifier
	Swings *SwingTracker
	Pushes *PushCounter

	OrderFlow OrderFlowModifier

	lastEntryBar map[Side]int
	lastEntryPrice map[Side]float64
	barCounter int
	lastRegime RegimeSnapshot

	throttle *logThrottle
}

// NewDispatcher builds a dispatcher with a fresh classifier/swing
// tracker/push counter.
func NewDispatcher(cfg *config.Config, log zerolog.Logger) *Dispatcher {
	l := log.With().Str("component", "dispatcher").Logger()
	return &Dispatcher{
		cfg: cfg,
		log: l,
		Classifier: NewRegimeClassifier(cfg, l),
		Swings: NewSwingTracker(),
		Pushes: NewPushCounter(),
		lastEntryBar: make(map[Side]int),
		lastEntryPrice: make(map[Side]float64),
		throttle: newLogThrottle(defaultThrottleWindow),
	}
}

// RecordEntry stamps the cooldown bookkeeping after a successful entry
// submission.
func (d *Dispatcher) RecordEntry(side Side, price float64) {
	d.lastEntryBar[side] = d.barCounter
	d.lastEntryPrice[side] = price
}

// LastRegime returns the snapshot computed by the most recent OnNewBar,
// letting callers (the orchestrator) attach the same regime context an
// emitted Signal was judged against without recomputing it.
func (d *Dispatcher) LastRegime() RegimeSnapshot {
	return d.lastRegime
}

// OnNewBar evaluates the full pipeline against the newest-first closed-bar
// snapshot and returns at most one Signal.
func (d *Dispatcher) OnNewBar(bars []Bar, ema, atr float64, htf HTFDirection, spreadMult float64, weekend bool) (Signal, bool) {
	d.barCounter++

	d.Swings.OnNewBar(bars)
	regime := d.Classifier.OnNewBar(bars, ema, atr, d.Swings)
	d.Pushes.OnNewBar(bars, atr, d.Swings)
	d.lastRegime = regime

	if atr <= 0 || ema <= 0 || len(bars) == 0 {
		return Signal{}, false
	}
	if d.cfg.WeekendFilter && weekend {
		return Signal{}, false
	}
	if regime.BarbWireActive {
		return Signal{}, false
	}

	ctx := DetectorContext{
		Bars: bars, ATR: atr, EMA: ema, Regime: regime,
		Swings: d.Swings, Pushes: d.Pushes, Cfg: d.cfg, Classifier: d.Classifier,
	}

	//: while Breakout-Mode is active, its pullback detector runs
	// first and, win or lose, no further detector runs this bar.
	if regime.BreakoutMode.Active {
		if s, ok := DetectBreakoutPullback(ctx); ok {
			if d.passGates(s, regime, htf, spreadMult, bars, atr, false) {
				return d.finalize(s), true
			}
		}
		return Signal{}, false
	}

	ttrSuppressed := d.ttrSuppressed(bars, regime, atr)

	for _, d2 := range trendGroup {
		if ttrSuppressed {
			break
		}
		s, ok := d2.fn(ctx)
		if !ok {
			continue
		}
		if d.passGates(s, regime, htf, spreadMult, bars, atr, true) {
			return d.finalize(s), true
		}
		return Signal{}, false
	}

	for _, d2 := range reversalGroup {
		s, ok := d2.fn(ctx)
		if !ok {
			continue
		}
		if d.passGates(s, regime, htf, spreadMult, bars, atr, false) {
			return d.finalize(s), true
		}
		return Signal{}, false
	}

	return Signal{}, false
}

func (d *Dispatcher) finalize(s Signal) Signal {
	return s
}

// ttrSuppressed implements the "TTR gate": overlap-ratio of the
// last 20 bars < 0.4 AND TR width < 2.5xATR suppresses trend/breakout
// signals.
func (d *Dispatcher) ttrSuppressed(bars []Bar, regime RegimeSnapshot, atr float64) bool {
	n := 20
	if len(bars) < n {
		return false
	}
	overlap := avgOverlapRatio(bars[:n])
	width := highestHigh(bars, n) - lowestLow(bars, n)
	return overlap < d.cfg.TTROverlapRatio && atr > 0 && width < d.cfg.TTRRangeATRMult*atr
}

var reversalKinds = map[SignalKind]bool{
	SignalClimax: true, SignalWedge: true, SignalMTR: true,
	SignalFailedBreakout: true, SignalDoubleTopBottom: true,
	SignalOutsideBar: true, SignalReversalBar: true, SignalIIPattern: true,
	SignalMeasuredMove: true, SignalFinalFlag: true,
}

// passGates applies every hard gate in order; the first failure
// rejects the signal outright (never re-tried on this bar).
func (d *Dispatcher) passGates(s Signal, regime RegimeSnapshot, htf HTFDirection, spreadMult float64, bars []Bar, atr float64, isTrendGroup bool) bool {
	isReversal := reversalKinds[s.Kind]

	// Regime STRONG_TREND forbids opposite-side reversal signals.
	if regime.State == StateStrongTrend && isReversal && s.Side == regime.StrongTrendSide.Opposite() {
		d.reject("strong_trend_blocks_opposite_reversal", s)
		return false
	}

	// Cycle SPIKE forbids reversal signals except Climax (which self-gates
	// on a failed prior attempt inside DetectClimax).
	if regime.Cycle == CycleSpike && isReversal && s.Kind != SignalClimax {
		d.reject("spike_cycle_blocks_reversal", s)
		return false
	}

	// Spread filter: active spread suppresses Spike-Market-Entry only.
	if d.cfg.SpreadFilter && spreadMult > d.cfg.SpreadMaxMult && s.Kind == SignalSpike {
		d.reject("spread_filter_blocks_spike", s)
		return false
	}

	// Cooldown.
	if d.cooldownBlocks(s.Side, bars, atr) {
		d.reject("cooldown", s)
		return false
	}

	// HTF filter, with the 20-Gap bypass (StrongTrend + GapCount>=threshold
	// overrides HTF).
	bypass := regime.State == StateStrongTrend && regime.Gap.GapCount >= d.cfg.HTFBypassGapCount
	if !bypass {
		if s.Side == SideBuy && htf == HTFDown {
			d.reject("htf_blocks_buy", s)
			return false
		}
		if s.Side == SideSell && htf == HTFUp {
			d.reject("htf_blocks_sell", s)
			return false
		}
	}

	// Order-flow modifier: drop on suppression.
	if d.OrderFlow != nil {
		mult := d.OrderFlow.Multiplier(s.Kind, s.Side)
		if mult < 0.5 {
			d.reject("order_flow_suppressed", s)
			return false
		}
	}

	return true
}

func (d *Dispatcher) cooldownBlocks(side Side, bars []Bar, atr float64) bool {
	lastBar, ok := d.lastEntryBar[side]
	if !ok {
		return false
	}
	barsSince := d.barCounter - lastBar
	if barsSince >= d.cfg.SignalCooldown {
		return false
	}
	lastPrice := d.lastEntryPrice[side]
	moved := abs(bars[0].Close - lastPrice)
	if moved >= 1.5*atr {
		return false
	}
	n := 5
	if len(bars) < n {
		n = len(bars)
	}
	recentRange := highestHigh(bars, n) - lowestLow(bars, n)
	if recentRange >= 2*atr {
		return false
	}
	return true
}

const defaultThrottleWindow = 60 * time.Second

func (d *Dispatcher) reject(reason string, s Signal) {
	if emit, suppressed := d.throttle.Allow(reason, time.Now()); emit {
		d.log.Debug().Str("reason", reason).Str("kind", string(s.Kind)).Str("side", s.Side.String()).Int("suppressed_since_last", suppressed).Msg("signal rejected by gate")
	}
}
