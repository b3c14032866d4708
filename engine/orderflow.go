package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/brookscore/tradingcore/config"
)

// orderFlowBufferCap is the hard backstop on the trade buffer:
// min(window*extreme_tps, 2,000,000).
const orderFlowBufferCap = 2_000_000

// OrderFlowAnalyser implements component J: a rolling signed-volume buffer
// over the trade stream, exposing delta/absorption/climax/liquidity-
// withdrawal heuristics and a per-signal-kind dispatcher multiplier, kept
// as an owned buffer rather than a global accumulator.
//
// The delta window is fixed at construction from the primary bar period
// (or from OrderFlowWindowSec when that is positive) and is never
// reconfigured afterward (Open Question decision, DESIGN.md):
// NewOrderFlowAnalyser is the only place the window is set.
type OrderFlowAnalyser struct {
	mu sync.RWMutex

	log zerolog.Logger
	cfg *config.Config

	window       time.Duration
	secondary    time.Duration
	bufferCap    int
	trades       []Trade // append order, oldest first
	enabled      bool

	lastDelta     float64
	lastDeltaTime time.Time
	prevDelta     float64
}

// NewOrderFlowAnalyser builds an analyser whose window is fixed to
// OrderFlowWindowSec seconds when that is positive and to the primary bar
// period otherwise; secondary is the shorter acceleration window (default
// 60s).
func NewOrderFlowAnalyser(cfg *config.Config, barPeriod time.Duration, log zerolog.Logger) *OrderFlowAnalyser {
	window := time.Duration(cfg.OrderFlowWindowSec) * time.Second
	if window <= 0 {
		window = barPeriod
	}
	cap := int(window.Seconds()) * 1000 // extreme_tps assumed ~1000/s, backstopped below
	if cap <= 0 || cap > orderFlowBufferCap {
		cap = orderFlowBufferCap
	}
	return &OrderFlowAnalyser{
		log:       log.With().Str("component", "orderflow").Logger(),
		cfg:       cfg,
		window:    window,
		secondary: 60 * time.Second,
		bufferCap: cap,
		enabled:   cfg.OrderFlowEnabled,
	}
}

// OnTrade appends a trade and evicts anything older than window.
func (o *OrderFlowAnalyser) OnTrade(t Trade) {
	if !o.enabled {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	o.trades = append(o.trades, t)
	if len(o.trades) > o.bufferCap {
		o.trades = o.trades[len(o.trades)-o.bufferCap:]
	}
	o.evict(t.Time)
}

func (o *OrderFlowAnalyser) evict(now time.Time) {
	cutoff := now.Add(-o.window)
	i := 0
	for i < len(o.trades) && o.trades[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		o.trades = o.trades[i:]
	}
}

// signedVolume sums qty positively for taker-buy trades (BuyerIsMaker
// false) and negatively for taker-sell trades, within a given lookback.
func (o *OrderFlowAnalyser) signedVolume(lookback time.Duration, now time.Time) float64 {
	cutoff := now.Add(-lookback)
	sum := 0.0
	for i := len(o.trades) - 1; i >= 0; i-- {
		t := o.trades[i]
		if t.Time.Before(cutoff) {
			break
		}
		if t.BuyerIsMaker {
			sum -= t.Qty
		} else {
			sum += t.Qty
		}
	}
	return sum
}

func (o *OrderFlowAnalyser) totalVolume(lookback time.Duration, now time.Time) float64 {
	cutoff := now.Add(-lookback)
	sum := 0.0
	for i := len(o.trades) - 1; i >= 0; i-- {
		t := o.trades[i]
		if t.Time.Before(cutoff) {
			break
		}
		sum += t.Qty
	}
	return sum
}

// Delta returns the cumulative signed volume over the fixed window.
func (o *OrderFlowAnalyser) Delta(now time.Time) float64 {
	if !o.enabled {
		return 0
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.signedVolume(o.window, now)
}

// DeltaRatio is delta as a fraction of total traded volume in the window,
// in [-1, 1].
func (o *OrderFlowAnalyser) DeltaRatio(now time.Time) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	total := o.totalVolume(o.window, now)
	if total <= 0 {
		return 0
	}
	return o.signedVolume(o.window, now) / total
}

// DeltaAcceleration compares the secondary (shorter) window's delta rate to
// the primary window's, positive when order flow is accelerating in the
// same direction.
func (o *OrderFlowAnalyser) DeltaAcceleration(now time.Time) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.window <= 0 || o.secondary <= 0 {
		return 0
	}
	primaryRate := o.signedVolume(o.window, now) / o.window.Seconds()
	secondaryRate := o.signedVolume(o.secondary, now) / o.secondary.Seconds()
	return secondaryRate - primaryRate
}

// Absorption reports true when a large delta swing over the secondary
// window accompanies a small price change — large passive size absorbing
// aggression.
func (o *OrderFlowAnalyser) Absorption(now time.Time, priceChange, atr float64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	delta := absf(o.signedVolume(o.secondary, now))
	total := o.totalVolume(o.secondary, now)
	if total <= 0 || atr <= 0 {
		return false
	}
	return delta/total > 0.6 && absf(priceChange) < 0.15*atr
}

// Climax reports extreme one-sided volume: total traded volume in the
// secondary window far above the primary window's per-second average, with
// delta heavily skewed.
func (o *OrderFlowAnalyser) Climax(now time.Time) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	secTotal := o.totalVolume(o.secondary, now)
	priTotal := o.totalVolume(o.window, now)
	if priTotal <= 0 || o.window <= 0 || o.secondary <= 0 {
		return false
	}
	secRate := secTotal / o.secondary.Seconds()
	priRate := priTotal / o.window.Seconds()
	if priRate <= 0 {
		return false
	}
	ratio := o.signedVolume(o.secondary, now)
	skew := 0.0
	if secTotal > 0 {
		skew = absf(ratio) / secTotal
	}
	return secRate > 2.5*priRate && skew > 0.7
}

// LiquidityWithdrawal reports a price move occurring on shrinking traded
// volume relative to the prior secondary window — a sign resting liquidity
// has pulled away from the market.
func (o *OrderFlowAnalyser) LiquidityWithdrawal(now time.Time, priceChange, atr float64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	curTotal := o.totalVolume(o.secondary, now)
	priorCutoffNow := now.Add(-o.secondary)
	priorTotal := o.totalVolume(o.secondary, priorCutoffNow)
	if priorTotal <= 0 || atr <= 0 {
		return false
	}
	return curTotal < 0.5*priorTotal && absf(priceChange) > 0.3*atr
}

// boostedSignalKinds get a 1.2x multiplier when order flow agrees with the
// side; any kind gets 0.3x (the dispatcher drops it) when order flow
// opposes.
var boostedSignalKinds = map[SignalKind]bool{
	SignalWedge: true, SignalTrendBar: true, SignalBreakoutPullback: true,
	SignalSpike: true, SignalH2: true, SignalL2: true,
}

// Multiplier implements the OrderFlowModifier interface consulted by the
// dispatcher to boost or suppress a candidate signal.
func (o *OrderFlowAnalyser) Multiplier(kind SignalKind, side Side) float64 {
	if !o.enabled {
		return 1.0
	}
	now := time.Now()
	ratio := o.DeltaRatio(now)

	agrees := (side == SideBuy && ratio > 0.1) || (side == SideSell && ratio < -0.1)
	opposes := (side == SideBuy && ratio < -0.3) || (side == SideSell && ratio > 0.3)

	if opposes {
		return 0.3
	}
	if boostedSignalKinds[kind] && agrees {
		return 1.2
	}
	return 1.0
}
