package engine

import (
	"github.com/shopspring/decimal"

	"github.com/brookscore/tradingcore/config"
)

// RiskComputer implements component F: the unified technical-stop formula,
// the broker-facing hard stop, and the scalp/runner take-profits.
// Tick/step rounding uses shopspring/decimal rather than float math to
// avoid binary-rounding drift on exchange price/quantity filters.
type RiskComputer struct {
	cfg *config.Config
}

// NewRiskComputer builds a risk computer bound to cfg.
func NewRiskComputer(cfg *config.Config) *RiskComputer { return &RiskComputer{cfg: cfg} }

// EntryPrice returns the hypothetical entry price for a candidate signal:
// current ask/bid for a market order, or the stop-trigger price one tick
// beyond the signal bar's extreme for a stop order.
func (r *RiskComputer) EntryPrice(side Side, useMarket bool, bid, ask float64, signalBar Bar, tick float64) float64 {
	if useMarket {
		if side == SideBuy {
			return ask
		}
		return bid
	}
	if side == SideBuy {
		return signalBar.High + tick
	}
	return signalBar.Low - tick
}

// StopInputs bundles everything BrooksStop needs beyond the signal itself.
type StopInputs struct {
	Side            Side
	Entry           float64
	ATR             float64
	Spread          float64
	SignalBar       Bar
	EntryBar        Bar
	SwingLoss       *SwingPoint // most recent confirmed/tentative swing on the loss side
	StrongTrend     bool
	SignalBarStop   float64 // the signal's own structural stop (detector-computed), for the strong-trend tighter-of-two comparison
}

// BrooksStop computes the unified technical stop.
func (r *RiskComputer) BrooksStop(in StopInputs) float64 {
	buffer := maxf(0.3*in.ATR, 0.2*in.ATR) + in.Spread

	var candidate float64
	haveSwing := false
	if in.SwingLoss != nil {
		dist := absf(in.Entry - in.SwingLoss.Price)
		if dist <= r.cfg.MaxStopATR*in.ATR {
			if in.Side == SideBuy {
				candidate = in.SwingLoss.Price - buffer
			} else {
				candidate = in.SwingLoss.Price + buffer
			}
			haveSwing = true
		}
	}

	if !haveSwing {
		if in.Side == SideBuy {
			candidate = minf(in.SignalBar.Low, in.EntryBar.Low) - buffer
		} else {
			candidate = maxf(in.SignalBar.High, in.EntryBar.High) + buffer
		}
	}

	// Clamp to MaxStopATR*ATR.
	maxDist := r.cfg.MaxStopATR * in.ATR
	if in.Side == SideBuy {
		floor := in.Entry - maxDist
		if candidate < floor {
			candidate = floor
		}
	} else {
		ceil := in.Entry + maxDist
		if candidate > ceil {
			candidate = ceil
		}
	}

	// In strong-trend regimes, compare the signal-bar stop and the
	// swing-based stop and choose the tighter (closer to entry) one, still
	// valid.
	if in.StrongTrend && in.SignalBarStop != 0 {
		sbDist := absf(in.Entry - in.SignalBarStop)
		if sbDist <= maxDist {
			candDist := absf(in.Entry - candidate)
			if sbDist < candDist {
				candidate = in.SignalBarStop
			}
		}
	}

	return candidate
}

// HardStop widens the technical stop by HardStopBuffer and enforces the
// broker's minimum stop distance floor.
func (r *RiskComputer) HardStop(side Side, entry, technicalStop, tickSize float64) float64 {
	risk := absf(entry - technicalStop)
	widened := risk * (r.cfg.HardStopBuffer - 1)
	var hard float64
	if side == SideBuy {
		hard = technicalStop - widened
	} else {
		hard = technicalStop + widened
	}

	minDist := r.cfg.MinStopsLevelPts * tickSize
	dist := absf(entry - hard)
	if dist < minDist {
		if side == SideBuy {
			hard = entry - minDist
		} else {
			hard = entry + minDist
		}
	}
	return hard
}

// TakeProfits computes tp1 (1R scalp) and tp2 (measured-move runner).
func (r *RiskComputer) TakeProfits(side Side, entry, technicalStop, atr float64, regime RegimeSnapshot, prevTwoBarHeight float64) (tp1, tp2 float64) {
	risk := absf(entry - technicalStop)
	rMult := r.cfg.TP1ScalpR
	if rMult <= 0 {
		rMult = 1.0
	}
	if side == SideBuy {
		tp1 = entry + risk*rMult
	} else {
		tp1 = entry - risk*rMult
	}

	moveSize := maxf(2*prevTwoBarHeight, 0.5*atr)
	if regime.TightChannelActive && regime.TightChannelDir == side {
		var extreme float64
		if side == SideBuy {
			extreme = maxf(regime.TRHigh, entry+moveSize)
		} else {
			extreme = minf(regime.TRLow, entry-moveSize)
		}
		tp2 = extreme
	} else if side == SideBuy {
		tp2 = entry + moveSize
	} else {
		tp2 = entry - moveSize
	}

	minDist := r.cfg.RunnerTP2MinATR * atr
	if absf(tp2-entry) < minDist {
		if side == SideBuy {
			tp2 = entry + minDist
		} else {
			tp2 = entry - minDist
		}
	}
	return tp1, tp2
}

// RoundToTick rounds a price to the exchange's tick size using exact
// decimal arithmetic rather than float math.Floor(x/tick+0.5)*tick, which
// drifts on tick sizes like 0.001 that have no exact binary representation.
func RoundToTick(price, tick float64) float64 {
	return roundStep(price, tick)
}

// RoundToStep rounds a quantity down to the exchange's step size (never
// rounds up — an oversized quantity could breach margin/notional limits).
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	steps := q.Div(s).Floor()
	out, _ := steps.Mul(s).Float64()
	return out
}

func roundStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	rounded := v.DivRound(s, 0).Mul(s)
	out, _ := rounded.Float64()
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absf(f float64) float64 { return abs(f) }
