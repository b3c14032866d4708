package engine

import (
	"time"

	"github.com/brookscore/tradingcore/config"
)

// SessionState is the clock/session gate's pure output.
type SessionState struct {
	IsWeekend      bool
	IsFridayClose  bool
	IsSundayPreOpen bool
}

// SessionGate is a pure function of wall-clock time plus the Monday-gap
// H/L reset. stdlib time only, justified in DESIGN.md — no pack library
// offers a futures-market session calendar.
type SessionGate struct {
	cfg *config.Config
}

// NewSessionGate builds a gate bound to cfg's Friday/Sunday hour thresholds.
func NewSessionGate(cfg *config.Config) *SessionGate { return &SessionGate{cfg: cfg} }

// Evaluate classifies now (must be UTC) into weekend/Friday-close/
// Sunday-pre-open states.
func (g *SessionGate) Evaluate(now time.Time) SessionState {
	now = now.UTC()
	wd := now.Weekday()

	isWeekend := wd == time.Saturday || (wd == time.Sunday && now.Hour() < g.cfg.SundayOpenHourGMT)
	isFridayClose := wd == time.Friday && now.Hour() >= g.cfg.FridayCloseHourGMT
	isSundayPreOpen := wd == time.Sunday && now.Hour() < g.cfg.SundayOpenHourGMT

	return SessionState{
		IsWeekend:       isWeekend || isFridayClose,
		IsFridayClose:   isFridayClose,
		IsSundayPreOpen: isSundayPreOpen,
	}
}

// MondayGapReset reports whether the Monday-open gap (|open[1]-close[2]| in
// ATR units) exceeds MondayGapResetATR, signalling the caller to reset H/L
// push counts.
func (g *SessionGate) MondayGapReset(now time.Time, bars []Bar, atr float64) bool {
	if now.UTC().Weekday() != time.Monday || atr <= 0 || len(bars) < 2 {
		return false
	}
	gap := absf(bars[0].Open - bars[1].Close)
	return gap >= g.cfg.MondayGapResetATR*atr
}
