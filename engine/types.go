// Package engine implements the core price-action trading engine: market
// data buffers, swing tracking, regime classification, pattern detection,
// signal dispatch, risk computation, and per-position lifecycle management.
package engine

import (
	"time"

	"github.com/google/uuid"
)

// Bar is a single OHLCV candle on some time-frame.
type Bar struct {
	OpenTime time.Time
	Open float64
	High float64
	Low float64
	Close float64
	Volume float64
}

// Range returns the bar's high-low range.
func (b Bar) Range() float64 { return b.High - b.Low }

// Body returns the absolute open-close distance.
func (b Bar) Body() float64 {
	d := b.Close - b.Open
	if d < 0 {
		return -d
	}
	return d
}

// BodyRatio is the body as a fraction of the bar's range, 0 when range is 0.
func (b Bar) BodyRatio() float64 {
	r := b.Range()
	if r <= 0 {
		return 0
	}
	return b.Body() / r
}

// ClosePosition returns where close sits within [low, high], 0=low, 1=high.
func (b Bar) ClosePosition() float64 {
	r := b.Range()
	if r <= 0 {
		return 0.5
	}
	return (b.Close - b.Low) / r
}

// IsBullish reports whether the bar closed above its open.
func (b Bar) IsBullish() bool { return b.Close > b.Open }

// IsBearish reports whether the bar closed below its open.
func (b Bar) IsBearish() bool { return b.Close < b.Open }

// Side is a trade direction.
type Side int

const (
	SideNone Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "none"
	}
}

// Opposite returns the other side; SideNone maps to itself.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideNone
	}
}

// SwingPoint is a confirmed or tentative local extremum.
type SwingPoint struct {
	Price float64
	BarIndex int // bars distance from the latest closed bar, grows over time
	IsHigh bool
	Tentative bool
}

// MarketState is the regime classifier's headline output.
type MarketState int

const (
	StateTradingRange MarketState = iota
	StateChannel
	StateStrongTrend
	StateBreakout
	StateTightChannel
	StateFinalFlag
)

func (s MarketState) String() string {
	switch s {
	case StateStrongTrend:
		return "strong_trend"
	case StateBreakout:
		return "breakout"
	case StateChannel:
		return "channel"
	case StateTradingRange:
		return "trading_range"
	case StateTightChannel:
		return "tight_channel"
	case StateFinalFlag:
		return "final_flag"
	default:
		return "unknown"
	}
}

// MarketCycle is derived from MarketState: Breakout maps to Spike,
// TradingRange maps to TradingRange, everything else maps to Channel.
type MarketCycle int

const (
	CycleChannel MarketCycle = iota
	CycleSpike
	CycleTradingRange
)

func (c MarketCycle) String() string {
	switch c {
	case CycleSpike:
		return "spike"
	case CycleTradingRange:
		return "trading_range"
	default:
		return "channel"
	}
}

// CycleFromState derives the MarketCycle from a MarketState.
func CycleFromState(s MarketState) MarketCycle {
	switch s {
	case StateBreakout:
		return CycleSpike
	case StateTradingRange:
		return CycleTradingRange
	default:
		return CycleChannel
	}
}

// AlwaysIn is Brooks' "who is in control now" scalar.
type AlwaysIn int

const (
	AlwaysInNeutral AlwaysIn = iota
	AlwaysInLong
	AlwaysInShort
)

func (a AlwaysIn) String() string {
	switch a {
	case AlwaysInLong:
		return "long"
	case AlwaysInShort:
		return "short"
	default:
		return "neutral"
	}
}

// SignalKind enumerates every pattern detector's output kind.
type SignalKind string

const (
	SignalSpike SignalKind = "spike"
	SignalMicroChannel SignalKind = "micro_channel"
	SignalH1 SignalKind = "h1"
	SignalH2 SignalKind = "h2"
	SignalL1 SignalKind = "l1"
	SignalL2 SignalKind = "l2"
	SignalWedge SignalKind = "wedge"
	SignalClimax SignalKind = "climax"
	SignalMTR SignalKind = "mtr"
	SignalFailedBreakout SignalKind = "failed_breakout"
	SignalFinalFlag SignalKind = "final_flag"
	SignalDoubleTopBottom SignalKind = "double_top_bottom"
	SignalTrendBar SignalKind = "trend_bar"
	SignalReversalBar SignalKind = "reversal_bar"
	SignalIIPattern SignalKind = "ii_pattern"
	SignalOutsideBar SignalKind = "outside_bar"
	SignalMeasuredMove SignalKind = "measured_move"
	SignalTRBreakout SignalKind = "tr_breakout"
	SignalBreakoutPullback SignalKind = "breakout_pullback"
	SignalGapBar SignalKind = "gap_bar"
	SignalEmergencySpike SignalKind = "emergency_spike"
	SignalMicroChannelH1 SignalKind = "micro_channel_h1"
)

// Signal is a single pattern detector's verdict for the current bar.
type Signal struct {
	ID string
	Kind SignalKind
	Side Side
	TechnicalStop float64
	BaseHeight float64
	SourceBarIndex int
}

// NewSignalID() mints a fresh signal identifier; also used as the twin-leg
// parent id that links a Scalp and Runner Position for journalling and
// sync.
func NewSignalID() string { return uuid.NewString() }

// Magic distinguishes the two legs of a twin-order entry.
type Magic int

const (
	MagicScalp Magic = iota
	MagicRunner
)

func (m Magic) String() string {
	if m == MagicRunner {
		return "runner"
	}
	return "scalp"
}

// PositionStatus is a Position's lifecycle stage.
type PositionStatus int

const (
	PositionPending PositionStatus = iota
	PositionOpen
	PositionPartiallyClosed
	PositionClosed
)

// Position is one open twin leg.
type Position struct {
	ID string
	SignalID string // links the Scalp/Runner pair
	UserID string
	Side Side
	Magic Magic
	EntryPrice float64
	Volume float64
	TechnicalStop float64
	HardStop float64
	TP1 float64 // scalp only
	TP2 float64 // runner only
	OpenTime time.Time
	ScalpClosed bool
	BreakevenApplied bool
	Status PositionStatus
	SignalKind SignalKind
	EntryATR float64
	BrokerPositionRef string
}

// PendingStopOrder is a submitted-but-unfilled stop entry.
type PendingStopOrder struct {
	OrderID string
	UserID string
	Side Side
	StopPrice float64
	TechnicalStop float64
	TP float64 // tp1 for a twin scalp leg, 0 for a twin runner, tp2 for a single-leg runner
	SignalKind SignalKind
	Magic Magic
	SignalID string
	SubmittedAt time.Time
	ExpiresAt time.Time
}

// ReversalDirection is the direction of a tracked failed-reversal attempt.
type ReversalDirection int

const (
	ReversalBullish ReversalDirection = iota
	ReversalBearish
)

// ReversalAttempt tracks Brooks' "first reversal usually fails" rule.
type ReversalAttempt struct {
	Time time.Time
	BarsAgo int
	ExtremePrice float64
	Direction ReversalDirection
	Failed bool
}

// GapState is the 20-Gap overextension state machine.
type GapState struct {
	Overextended bool
	Direction Side
	WaitingForRecovery bool
	ConsolidationCount int
	PullbackExtreme float64
	FirstPullbackComplete bool
	GapCount int
}
