package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/brookscore/tradingcore/config"
)

// PositionManager implements component G for a single user: twin-order
// staging, soft-stop monitoring on bar close and on tick, structural
// trailing, breakeven promotion, partial closes, and pending-order expiry.
//
// One PositionManager is owned per user by that user's orchestrator.
type PositionManager struct {
	userID string

	broker BrokerAdapter
	risk *RiskComputer
	cfg *config.Config
	journal TradeJournal
	ltf *LTFSwingTracker
	log zerolog.Logger

	positions []*Position
	pending []*PendingStopOrder
}

// NewPositionManager builds a lifecycle manager for userID.
func NewPositionManager(userID string, broker BrokerAdapter, risk *RiskComputer, cfg *config.Config, journal TradeJournal, ltf *LTFSwingTracker, log zerolog.Logger) *PositionManager {
	if journal == nil {
		journal = NopJournal{}
	}
	return &PositionManager{
		userID: userID, broker: broker, risk: risk, cfg: cfg, journal: journal, ltf: ltf,
		log: log.With().Str("component", "lifecycle").Str("user_id", userID).Logger(),
	}
}

// OpenPositions returns a value-copy snapshot of currently tracked
// positions.
func (m *PositionManager) OpenPositions() []Position {
	out := make([]Position, len(m.positions))
	for i, p := range m.positions {
		out[i] = *p
	}
	return out
}

// HasOpposingPosition reports whether an open position exists on the
// opposite side of side.
func (m *PositionManager) HasOpposingPosition(side Side) bool {
	for _, p := range m.positions {
		if p.Status != PositionClosed && p.Side == side.Opposite() {
			return true
		}
	}
	return false
}

// CountOpenSide counts open/pending positions on side, for
// MaxPositionsPerUser enforcement.
func (m *PositionManager) CountOpenSide(side Side) int {
	n := 0
	for _, p := range m.positions {
		if p.Status != PositionClosed && p.Side == side {
			n++
		}
	}
	return n
}

// EntryPlan bundles the risk computer's output for a signal about to be
// submitted.
type EntryPlan struct {
	Entry float64
	TechnicalStop float64
	HardStop float64
	TP1, TP2 float64
	Qty float64
	UseMarket bool
}

// SubmitSignal implements the twin-order scheme: a Scalp leg
// (tp=tp1) and a Runner leg (tp=tp2) sharing the same technical/hard stop,
// tagged by distinct magics. If qty is too small to split into two legs,
// it falls back to a single Runner-tagged leg with tp=tp2; no tp1 partial
// close is tracked for that single leg.
func (m *PositionManager) SubmitSignal(ctx context.Context, sig Signal, plan EntryPlan, expiry time.Time, minQty float64) error {
	if m.HasOpposingPosition(sig.Side) {
		return ErrNoOpposingHedge
	}
	maxPerSide := 1
	if m.CountOpenSide(sig.Side) >= maxPositionsPerUserPerSide(maxPerSide) {
		return ErrMaxPositionsPerUser
	}

	half := RoundToStep(plan.Qty/2, minQty)
	twinPossible := half > 0 && half >= minQty

	if !twinPossible {
		return m.submitSingleLeg(ctx, sig, plan, expiry)
	}
	return m.submitTwinLegs(ctx, sig, plan, half, expiry)
}

func maxPositionsPerUserPerSide(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (m *PositionManager) submitTwinLegs(ctx context.Context, sig Signal, plan EntryPlan, legQty float64, expiry time.Time) error {
	scalpID, err := m.placeLeg(ctx, sig, plan, legQty, plan.TP1, expiry, MagicScalp)
	if err != nil {
		return err
	}
	runnerID, err := m.placeLeg(ctx, sig, plan, legQty, plan.TP2, expiry, MagicRunner)
	if err != nil {
		// Twin mode: either both legs open or both are rolled back.
		_ = withRetry(ctx, func() error { return m.broker.CancelOrder(ctx, m.userID, scalpID) })
		return err
	}

	m.trackPending(scalpID, sig, plan, legQty, plan.TP1, expiry, MagicScalp)
	m.trackPending(runnerID, sig, plan, legQty, 0, expiry, MagicRunner)
	return nil
}

func (m *PositionManager) submitSingleLeg(ctx context.Context, sig Signal, plan EntryPlan, expiry time.Time) error {
	orderID, err := m.placeLeg(ctx, sig, plan, plan.Qty, plan.TP2, expiry, MagicRunner)
	if err != nil {
		return err
	}
	m.trackPending(orderID, sig, plan, plan.Qty, plan.TP2, expiry, MagicRunner)
	return nil
}

func (m *PositionManager) placeLeg(ctx context.Context, sig Signal, plan EntryPlan, qty, tp float64, expiry time.Time, magic Magic) (OrderID, error) {
	var id OrderID
	if plan.UseMarket {
		err := withRetry(ctx, func() error {
			var err error
			id, err = m.broker.PlaceMarket(ctx, m.userID, sig.Side, qty, magic)
			return err
		})
		return id, err
	}
	stopPrice := plan.Entry
	err := withRetry(ctx, func() error {
		var err error
		id, err = m.broker.PlaceStop(ctx, m.userID, sig.Side, stopPrice, qty, expiry, plan.HardStop, tp, magic)
		return err
	})
	return id, err
}

func (m *PositionManager) trackPending(id OrderID, sig Signal, plan EntryPlan, qty, tp float64, expiry time.Time, magic Magic) {
	m.pending = append(m.pending, &PendingStopOrder{
			OrderID: string(id), UserID: m.userID, Side: sig.Side,
			StopPrice: plan.Entry, TechnicalStop: plan.TechnicalStop, TP: tp,
			SignalKind: sig.Kind, Magic: magic, SignalID: sig.ID,
			SubmittedAt: time.Now(), ExpiresAt: expiry,
	})
}

// OnNewBar runs component G's per-bar ordering: sync against
// broker, climax exit, breakeven & trailing, soft-stop evaluation, cancel
// expired pendings, adopt fills as new positions.
func (m *PositionManager) OnNewBar(ctx context.Context, bars []Bar, atr float64, regime RegimeSnapshot, now time.Time) {
	m.syncWithBroker(ctx)
	m.reconcilePendingFills(ctx, atr)
	m.scalpTakeProfitEvaluation(ctx, bars)
	m.climaxExit(ctx, bars, regime)
	m.breakevenAndTrailing(ctx, bars[0].Close, atr)
	m.softStopEvaluation(ctx, bars)
	m.cancelExpiredPending(ctx, now)
}

// reconcilePendingFills detects stop/limit entries that filled since the
// last bar: an order that has dropped out of list_pending_orders but whose
// side now appears in list_positions has filled.
// Binance's one-way position mode nets both legs into a single exchange
// position (see broker/binancefutures.ListPositions), so the fill price
// used here is that netted entry price, an approximation shared by
// whichever leg(s) filled this bar.
func (m *PositionManager) reconcilePendingFills(ctx context.Context, atr float64) {
	if len(m.pending) == 0 {
		return
	}
	var stillResting []PendingOrderInfo
	err := withRetry(ctx, func() error {
		var err error
		stillResting, err = m.broker.ListPendingOrders(ctx, m.userID, nil)
		return err
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to list pending orders for fill reconciliation")
		return
	}
	restingByID := make(map[string]bool, len(stillResting))
	for _, o := range stillResting {
		restingByID[string(o.OrderID)] = true
	}

	var live []PositionInfo
	err = withRetry(ctx, func() error {
		var err error
		live, err = m.broker.ListPositions(ctx, m.userID, nil)
		return err
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to list positions for fill reconciliation")
		return
	}
	entryBySide := make(map[Side]float64, len(live))
	for _, p := range live {
		entryBySide[p.Side] = p.EntryPrice
	}

	for _, pend := range append([]*PendingStopOrder{}, m.pending...) {
		if restingByID[pend.OrderID] {
			continue
		}
		fillPrice, ok := entryBySide[pend.Side]
		if !ok {
			continue
		}
		in := StopInputs{Side: pend.Side, Entry: fillPrice, ATR: atr}
		m.AdoptFill(ctx, OrderID(pend.OrderID), fillPrice, in, atr)
	}
}

func (m *PositionManager) syncWithBroker(ctx context.Context) {
	var live []PositionInfo
	err := withRetry(ctx, func() error {
		var err error
		live, err = m.broker.ListPositions(ctx, m.userID, nil)
		return err
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to sync positions with broker")
		return
	}
	liveByRef := make(map[string]PositionInfo, len(live))
	for _, p := range live {
		liveByRef[p.PositionID] = p
	}

	kept := m.positions[:0]
	for _, p := range m.positions {
		if p.Status == PositionClosed {
			continue
		}
		if _, ok := liveByRef[p.BrokerPositionRef]; ok || p.BrokerPositionRef == "" {
			kept = append(kept, p)
		} else {
			// Inconsistent position list: tracked without a live position
			// — remove the tracking entry.
			m.closeLocally(p, "broker_closed_externally", p.EntryPrice)
		}
	}
	m.positions = kept
}

// AdoptFill converts a filled PendingStopOrder into an open Position,
// re-computing the technical stop against the actual fill price.
func (m *PositionManager) AdoptFill(ctx context.Context, orderID OrderID, fillPrice float64, in StopInputs, entryATR float64) {
	idx := -1
	for i, p := range m.pending {
		if p.OrderID == string(orderID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	pend := m.pending[idx]
	m.pending = append(m.pending[:idx], m.pending[idx+1:]...)

	in.Entry = fillPrice
	recomputed := m.risk.BrooksStop(in)
	technicalStop := pend.TechnicalStop
	tightened := false
	if (in.Side == SideBuy && recomputed > technicalStop) || (in.Side == SideSell && recomputed < technicalStop) {
		technicalStop = recomputed
		tightened = true
	}
	hardStop := m.risk.HardStop(in.Side, fillPrice, technicalStop, 0)

	pos := &Position{
		ID: string(orderID), SignalID: pend.SignalID, UserID: m.userID, Side: pend.Side,
		Magic: pend.Magic, EntryPrice: fillPrice, Volume: 0, TechnicalStop: technicalStop,
		HardStop: hardStop, OpenTime: time.Now(), Status: PositionOpen,
		SignalKind: pend.SignalKind, EntryATR: entryATR,
	}
	if pend.Magic == MagicScalp {
		pos.TP1 = pend.TP
	} else {
		pos.TP2 = 0
	}
	m.positions = append(m.positions, pos)

	if m.cfg.HardStop && tightened {
		if err := withRetry(ctx, func() error { return m.broker.ModifyPosition(ctx, m.userID, pos.ID, hardStop, 0) }); err != nil {
			m.log.Warn().Err(err).Msg("failed to modify hard stop after fill")
		}
	}
}

// scalpTakeProfitEvaluation closes the Scalp leg once a bar trades through
// TP1. PlaceStop never attaches a broker-side take-profit, so TP1 is a client-driven exit checked on every bar close, the same
// price-cross-against-target shape as softStopTriggered. Closing it arms
// the sibling Runner's breakeven promotion via OnScalpFilled.
func (m *PositionManager) scalpTakeProfitEvaluation(ctx context.Context, bars []Bar) {
	if len(bars) == 0 {
		return
	}
	b0 := bars[0]
	for _, p := range m.positions {
		if p.Status != PositionOpen || p.Magic != MagicScalp || p.TP1 == 0 {
			continue
		}
		hit := (p.Side == SideBuy && b0.High >= p.TP1) || (p.Side == SideSell && b0.Low <= p.TP1)
		if !hit {
			continue
		}
		m.closePosition(ctx, p, "tp1_scalp")
		m.OnScalpFilled(p.SignalID)
	}
}

// climaxExit: while in TightChannel, a Runner leg is closed if a bar's body
// exceeds 3x the mean of the previous 5 bodies and touches the channel
// extreme.
func (m *PositionManager) climaxExit(ctx context.Context, bars []Bar, regime RegimeSnapshot) {
	if !regime.TightChannelActive || len(bars) < 6 {
		return
	}
	b0 := bars[0]
	mean := meanBody(bars, 1, 5)
	if mean <= 0 || b0.Body() <= 3*mean {
		return
	}
	touchesExtreme := (regime.TightChannelDir == SideBuy && b0.High >= regime.TRHigh) ||
	(regime.TightChannelDir == SideSell && b0.Low <= regime.TRLow)
	if !touchesExtreme {
		return
	}
	for _, p := range m.positions {
		if p.Magic == MagicRunner && p.Status == PositionOpen {
			m.closePosition(ctx, p, "climax_exit")
		}
	}
}

// breakevenAndTrailing implements breakeven promotion and structural
// trailing.
func (m *PositionManager) breakevenAndTrailing(ctx context.Context, lastClose, atr float64) {
	for _, p := range m.positions {
		if p.Status != PositionOpen || p.Magic != MagicRunner {
			continue
		}
		if p.ScalpClosed && !p.BreakevenApplied {
			p.TechnicalStop = p.EntryPrice
			p.BreakevenApplied = true
			p.HardStop = m.risk.HardStop(p.Side, p.EntryPrice, p.TechnicalStop, 0)
			if m.cfg.HardStop {
				_ = withRetry(ctx, func() error { return m.broker.ModifyPosition(ctx, m.userID, p.ID, p.HardStop, p.TP2) })
			}
		}

		if !p.BreakevenApplied {
			continue
		}
		if p.Side == SideBuy {
			if hl, ok := m.ltf.NewHigherLowAboveEntry(p.EntryPrice); ok {
				newStop := hl - 0.2*atr
				if newStop > p.TechnicalStop {
					p.TechnicalStop = newStop
					p.HardStop = m.risk.HardStop(p.Side, p.EntryPrice, p.TechnicalStop, 0)
					_ = withRetry(ctx, func() error { return m.broker.ModifyPosition(ctx, m.userID, p.ID, p.HardStop, p.TP2) })
				}
			}
		} else {
			if lh, ok := m.ltf.NewLowerHighBelowEntry(p.EntryPrice); ok {
				newStop := lh + 0.2*atr
				if newStop < p.TechnicalStop {
					p.TechnicalStop = newStop
					p.HardStop = m.risk.HardStop(p.Side, p.EntryPrice, p.TechnicalStop, 0)
					_ = withRetry(ctx, func() error { return m.broker.ModifyPosition(ctx, m.userID, p.ID, p.HardStop, p.TP2) })
				}
			}
		}
	}
}

// softStopEvaluation implements the bar-close soft-stop modes
func (m *PositionManager) softStopEvaluation(ctx context.Context, bars []Bar) {
	if !m.cfg.SoftStop || len(bars) == 0 {
		return
	}
	b0 := bars[0]
	for _, p := range m.positions {
		if p.Status != PositionOpen {
			continue
		}
		if m.softStopTriggered(p, bars, b0) {
			m.closePosition(ctx, p, "soft_stop")
		}
	}
}

func (m *PositionManager) softStopTriggered(p *Position, bars []Bar, b0 Bar) bool {
	beyond := func(bar Bar) bool {
		if p.Side == SideBuy {
			return bar.Close < p.TechnicalStop
		}
		return bar.Close > p.TechnicalStop
	}
	beyondBody := func(bar Bar) bool {
		extreme := minf(bar.Open, bar.Close)
		if p.Side == SideSell {
			extreme = maxf(bar.Open, bar.Close)
		}
		if p.Side == SideBuy {
			return extreme < p.TechnicalStop
		}
		return extreme > p.TechnicalStop
	}

	switch m.cfg.SoftStopMode {
	case 1:
		return beyondBody(b0)
	case 2:
		n := m.cfg.SoftStopBars
		if n < 1 {
			n = 2
		}
		if len(bars) < n {
			return false
		}
		for i := 0; i < n; i++ {
			if !beyond(bars[i]) {
				return false
			}
		}
		return true
	default:
		return beyond(b0)
	}
}

// OnTick implements the tick-level safety net: no structural updates, just
// a last-resort exit check.
func (m *PositionManager) OnTick(ctx context.Context, bid, ask float64) {
	for _, p := range m.positions {
		if p.Status != PositionOpen {
			continue
		}
		if p.Side == SideBuy && bid < p.TechnicalStop {
			m.closePosition(ctx, p, "soft_stop_tick")
		} else if p.Side == SideSell && ask > p.TechnicalStop {
			m.closePosition(ctx, p, "soft_stop_tick")
		}
	}
}

func (m *PositionManager) cancelExpiredPending(ctx context.Context, now time.Time) {
	kept := m.pending[:0]
	for _, p := range m.pending {
		if now.After(p.ExpiresAt) {
			if err := withRetry(ctx, func() error { return m.broker.CancelOrder(ctx, m.userID, OrderID(p.OrderID)) }); err != nil {
				m.log.Warn().Err(err).Str("order_id", p.OrderID).Msg("failed to cancel expired pending order")
			}
			continue
		}
		kept = append(kept, p)
	}
	m.pending = kept
}

func (m *PositionManager) closePosition(ctx context.Context, p *Position, reason string) {
	if err := withRetry(ctx, func() error { return m.broker.ClosePosition(ctx, m.userID, p.ID) }); err != nil {
		m.log.Warn().Err(err).Str("position_id", p.ID).Str("reason", reason).Msg("failed to close position")
		return
	}
	m.closeLocally(p, reason, p.EntryPrice)
}

func (m *PositionManager) closeLocally(p *Position, reason string, exitPrice float64) {
	p.Status = PositionClosed
	var pnl float64
	if p.Side == SideBuy {
		pnl = (exitPrice - p.EntryPrice) * p.Volume
	} else {
		pnl = (p.EntryPrice - exitPrice) * p.Volume
	}
	_ = m.journal.Record(JournalRecord{
			UserID: m.userID, SignalKind: p.SignalKind, Side: p.Side, EntryPrice: p.EntryPrice,
			Qty: p.Volume, TechnicalStop: p.TechnicalStop, HardStop: p.HardStop, TP1: p.TP1, TP2: p.TP2,
			ExitPrice: exitPrice, ExitReason: reason, PnLRealised: pnl, Status: JournalClosed,
			OpenTime: p.OpenTime, CloseTime: time.Now(),
	})
	removeClosed := m.positions[:0]
	for _, q := range m.positions {
		if q.ID != p.ID {
			removeClosed = append(removeClosed, q)
		}
	}
	m.positions = removeClosed
}

// OnScalpFilled marks the Runner leg's sibling scalp as closed, arming
// breakeven promotion on the next new-bar evaluation.
func (m *PositionManager) OnScalpFilled(signalID string) {
	for _, p := range m.positions {
		if p.SignalID == signalID && p.Magic == MagicRunner {
			p.ScalpClosed = true
		}
	}
}

// WeekendClose implements Friday-close behaviour: close positions
// with R<1.5 or outside strong-trend/wide-TR, else move SL to breakeven.
func (m *PositionManager) WeekendClose(ctx context.Context, regime RegimeSnapshot, currentPrice float64) {
	for _, p := range m.positions {
		if p.Status != PositionOpen {
			continue
		}
		risk := absf(p.EntryPrice - p.TechnicalStop)
		var r float64
		if risk > 0 {
			if p.Side == SideBuy {
				r = (currentPrice - p.EntryPrice) / risk
			} else {
				r = (p.EntryPrice - currentPrice) / risk
			}
		}
		wideEnoughTR := regime.TRActive && (regime.TRHigh-regime.TRLow) >= 2*p.EntryATR
		if r < m.cfg.FridayMinRToHold || (regime.State != StateStrongTrend && !wideEnoughTR) {
			m.closePosition(ctx, p, "friday_close")
			continue
		}
		p.TechnicalStop = p.EntryPrice
		p.HardStop = m.risk.HardStop(p.Side, p.EntryPrice, p.TechnicalStop, 0)
		_ = withRetry(ctx, func() error { return m.broker.ModifyPosition(ctx, m.userID, p.ID, p.HardStop, 0) })
	}
}
