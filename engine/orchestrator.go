package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/brookscore/tradingcore/config"
)

// SignalTask bundles a dispatcher-emitted Signal with the market context an
// orchestrator needs to turn it into an order.
type SignalTask struct {
	Signal Signal
	Bars []Bar
	ATR float64
	Regime RegimeSnapshot
	Symbol string
	UseMarket bool
}

// CloseRequest asks the orchestrator to close an open position out of
// band (manual close, kill-switch, external command).
type CloseRequest struct {
	PositionID string
	Reason string
}

// Orchestrator implements component I: one task per user, draining its
// close_queue ahead of its signal_queue, applying per-user cooldown /
// reversal / opposing-position checks, sizing the order, and submitting it
// through the PositionManager.
type Orchestrator struct {
	userID string

	broker BrokerAdapter
	risk *RiskComputer
	pos *PositionManager
	cfg *config.Config
	log zerolog.Logger

	signalQueue chan SignalTask
	closeQueue chan CloseRequest

	lastSubmitBar map[SignalKind]int
	barCounter int
	lastBarOpen time.Time
}

// NewOrchestrator builds the per-user task. Queue depths are small:
// signals and closes are meant to be drained same-bar, never backlogged.
func NewOrchestrator(userID string, broker BrokerAdapter, risk *RiskComputer, pos *PositionManager, cfg *config.Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		userID: userID, broker: broker, risk: risk, pos: pos, cfg: cfg,
		log: log.With().Str("component", "orchestrator").Str("user_id", userID).Logger(),
		signalQueue: make(chan SignalTask, 16),
		closeQueue: make(chan CloseRequest, 16),
		lastSubmitBar: make(map[SignalKind]int),
	}
}

// EnqueueSignal offers a candidate signal to this user's queue; it is
// dropped with a warning if the queue is saturated rather than blocking
// the caller (the dispatcher serves every user off one bar event).
func (o *Orchestrator) EnqueueSignal(task SignalTask) {
	select {
	case o.signalQueue <- task:
	default:
		o.log.Warn().Str("kind", string(task.Signal.Kind)).Msg("signal queue saturated, dropping")
	}
}

// EnqueueClose offers a close request; close_queue takes priority over
// signal_queue in Run's loop.
func (o *Orchestrator) EnqueueClose(req CloseRequest) {
	select {
	case o.closeQueue <- req:
	default:
		o.log.Warn().Str("position_id", req.PositionID).Msg("close queue saturated, dropping")
	}
}

// Run drains close_queue ahead of signal_queue until ctx is cancelled,
// one goroutine per user.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-o.closeQueue:
			o.processClose(ctx, req)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case req := <-o.closeQueue:
			o.processClose(ctx, req)
		case task := <-o.signalQueue:
			o.processSignal(ctx, task)
		}
	}
}

func (o *Orchestrator) processClose(ctx context.Context, req CloseRequest) {
	if err := withRetry(ctx, func() error { return o.broker.ClosePosition(ctx, o.userID, req.PositionID) }); err != nil {
		o.log.Warn().Err(err).Str("position_id", req.PositionID).Str("reason", req.Reason).Msg("manual close failed")
	}
}

// processSignal implements per-signal gate chain: cooldown,
// reversal-threshold, opposite-position, then sizing and submission.
func (o *Orchestrator) processSignal(ctx context.Context, task SignalTask) {
	o.advanceBar(task.Bars)

	sig := task.Signal
	if o.cooldownBlocks(sig.Kind) {
		o.log.Debug().Str("kind", string(sig.Kind)).Msg("orchestrator cooldown blocks signal")
		return
	}
	if o.reversalThresholdBlocks(sig, task.Regime) {
		o.log.Debug().Str("kind", string(sig.Kind)).Msg("reversal threshold blocks signal")
		return
	}
	if o.pos.HasOpposingPosition(sig.Side) {
		o.log.Debug().Str("kind", string(sig.Kind)).Msg("opposing position blocks signal")
		return
	}

	var info SymbolInfo
	err := withRetry(ctx, func() error {
		var err error
		info, err = o.broker.SymbolInfo(ctx, task.Symbol)
		return err
	})
	if err != nil {
		o.log.Warn().Err(err).Msg("symbol info unavailable, dropping signal")
		return
	}
	var bid, ask float64
	err = withRetry(ctx, func() error {
		var err error
		bid, ask, err = o.broker.BestBidAsk(ctx, task.Symbol)
		return err
	})
	if err != nil {
		o.log.Warn().Err(err).Msg("best bid/ask unavailable, dropping signal")
		return
	}

	entry := o.risk.EntryPrice(sig.Side, task.UseMarket, bid, ask, task.Bars[0], info.TickSize)
	qty, err := o.computeQuantity(ctx, entry, info)
	if err != nil {
		o.log.Warn().Err(err).Str("kind", string(sig.Kind)).Msg("signal dropped: quantity sizing failed")
		return
	}

	technicalStop := sig.TechnicalStop
	hardStop := o.risk.HardStop(sig.Side, entry, technicalStop, info.TickSize)
	prevTwoBarHeight := 0.0
	if len(task.Bars) >= 3 {
		prevTwoBarHeight = highestHigh(task.Bars[1:3], 2) - lowestLow(task.Bars[1:3], 2)
	}
	tp1, tp2 := o.risk.TakeProfits(sig.Side, entry, technicalStop, task.ATR, task.Regime, prevTwoBarHeight)

	plan := EntryPlan{
		Entry: RoundToTick(entry, info.TickSize), TechnicalStop: technicalStop, HardStop: RoundToTick(hardStop, info.TickSize),
		TP1: RoundToTick(tp1, info.TickSize), TP2: RoundToTick(tp2, info.TickSize), Qty: qty, UseMarket: task.UseMarket,
	}

	expiry := task.Bars[0].OpenTime.Add(time.Duration(o.cfg.SignalCooldown) * time.Hour)
	if err := o.pos.SubmitSignal(ctx, sig, plan, expiry, info.MinQty); err != nil {
		o.log.Warn().Err(err).Str("kind", string(sig.Kind)).Msg("submission rejected")
		return
	}
	o.lastSubmitBar[sig.Kind] = o.barCounter
}

// advanceBar increments the orchestrator's own bar counter whenever a new
// bar's OpenTime is observed, mirroring the dispatcher's barCounter
// pattern but kept independently since each user drains its queue on its
// own schedule.
func (o *Orchestrator) advanceBar(bars []Bar) {
	if len(bars) == 0 {
		return
	}
	if bars[0].OpenTime.After(o.lastBarOpen) {
		o.barCounter++
		o.lastBarOpen = bars[0].OpenTime
	}
}

// cooldownBlocks enforces SignalCooldown bars of silence per signal kind,
// same window the dispatcher enforces per market but scoped to this user
// (a user may join mid-cooldown via a replayed signal).
func (o *Orchestrator) cooldownBlocks(kind SignalKind) bool {
	last, ok := o.lastSubmitBar[kind]
	if !ok {
		return false
	}
	return o.barCounter-last < o.cfg.SignalCooldown
}

// reversalThresholdBlocks rejects a reversal-side entry while a same-side
// reversal attempt is still tracked and has not yet failed.
func (o *Orchestrator) reversalThresholdBlocks(sig Signal, regime RegimeSnapshot) bool {
	if !reversalKinds[sig.Kind] || regime.Reversal == nil || regime.Reversal.Failed {
		return false
	}
	wantDir := ReversalBullish
	if sig.Side == SideSell {
		wantDir = ReversalBearish
	}
	return regime.Reversal.Direction == wantDir
}

// computeQuantity implements sizing formula: round_down(balance *
// sizing_pct * leverage / entry_price, step_size), rejecting below
// min_qty/min_notional.
func (o *Orchestrator) computeQuantity(ctx context.Context, entry float64, info SymbolInfo) (float64, error) {
	var balance float64
	err := withRetry(ctx, func() error {
		var err error
		balance, err = o.broker.AccountBalance(ctx, o.userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	pct := o.cfg.SizingLargeBalPct
	if balance <= o.cfg.LargeBalThreshold {
		pct = o.cfg.SizingSmallBalPct
	}
	if entry <= 0 {
		return 0, ErrQuantityBelowMinimum
	}
	raw := balance * (pct / 100) * float64(o.cfg.Leverage) / entry
	qty := RoundToStep(raw, info.StepSize)

	if qty < info.MinQty || qty*entry < info.MinNotional {
		return 0, ErrQuantityBelowMinimum
	}
	return qty, nil
}
