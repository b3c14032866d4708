package engine

// PushCounter implements Brooks' H1/H2/L1/L2 "push" counting: a small
// multi-state machine owned by the dispatcher alongside the swing
// tracker. Each confirmed fresh swing extreme that
// clears the previous one by a qualifying pullback increments the count for
// that side; a lower low/higher high against the count's direction, a
// significant new extreme, or a strong reversal bar resets it.
type PushCounter struct {
	buyPushes int
	sellPushes int

	lastCountedHigh float64
	lastCountedLow float64
	haveHigh bool
	haveLow bool
}

// NewPushCounter() builds an empty counter.
func NewPushCounter() *PushCounter { return &PushCounter{} }

// OnNewBar advances the machine against the latest closed-bar history and
// current swing state.
func (p *PushCounter) OnNewBar(bars []Bar, atr float64, swings *SwingTracker) {
	if atr <= 0 || len(bars) == 0 {
		return
	}
	b0 := bars[0]

	// Strong reversal bar resets both counts.
	if b0.Range() > 1.2*atr && b0.BodyRatio() > 0.65 {
		p.buyPushes, p.sellPushes = 0, 0
	}

	h1, h2 := swings.RecentSwingHigh(1, false), swings.RecentSwingHigh(2, false)
	l1, l2 := swings.RecentSwingLow(1, false), swings.RecentSwingLow(2, false)

	// Buy-side push: a fresh swing high that exceeds the prior swing high,
	// with an intervening pullback (the swing low between them) of depth
	// >=0.2*ATR.
	if h1 != nil && h2 != nil && h1.Price > h2.Price && (!p.haveHigh || h1.Price != p.lastCountedHigh) {
		pullbackDepth := 0.0
		if l1 != nil {
			pullbackDepth = h2.Price - l1.Price
		}
		if pullbackDepth >= 0.2*atr {
			p.buyPushes++
			p.lastCountedHigh = h1.Price
			p.haveHigh = true
		}
	}
	// Sell-side push: symmetric on swing lows.
	if l1 != nil && l2 != nil && l1.Price < l2.Price && (!p.haveLow || l1.Price != p.lastCountedLow) {
		pullbackDepth := 0.0
		if h1 != nil {
			pullbackDepth = h1.Price - l2.Price
		}
		if pullbackDepth >= 0.2*atr {
			p.sellPushes++
			p.lastCountedLow = l1.Price
			p.haveLow = true
		}
	}

	// A lower low resets the buy-side count; a higher high resets the
	// sell-side count.
	if l1 != nil && l2 != nil && l1.Price < l2.Price {
		p.buyPushes = 0
	}
	if h1 != nil && h2 != nil && h1.Price > h2.Price {
		p.sellPushes = 0
	}

	// A significant new high (>=0.5*ATR beyond the previous swing high)
	// resets the sell-side count, and a significant new low resets the
	// buy-side count (treated as a fresh leg, not a continuation push).
	if h1 != nil && h2 != nil && h1.Price-h2.Price >= 0.5*atr {
		p.sellPushes = 0
	}
	if l1 != nil && l2 != nil && l2.Price-l1.Price >= 0.5*atr {
		p.buyPushes = 0
	}
}

// BuyPushes is the current H-count (higher-highs since the last reset).
func (p *PushCounter) BuyPushes() int { return p.buyPushes }

// SellPushes is the current L-count (lower-lows since the last reset).
func (p *PushCounter) SellPushes() int { return p.sellPushes }
