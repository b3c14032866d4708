package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// minBufferBars is the ring-buffer floor ("Ring-buffer size ≥ 50 +
// lookback").
const minBufferBars = 50

// atrRefreshThrottle is the minimum spacing between OnTick's wide-range
// debug log lines.
const atrRefreshThrottle = 5 * time.Second

// MarketBuffers owns the primary and higher-time-frame bar ring-buffers and
// their derived EMA/ATR series (component A). It is written only by the bar
// producer task; other tasks must call Closed to get a value-copy of the
// bars they need.
//
// EMA/ATR are computed incrementally against a ring buffer rather than
// recomputed from a REST kline fetch on every bar.
type MarketBuffers struct {
	mu sync.RWMutex

	log zerolog.Logger

	emaPeriod int
	atrPeriod int
	maxBars int

	// closed holds only closed primary bars, newest-first (closed[0] is the
	// most recently closed bar — spec's "index 1" relative to the forming
	// bar, which is tracked separately in forming).
	closed []Bar
	forming Bar
	hasForming bool

	ema float64
	atr float64

	lastATRRefresh time.Time

	// htf state
	htfClosed []Bar
	htfEMAPeriod int
	htfMaxBars int
	htfEMA float64
	htfEnabled bool
}

// NewMarketBuffers builds the primary/HTF buffer pair. lookback sizes the
// ring buffer floor beyond the minimum of 50.
func NewMarketBuffers(emaPeriod, atrPeriod, lookback, htfEMAPeriod int, htfEnabled bool, log zerolog.Logger) *MarketBuffers {
	maxBars := minBufferBars + lookback
	return &MarketBuffers{
		log: log.With().Str("component", "marketdata").Logger(),
		emaPeriod: emaPeriod,
		atrPeriod: atrPeriod,
		maxBars: maxBars,
		htfEMAPeriod: htfEMAPeriod,
		htfMaxBars: minBufferBars,
		htfEnabled: htfEnabled,
	}
}

// OnPrimaryBarClose appends a newly closed primary bar, recomputes EMA/ATR,
// and returns is_new_bar=true, or false if this open_time was already
// ingested.
func (m *MarketBuffers) OnPrimaryBarClose(bar Bar) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.closed) > 0 && m.closed[0].OpenTime.Equal(bar.OpenTime) {
		return false
	}

	prevClose := 0.0
	if len(m.closed) > 0 {
		prevClose = m.closed[0].Close
	}

	m.closed = prependBar(m.closed, bar, m.maxBars)
	m.recomputeEMA()
	m.recomputeATR(bar, prevClose)

	// A new forming bar starts empty; the next tick seeds it.
	m.forming = Bar{OpenTime: bar.OpenTime.Add(barPeriodGuess(bar))}
	m.hasForming = false

	return true
}

// barPeriodGuess is only used to stamp the next forming bar's open_time
// placeholder before the first tick arrives; callers overwrite OpenTime
// once the real forming bar begins (see OnTick).
func barPeriodGuess(bar Bar) time.Duration { return 0 }

// OnTick is cheap: it updates the forming bar's OHLC from a mid price and,
// when the forming bar's range exceeds 1.5×ATR, writes a throttled (≥5s)
// debug log line. It does not recompute ATR: the ATR value changes only
// when the next primary bar closes.
func (m *MarketBuffers) OnTick(bid, ask float64, now time.Time) {
	mid := (bid + ask) / 2
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasForming {
		m.forming = Bar{OpenTime: now, Open: mid, High: mid, Low: mid, Close: mid}
		m.hasForming = true
	} else {
		if mid > m.forming.High {
			m.forming.High = mid
		}
		if mid < m.forming.Low {
			m.forming.Low = mid
		}
		m.forming.Close = mid
	}

	if m.atr <= 0 {
		return
	}
	if m.forming.Range() > 1.5*m.atr && now.Sub(m.lastATRRefresh) >= atrRefreshThrottle {
		m.lastATRRefresh = now
		m.log.Debug().Float64("forming_range", m.forming.Range()).Float64("atr", m.atr).Msg("throttled tick-level ATR refresh")
		// m.atr is left as it is; downstream consumers keep seeing the
		// closed-bar ATR.
	}
}

func prependBar(bars []Bar, bar Bar, maxLen int) []Bar {
	bars = append(bars, Bar{})
	copy(bars[1:], bars[:len(bars)-1])
	bars[0] = bar
	if len(bars) > maxLen {
		bars = bars[:maxLen]
	}
	return bars
}

func (m *MarketBuffers) recomputeEMA() {
	n := len(m.closed)
	if n < m.emaPeriod {
		m.ema = 0
		return
	}
	if n == m.emaPeriod {
		sum := 0.0
		for _, b := range m.closed {
			sum += b.Close
		}
		m.ema = sum / float64(m.emaPeriod)
		return
	}
	k := 2.0 / float64(m.emaPeriod+1)
	m.ema = m.closed[0].Close*k + m.ema*(1-k)
}

func trueRange(cur Bar, prevClose float64) float64 {
	hl := cur.High - cur.Low
	hc := abs(cur.High - prevClose)
	lc := abs(cur.Low - prevClose)
	tr := hl
	if hc > tr {
		tr = hc
	}
	if lc > tr {
		tr = lc
	}
	return tr
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (m *MarketBuffers) recomputeATR(bar Bar, prevClose float64) {
	n := len(m.closed)
	if n < m.atrPeriod+1 {
		// Not enough true-range samples yet (need a prevClose for each);
		// leave ATR at 0.
		if n == m.atrPeriod {
			// Bootstrap: simple average of the last atrPeriod true ranges.
			sum := 0.0
			for i := 0; i < m.atrPeriod; i++ {
				pc := 0.0
				if i+1 < n {
					pc = m.closed[i+1].Close
				} else {
					pc = m.closed[i].Open
				}
				sum += trueRange(m.closed[i], pc)
			}
			m.atr = sum / float64(m.atrPeriod)
		}
		return
	}
	tr := trueRange(bar, prevClose)
	m.atr = (m.atr*float64(m.atrPeriod-1) + tr) / float64(m.atrPeriod)
}

// EMA returns the current EMA(emaPeriod) of closed primary bars, or 0 under
// buffer underflow.
func (m *MarketBuffers) EMA() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ema
}

// ATR returns the current ATR(atrPeriod) of closed primary bars, or 0 under
// buffer underflow.
func (m *MarketBuffers) ATR() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.atr
}

// Bar returns the bar at spec-style index i: i==0 is the forming bar, i>=1
// is closed[i-1] (the most recently closed bar is index 1). ok is false on
// out-of-range access — the "empty-snapshot sentinel" of Design Notes
func (m *MarketBuffers) Bar(i int) (Bar, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i == 0 {
		if !m.hasForming {
			return Bar{}, false
		}
		return m.forming, true
	}
	idx := i - 1
	if idx < 0 || idx >= len(m.closed) {
		return Bar{}, false
	}
	return m.closed[idx], true
}

// Closed returns a value-copy snapshot of up to n closed bars, newest
// first. Safe for readers that only snapshot.
func (m *MarketBuffers) Closed(n int) []Bar {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n > len(m.closed) {
		n = len(m.closed)
	}
	out := make([]Bar, n)
	copy(out, m.closed[:n])
	return out
}

// ClosedCount reports how many closed primary bars are buffered.
func (m *MarketBuffers) ClosedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.closed)
}

// OnHTFBarClose appends a new closed higher-time-frame bar and recomputes
// the HTF EMA.
func (m *MarketBuffers) OnHTFBarClose(bar Bar) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.htfClosed) > 0 && m.htfClosed[0].OpenTime.Equal(bar.OpenTime) {
		return false
	}
	m.htfClosed = prependBar(m.htfClosed, bar, m.htfMaxBars)

	n := len(m.htfClosed)
	if n < m.htfEMAPeriod {
		m.htfEMA = 0
	} else if n == m.htfEMAPeriod {
		sum := 0.0
		for _, b := range m.htfClosed {
			sum += b.Close
		}
		m.htfEMA = sum / float64(m.htfEMAPeriod)
	} else {
		k := 2.0 / float64(m.htfEMAPeriod+1)
		m.htfEMA = bar.Close*k + m.htfEMA*(1-k)
	}
	return true
}

// HTFDirection is the dispatcher-facing "up"/"down"/"" verdict.
type HTFDirection string

const (
	HTFUp HTFDirection = "up"
	HTFDown HTFDirection = "down"
	HTFNeutral HTFDirection = ""
)

// HTFEMAAndDirection returns the last closed HTF EMA and its direction,
// comparing HTF close to HTF EMA with a ±0.5×ATR dead band. If HTF is disabled or underflowing, direction is neutral.
func (m *MarketBuffers) HTFEMAAndDirection(primaryATR float64) (float64, HTFDirection) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.htfEnabled || len(m.htfClosed) == 0 || m.htfEMA == 0 {
		return m.htfEMA, HTFNeutral
	}
	close := m.htfClosed[0].Close
	band := 0.5 * primaryATR
	if close > m.htfEMA+band {
		return m.htfEMA, HTFUp
	}
	if close < m.htfEMA-band {
		return m.htfEMA, HTFDown
	}
	return m.htfEMA, HTFNeutral
}

// Backfill ingests a batch of closed bars obtained after a reconnect,
// oldest-first, deduping by open_time so no gap leaks into the classifier
//.
func (m *MarketBuffers) Backfill(bars []Bar) int {
	n := 0
	for _, b := range bars {
		m.mu.RLock()
		stale := len(m.closed) > 0 && !b.OpenTime.After(m.closed[0].OpenTime)
		m.mu.RUnlock()
		if stale {
			continue
		}
		if m.OnPrimaryBarClose(b) {
			n++
		}
	}
	return n
}
