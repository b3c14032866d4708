// Package journal implements engine.TradeJournal as an append-only JSONL
// file plus an in-memory running summary (trade count, win count, best
// trade, net PnL) kept per user.
package journal

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/brookscore/tradingcore/engine"
)

// Summary is a running per-user tally, accumulated from closed
// JournalRecords as they're written.
type Summary struct {
	TradeCount int
	WinCount   int
	BestTrade  float64
	NetPnL     float64
}

// WinRate returns the win percentage, 0 with no trades yet.
func (s Summary) WinRate() float64 {
	if s.TradeCount == 0 {
		return 0
	}
	return float64(s.WinCount) / float64(s.TradeCount) * 100
}

// JSONLWriter appends one JSON object per line to a file, the line-delimited
// event-log shape used wherever the corpus needs a durable, crash-safe,
// append-only sink (no pack library ships one — see DESIGN.md). Writes are
// best-effort: a failure is logged and its error returned, and the engine's
// callers discard that error, per engine.TradeJournal's "a failure MUST NOT
// abort the engine" contract.
type JSONLWriter struct {
	mu      sync.Mutex
	f       *os.File
	enc     *json.Encoder
	log     zerolog.Logger
	summary map[string]*Summary // keyed by UserID
}

// NewJSONLWriter opens (or creates) path for appending.
func NewJSONLWriter(path string, log zerolog.Logger) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONLWriter{
		f:       f,
		enc:     json.NewEncoder(f),
		log:     log.With().Str("component", "journal").Logger(),
		summary: make(map[string]*Summary),
	}, nil
}

// Record implements engine.TradeJournal.
func (w *JSONLWriter) Record(rec engine.JournalRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(rec); err != nil {
		w.log.Warn().Err(err).Str("user_id", rec.UserID).Msg("journal write failed")
		return err
	}

	if rec.Status == engine.JournalClosed {
		s, ok := w.summary[rec.UserID]
		if !ok {
			s = &Summary{}
			w.summary[rec.UserID] = s
		}
		s.TradeCount++
		if rec.PnLRealised > 0 {
			s.WinCount++
		}
		if rec.PnLRealised > s.BestTrade {
			s.BestTrade = rec.PnLRealised
		}
		s.NetPnL += rec.PnLRealised
	}
	return nil
}

// Summary returns a copy of userID's running totals for a daily report.
func (w *JSONLWriter) Summary(userID string) Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.summary[userID]; ok {
		return *s
	}
	return Summary{}
}

// Close flushes and closes the underlying file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
