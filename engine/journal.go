package engine

import "time"

// JournalStatus mirrors a Position's coarse lifecycle for journalling.
type JournalStatus string

const (
	JournalOpen JournalStatus = "open"
	JournalPartial JournalStatus = "partial"
	JournalClosed JournalStatus = "closed"
)

// JournalRecord is the append-only event record /
type JournalRecord struct {
	UserID string
	SignalKind SignalKind
	Side Side
	EntryPrice float64
	Qty float64
	TechnicalStop float64
	HardStop float64
	TP1 float64
	TP2 float64
	ExitPrice float64
	ExitReason string
	PnLRealised float64
	Status JournalStatus
	OpenTime time.Time
	CloseTime time.Time
}

// TradeJournal is the contract component K exposes; writes are best-effort
// and a failure MUST NOT abort the engine.
type TradeJournal interface {
	Record(rec JournalRecord) error
}

// NopJournal discards every record; used when no journal sink is
// configured, keeping the engine's journal dependency optional.
type NopJournal struct{}

// Record implements TradeJournal by doing nothing.
func (NopJournal) Record(JournalRecord) error { return nil }
