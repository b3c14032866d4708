package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brookscore/tradingcore/config"
)

func testSessionConfig() *config.Config {
	return &config.Config{
		FridayCloseHourGMT: 22,
		SundayOpenHourGMT:  0,
		MondayGapResetATR:  0.5,
	}
}

func TestSessionGateSaturdayIsWeekend(t *testing.T) {
	g := NewSessionGate(testSessionConfig())
	sat := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) // a Saturday
	state := g.Evaluate(sat)
	assert.True(t, state.IsWeekend)
}

func TestSessionGateFridayAfterCloseHourIsWeekend(t *testing.T) {
	g := NewSessionGate(testSessionConfig())
	fri := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC) // Friday 23:00 GMT
	state := g.Evaluate(fri)
	assert.True(t, state.IsFridayClose)
	assert.True(t, state.IsWeekend)
}

func TestSessionGateMondayMorningIsOpen(t *testing.T) {
	g := NewSessionGate(testSessionConfig())
	mon := time.Date(2026, 8, 3, 6, 0, 0, 0, time.UTC)
	state := g.Evaluate(mon)
	assert.False(t, state.IsWeekend)
}

func TestSessionGateSundayBeforeOpenHourIsPreOpen(t *testing.T) {
	cfg := testSessionConfig()
	cfg.SundayOpenHourGMT = 6
	g := NewSessionGate(cfg)
	sun := time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC)
	state := g.Evaluate(sun)
	assert.True(t, state.IsSundayPreOpen)
	assert.True(t, state.IsWeekend)
}

func TestMondayGapResetTriggersAboveThreshold(t *testing.T) {
	g := NewSessionGate(testSessionConfig())
	mon := time.Date(2026, 8, 3, 0, 5, 0, 0, time.UTC)
	bars := []Bar{{Open: 105}, {Close: 100}} // gap = 5, atr = 1 -> 5x ATR
	assert.True(t, g.MondayGapReset(mon, bars, 1.0))
}

func TestMondayGapResetFalseOnNonMonday(t *testing.T) {
	g := NewSessionGate(testSessionConfig())
	tue := time.Date(2026, 8, 4, 0, 5, 0, 0, time.UTC)
	bars := []Bar{{Open: 105}, {Close: 100}}
	assert.False(t, g.MondayGapReset(tue, bars, 1.0))
}
