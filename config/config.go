// Package config loads the engine's tunable parameters from the
// environment: godotenv for local development plus manual
// os.Getenv/strconv parsing with defaults, rather than a struct-tag
// based env library.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is a pure data struct built once at process start and handed down
// to every component constructor. It never imports the engine package, so
// there is no "config imports strategy, strategy imports config" cycle.
type Config struct {
	// Instrument
	Symbol           string
	PrimaryTimeframe string
	LTFTimeframe     string

	// Market-data / indicators
	EMAPeriod int
	ATRPeriod int
	Lookback  int

	// HTF
	HTFTimeframe string
	HTFEMAPeriod int
	HTFEnabled   bool

	// Dispatcher gates
	SignalCooldown   int
	MaxStopATR       float64
	MinSpikeBars     int
	SpikeOverlapMax  float64
	TTROverlapRatio  float64
	TTRRangeATRMult  float64
	SpreadFilter     bool
	SpreadMaxMult    float64

	// 20-Gap
	Enable20Gap       bool
	GapBarThreshold   int
	HTFBypassGapCount int

	// Stops / targets
	HardStop          bool
	HardStopBuffer    float64
	SoftStop          bool
	SoftStopMode      int
	SoftStopBars      int
	TP1ScalpR         float64
	TP1ClosePct       float64
	RunnerTP2MinATR   float64
	BreakevenATRMult  float64
	BreakevenPoints   float64
	MinStopsLevelPts  float64

	// Regime extras
	BarbWire     bool
	MeasuringGap bool
	BreakoutMode bool

	// Session
	WeekendFilter     bool
	FridayCloseHourGMT int
	SundayOpenHourGMT  int
	FridayMinRToHold   float64
	MondayGapResetATR  float64

	// Sizing
	SizingSmallBalPct   float64
	SizingLargeBalPct   float64
	LargeBalThreshold   float64
	Leverage            int

	// Detector flags, one per SignalKind; default true when absent.
	EnableSignal map[string]bool

	// MTR
	MTRRetestATRMult float64

	// Order flow
	OrderFlowEnabled   bool
	OrderFlowWindowSec int

	// Broker credentials
	BinanceAPIKey    string
	BinanceAPISecret string
	IsTestnet        bool

	// Logging
	LogFormat string

	// Firebase / auth
	FirebaseCredentialsFile string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getStr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// allSignalKeys lists every detector's env flag name, one
// ENABLE_<SIGNAL>=true/false switch per detector key.
var allSignalKeys = []string{
	"SPIKE", "MICRO_CHANNEL", "H1", "H2", "L1", "L2", "WEDGE", "CLIMAX",
	"MTR", "FAILED_BREAKOUT", "FINAL_FLAG", "DOUBLE_TOP_BOTTOM",
	"TREND_BAR", "REVERSAL_BAR", "II_PATTERN", "OUTSIDE_BAR",
	"MEASURED_MOVE", "TR_BREAKOUT", "BREAKOUT_PULLBACK", "GAP_BAR",
	"EMERGENCY_SPIKE", "MICRO_CHANNEL_H1",
}

// Load reads .env (if present) and builds a Config with sane defaults for
// every tunable.
func Load() *Config {
	_ = godotenv.Load()

	enabled := make(map[string]bool, len(allSignalKeys))
	for _, k := range allSignalKeys {
		enabled[k] = getBool("ENABLE_"+k, true)
	}

	return &Config{
		Symbol:           getStr("SYMBOL", "BTCUSDT"),
		PrimaryTimeframe: getStr("PRIMARY_TIMEFRAME", "M15"),
		LTFTimeframe:     getStr("LTF_TIMEFRAME", "M5"),

		EMAPeriod: getInt("EMA_PERIOD", 20),
		ATRPeriod: getInt("ATR_PERIOD", 20),
		Lookback:  getInt("LOOKBACK", 20),

		HTFTimeframe: getStr("HTF_TIMEFRAME", "1h"),
		HTFEMAPeriod: getInt("HTF_EMA_PERIOD", 20),
		HTFEnabled:   getBool("HTF_ENABLED", true),

		SignalCooldown:  getInt("SIGNAL_COOLDOWN", 3),
		MaxStopATR:      getFloat("MAX_STOP_ATR", 3.0),
		MinSpikeBars:    getInt("MIN_SPIKE_BARS", 3),
		SpikeOverlapMax: getFloat("SPIKE_OVERLAP_MAX", 0.30),
		TTROverlapRatio: getFloat("TTR_OVERLAP_RATIO", 0.40),
		TTRRangeATRMult: getFloat("TTR_RANGE_ATR_MULT", 2.5),
		SpreadFilter:    getBool("SPREAD_FILTER", true),
		SpreadMaxMult:   getFloat("SPREAD_MAX_MULT", 2.0),

		Enable20Gap:       getBool("ENABLE_20GAP", true),
		GapBarThreshold:   getInt("GAP_BAR_THRESHOLD", 20),
		HTFBypassGapCount: getInt("HTF_BYPASS_GAP_COUNT", 5),

		HardStop:         getBool("HARD_STOP", true),
		HardStopBuffer:   getFloat("HARD_STOP_BUFFER", 1.5),
		SoftStop:         getBool("SOFT_STOP", true),
		SoftStopMode:     getInt("SOFT_STOP_MODE", 0),
		SoftStopBars:     getInt("SOFT_STOP_BARS", 2),
		TP1ScalpR:        getFloat("TP1_SCALP_R", 1.0),
		TP1ClosePct:      getFloat("TP1_CLOSE_PCT", 50),
		RunnerTP2MinATR:  getFloat("RUNNER_TP2_MIN_ATR", 1.5),
		BreakevenATRMult: getFloat("BREAKEVEN_ATR_MULT", 0.1),
		BreakevenPoints:  getFloat("BREAKEVEN_POINTS", 5),
		MinStopsLevelPts: getFloat("MIN_STOPS_LEVEL_POINTS", 30),

		BarbWire:     getBool("BARB_WIRE", true),
		MeasuringGap: getBool("MEASURING_GAP", true),
		BreakoutMode: getBool("BREAKOUT_MODE", true),

		WeekendFilter:      getBool("WEEKEND_FILTER", true),
		FridayCloseHourGMT: getInt("FRIDAY_CLOSE_HOUR_GMT", 22),
		SundayOpenHourGMT:  getInt("SUNDAY_OPEN_HOUR_GMT", 0),
		FridayMinRToHold:   getFloat("FRIDAY_MIN_R_TO_HOLD", 1.5),
		MondayGapResetATR:  getFloat("MONDAY_GAP_RESET_ATR", 0.5),

		SizingSmallBalPct: getFloat("SIZING_SMALL_BAL_PCT", 100),
		SizingLargeBalPct: getFloat("SIZING_LARGE_BAL_PCT", 50),
		LargeBalThreshold: getFloat("LARGE_BAL_THRESHOLD", 1000),
		Leverage:          getInt("LEVERAGE", 20),

		EnableSignal: enabled,

		MTRRetestATRMult: getFloat("MTR_RETEST_ATR_MULT", 0.2),

		OrderFlowEnabled:   getBool("ORDER_FLOW_ENABLED", true),
		OrderFlowWindowSec: getInt("ORDER_FLOW_WINDOW_SEC", 0),

		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		IsTestnet:        getBool("IS_TESTNET", false),

		LogFormat: getStr("LOG_FORMAT", "console"),

		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}
}

// SignalEnabled reports whether a detector key is enabled, defaulting to
// true for any key not present in the map.
func (c *Config) SignalEnabled(key string) bool {
	if c == nil || c.EnableSignal == nil {
		return true
	}
	v, ok := c.EnableSignal[key]
	if !ok {
		return true
	}
	return v
}
