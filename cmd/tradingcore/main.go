// Command tradingcore is the process entrypoint: it loads configuration,
// validates broker credentials, wires the market-data/regime/dispatcher
// pipeline (components A-E) to one BrokerAdapter, and runs one
// Orchestrator/PositionManager pair for the single user id "default"
// (components G-I).
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/brookscore/tradingcore/auth"
	"github.com/brookscore/tradingcore/broker/binancefutures"
	"github.com/brookscore/tradingcore/config"
	"github.com/brookscore/tradingcore/engine"
	"github.com/brookscore/tradingcore/journal"
	"github.com/brookscore/tradingcore/notify"
)

func main() {
	cfg := config.Load()

	var logOut io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if cfg.LogFormat == "json" {
		logOut = os.Stdout
	}
	log := zerolog.New(logOut).
		With().Timestamp().Str("component", "main").Logger()

	log.Info().Str("symbol", cfg.Symbol).Str("primary_tf", cfg.PrimaryTimeframe).Msg("tradingcore starting")

	// Refuse to start without broker credentials.
	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		log.Fatal().Msg("BINANCE_API_KEY / BINANCE_API_SECRET not set")
	}

	broker := binancefutures.NewAdapter(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.IsTestnet, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = binancefutures.WithSymbol(ctx, cfg.Symbol)

	info, err := broker.SymbolInfo(ctx, cfg.Symbol)
	if err != nil {
		log.Fatal().Err(err).Str("symbol", cfg.Symbol).Msg("symbol info unavailable at startup")
	}
	log.Info().Float64("tick_size", info.TickSize).Float64("step_size", info.StepSize).Msg("symbol info loaded")

	var notifier *notify.Notifier
	if cfg.TelegramBotToken != "" {
		chatID, _ := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
		notifier, err = notify.New(cfg.TelegramBotToken, chatID, log)
		if err != nil {
			log.Warn().Err(err).Msg("telegram notifier disabled: init failed")
		}
	}
	notifier.Notify("tradingcore restarted, symbol=" + cfg.Symbol)

	jw, err := journal.NewJSONLWriter("trades.jsonl", log)
	if err != nil {
		log.Warn().Err(err).Msg("journal disabled: failed to open trades.jsonl")
	}
	var tj engine.TradeJournal = engine.NopJournal{}
	if jw != nil {
		tj = jw
		defer jw.Close()
	}

	var accounts *auth.AccountStore
	if cfg.FirebaseCredentialsFile != "" {
		accounts, err = auth.NewAccountStore(cfg.FirebaseCredentialsFile, log)
		if err != nil {
			log.Warn().Err(err).Msg("firebase account store disabled: init failed")
		}
	}

	risk := engine.NewRiskComputer(cfg)
	buffers := engine.NewMarketBuffers(cfg.EMAPeriod, cfg.ATRPeriod, cfg.Lookback, cfg.HTFEMAPeriod, cfg.HTFEnabled, log)
	dispatcher := engine.NewDispatcher(cfg, log)
	sessionGate := engine.NewSessionGate(cfg)

	var orderFlow *engine.OrderFlowAnalyser
	if cfg.OrderFlowEnabled {
		orderFlow = engine.NewOrderFlowAnalyser(cfg, primaryBarPeriod(cfg.PrimaryTimeframe), log)
		dispatcher.OrderFlow = orderFlow
	}

	userID := "default"
	if accounts != nil {
		if acc, lookupErr := accounts.Lookup(userID); lookupErr == nil {
			log.Info().Str("email", acc.Email).Msg("resolved trading account")
		}
	}

	ltf := engine.NewLTFSwingTracker()
	var ltfHistory []engine.Bar // newest-first, capped at 50 bars
	pos := engine.NewPositionManager(userID, broker, risk, cfg, tj, ltf, log)
	orch := engine.NewOrchestrator(userID, broker, risk, pos, cfg, log)
	go orch.Run(ctx)

	bars, err := broker.StreamBars(ctx, cfg.Symbol, cfg.PrimaryTimeframe)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start primary bar stream")
	}
	htfBars, err := broker.StreamBars(ctx, cfg.Symbol, cfg.HTFTimeframe)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start htf bar stream")
	}
	ltfBars, err := broker.StreamBars(ctx, cfg.Symbol, cfg.LTFTimeframe)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start ltf bar stream")
	}

	var trades <-chan engine.Trade
	if cfg.OrderFlowEnabled {
		trades, err = broker.StreamTrades(ctx, cfg.Symbol)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start trade stream")
		}
	}

	go runHTTP(log, cfg)

	lastBarClose := time.Now()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case bar := <-bars:
			lastBarClose = time.Now()
			closed := buffers.OnPrimaryBarClose(bar)
			if !closed {
				continue
			}
			closedBars := buffers.Closed(cfg.Lookback * 4)
			ema, atr := buffers.EMA(), buffers.ATR()
			_, htfDir := buffers.HTFEMAAndDirection(atr)

			weekend := sessionGate.Evaluate(bar.OpenTime).IsWeekend
			bid, ask, bbaErr := broker.BestBidAsk(ctx, cfg.Symbol)
			spreadMult := 1.0
			if bbaErr == nil && atr > 0 {
				spreadMult = (ask - bid) / (atr / float64(cfg.ATRPeriod))
			}

			sig, ok := dispatcher.OnNewBar(closedBars, ema, atr, htfDir, spreadMult, weekend)
			regime := dispatcher.LastRegime()
			if ok {
				useMarket := sig.Kind == engine.SignalSpike || sig.Kind == engine.SignalEmergencySpike
				orch.EnqueueSignal(engine.SignalTask{
					Signal: sig, Bars: closedBars, ATR: atr, Regime: regime,
					Symbol: cfg.Symbol, UseMarket: useMarket,
				})
				dispatcher.RecordEntry(sig.Side, closedBars[0].Close)
			}

			pos.OnNewBar(ctx, closedBars, atr, regime, bar.OpenTime)

			if sessionGate.MondayGapReset(bar.OpenTime, closedBars, atr) {
				log.Info().Msg("monday gap reset armed")
			}
			if weekend {
				pos.WeekendClose(ctx, regime, bar.Close)
			}

		case htfBar := <-htfBars:
			buffers.OnHTFBarClose(htfBar)

		case ltfBar, openCh := <-ltfBars:
			if !openCh {
				continue
			}
			ltfHistory = append([]engine.Bar{ltfBar}, ltfHistory...)
			if len(ltfHistory) > 50 {
				ltfHistory = ltfHistory[:50]
			}
			ltf.OnNewBar(ltfHistory)

		case t, openCh := <-trades:
			if !openCh {
				continue
			}
			if orderFlow != nil {
				orderFlow.OnTrade(t)
			}

		case now := <-ticker.C:
			if bid, ask, err := broker.BestBidAsk(ctx, cfg.Symbol); err == nil {
				pos.OnTick(ctx, bid, ask)
			}
			if now.Sub(lastBarClose) > 2*time.Minute {
				log.Warn().Dur("since_last_bar", now.Sub(lastBarClose)).Msg("no new primary bar; tick monitor carrying position management")
			}
		}
	}
}

// runHTTP serves a minimal health endpoint; there is no public
// signal-broadcast surface (see DESIGN.md).
func runHTTP(log zerolog.Logger, cfg *config.Config) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	addr := ":8081"
	log.Info().Str("addr", addr).Msg("health server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("health server stopped")
	}
}

// primaryBarPeriod maps the configured primary timeframe to its wall-clock
// duration, used as the order-flow analyser's fallback window.
func primaryBarPeriod(timeframe string) time.Duration {
	switch timeframe {
	case "M1":
		return time.Minute
	case "M5":
		return 5 * time.Minute
	case "M15":
		return 15 * time.Minute
	case "M30":
		return 30 * time.Minute
	case "H1":
		return time.Hour
	case "H4":
		return 4 * time.Hour
	case "D1":
		return 24 * time.Hour
	default:
		return 15 * time.Minute
	}
}
