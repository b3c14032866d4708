// Package notify sends one-way ops alerts to Telegram: position opens,
// closes, rejections, and kill-switch events. There is no inbound
// approval loop — this engine auto-executes once a signal clears the
// dispatcher's and orchestrator's gates, rather than waiting on a human
// tap to confirm or discard it.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Notifier posts Markdown-formatted alerts to one chat. A nil *Notifier
// is valid and every method becomes a no-op, so notifications can be
// disabled outright by leaving the bot token unset.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// New initializes the bot from token/chatID. An empty token disables
// notifications (nil, nil) rather than erroring, so local/dev runs work
// without a bot configured.
func New(token string, chatID int64, log zerolog.Logger) (*Notifier, error) {
	if token == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Notifier{
		bot:    bot,
		chatID: chatID,
		log:    log.With().Str("component", "notify").Logger(),
	}, nil
}

func (n *Notifier) send(msg string) {
	if n == nil || n.bot == nil || n.chatID == 0 {
		return
	}
	go func() {
		cfg := tgbotapi.NewMessage(n.chatID, msg)
		cfg.ParseMode = "Markdown"
		if _, err := n.bot.Send(cfg); err != nil {
			n.log.Warn().Err(err).Msg("telegram send failed")
		}
	}()
}

// PositionOpened announces a new twin-leg entry.
func (n *Notifier) PositionOpened(userID, symbol, side, kind string, entry, stop, tp1, tp2, qty float64) {
	n.send(fmt.Sprintf(
		"🚀 *POSITION OPENED*\nUser: %s\nSymbol: %s | Side: %s | Signal: %s\nEntry: %.4f | Stop: %.4f\nTP1: %.4f | TP2: %.4f | Qty: %.4f",
		userID, symbol, side, kind, entry, stop, tp1, tp2, qty))
}

// PositionClosed announces an exit with its reason (tp, stop, breakeven,
// climax, weekend, manual).
func (n *Notifier) PositionClosed(userID, symbol, reason string, exitPrice, pnl float64) {
	icon := "✅"
	if pnl < 0 {
		icon = "🛑"
	}
	n.send(fmt.Sprintf("%s *POSITION CLOSED*\nUser: %s\nSymbol: %s | Reason: %s\nExit: %.4f | PnL: %.2f",
		icon, userID, symbol, reason, exitPrice, pnl))
}

// SignalRejected reports a dropped signal when the reason is operationally
// interesting (broker error, sizing failure) rather than routine gating.
func (n *Notifier) SignalRejected(userID, kind, reason string) {
	n.send(fmt.Sprintf("⚠️ *SIGNAL REJECTED*\nUser: %s\nSignal: %s\nReason: %s", userID, kind, reason))
}

// KillSwitch announces an emergency stop or daily-loss shutdown.
func (n *Notifier) KillSwitch(userID, reason string) {
	n.send(fmt.Sprintf("🛑 *KILL SWITCH*\nUser: %s\nReason: %s\nCancelling orders, closing positions.", userID, reason))
}

// Notify sends a free-form operational message (startup, credentials
// error, reconnect exhausted).
func (n *Notifier) Notify(msg string) {
	n.send(msg)
}
