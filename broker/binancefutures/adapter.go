// Package binancefutures implements engine.BrokerAdapter against Binance
// USDT-M perpetual futures: order placement and position-risk polling via
// *futures.Client, and a raw gorilla/websocket combined-stream reader for
// the bar/trade feeds with jpillora/backoff-driven reconnects.
package binancefutures

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/brookscore/tradingcore/engine"
)

// clientOrderPrefix tags every order this engine places so a restart can
// recognise its own resting orders among anything placed manually or by
// another process on the same account.
const clientOrderPrefix = "bcore"

// Adapter implements engine.BrokerAdapter for a single Binance futures
// account. One Adapter is shared by every per-user Orchestrator/
// PositionManager that trades the same account and symbol set.
type Adapter struct {
	client *futures.Client
	log zerolog.Logger
	testnet bool
}

// NewAdapter builds a client bound to apiKey/secretKey. When testnet is
// true, futures.UseTestnet is flipped process-wide.
func NewAdapter(apiKey, secretKey string, testnet bool, log zerolog.Logger) *Adapter {
	if testnet {
		futures.UseTestnet = true
	}
	return &Adapter{
		client: futures.NewClient(apiKey, secretKey),
		log: log.With().Str("component", "broker_binancefutures").Logger(),
		testnet: testnet,
	}
}

// klineInterval maps the engine's timeframe strings ("M1", "M5",...) to
// Binance's kline interval tokens.
func klineInterval(timeframe string) string {
	switch strings.ToUpper(timeframe) {
	case "M1":
		return "1m"
	case "M5":
		return "5m"
	case "M15":
		return "15m"
	case "M30":
		return "30m"
	case "H1":
		return "1h"
	case "H4":
		return "4h"
	case "D1":
		return "1d"
	default:
		return strings.ToLower(timeframe)
	}
}

type wsKlineEvent struct {
	Kline struct {
		OpenTime int64 `json:"t"`
		Open string `json:"o"`
		High string `json:"h"`
		Low string `json:"l"`
		Close string `json:"c"`
		Volume string `json:"v"`
		Closed bool `json:"x"`
	} `json:"k"`
}

// StreamBars dials the continuous kline stream and emits one engine.Bar per
// closed candle, reconnecting with jpillora/backoff on any read/dial error.
func (a *Adapter) StreamBars(ctx context.Context, symbol, timeframe string) (<-chan engine.Bar, error) {
	out := make(chan engine.Bar, 64)
	stream := fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), klineInterval(timeframe))
	go a.runStream(ctx, stream, func(raw []byte) {
			var ev wsKlineEvent
			if err := json.Unmarshal(raw, &ev); err != nil || !ev.Kline.Closed {
				return
			}
			open, _ := strconv.ParseFloat(ev.Kline.Open, 64)
			high, _ := strconv.ParseFloat(ev.Kline.High, 64)
			low, _ := strconv.ParseFloat(ev.Kline.Low, 64)
			cls, _ := strconv.ParseFloat(ev.Kline.Close, 64)
			vol, _ := strconv.ParseFloat(ev.Kline.Volume, 64)
			bar := engine.Bar{
				OpenTime: time.UnixMilli(ev.Kline.OpenTime).UTC(),
				Open: open, High: high, Low: low, Close: cls, Volume: vol,
			}
			select {
			case out <- bar:
			default:
				a.log.Warn().Str("symbol", symbol).Msg("bar channel full, dropping closed bar")
			}
	})
	return out, nil
}

type wsAggTradeEvent struct {
	Price string `json:"p"`
	Qty string `json:"q"`
	TradeTime int64 `json:"T"`
	BuyerIsMaker bool `json:"m"`
}

// StreamTrades dials the aggTrade stream for the order-flow analyser.
func (a *Adapter) StreamTrades(ctx context.Context, symbol string) (<-chan engine.Trade, error) {
	out := make(chan engine.Trade, 1024)
	stream := fmt.Sprintf("%s@aggTrade", strings.ToLower(symbol))
	go a.runStream(ctx, stream, func(raw []byte) {
			var ev wsAggTradeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return
			}
			price, _ := strconv.ParseFloat(ev.Price, 64)
			qty, _ := strconv.ParseFloat(ev.Qty, 64)
			t := engine.Trade{
				Price: price, Qty: qty, BuyerIsMaker: ev.BuyerIsMaker,
				Time: time.UnixMilli(ev.TradeTime).UTC(),
			}
			select {
			case out <- t:
			default:
				a.log.Warn().Str("symbol", symbol).Msg("trade channel full, dropping trade")
			}
	})
	return out, nil
}

// runStream implements the reconnect-with-backoff loop shared by every
// websocket stream this adapter opens.
func (a *Adapter) runStream(ctx context.Context, stream string, handle func([]byte)) {
	b := engine.StreamBackoff()
	wsURL := "wss://fstream.binance.com/ws/" + url.PathEscape(stream)
	if a.testnet {
		wsURL = "wss://stream.binancefuture.com/ws/" + url.PathEscape(stream)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			d := b.Duration()
			a.log.Warn().Err(err).Str("stream", stream).Dur("retry_in", d).Msg("stream dial failed")
			time.Sleep(d)
			continue
		}
		b.Reset()

		readErr := make(chan error, 1)
		go func() {
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					readErr <- err
					return
				}
				handle(msg)
			}
		}()

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case err := <-readErr:
			a.log.Warn().Err(err).Str("stream", stream).Msg("stream read error, reconnecting")
			_ = conn.Close()
			time.Sleep(b.Duration())
		}
	}
}

func sideOf(s engine.Side) futures.SideType {
	if s == engine.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func magicOrderID(magic engine.Magic) string {
	return fmt.Sprintf("%s-%s-%d", clientOrderPrefix, magic.String(), time.Now().UnixNano())
}

// PlaceMarket submits a taker entry, used when the signal's EntryPlan
// requests immediate fill over price precision.
func (a *Adapter) PlaceMarket(ctx context.Context, userID string, side engine.Side, qty float64, magic engine.Magic) (engine.OrderID, error) {
	res, err := a.client.NewCreateOrderService().
	Symbol(userSymbol(ctx)).
	Side(sideOf(side)).
	Type(futures.OrderTypeMarket).
	Quantity(trimFloat(qty)).
	NewClientOrderID(magicOrderID(magic)).
	Do(ctx)
	if err != nil {
		return "", engine.NewBrokerError("place_market", engine.KindOf(err), err)
	}
	return engine.OrderID(strconv.FormatInt(res.OrderID, 10)), nil
}

// PlaceStop submits a STOP_MARKET entry that triggers at stopPrice. The
// accompanying sl/tp are not attached here — Binance futures has no
// bracket-order primitive — and this method does not place them. A
// stop-loss reaches the exchange only through ModifyPosition, which
// PositionManager.AdoptFill calls after a fill when hard stops are enabled
// and the recomputed hard stop is tighter.
func (a *Adapter) PlaceStop(ctx context.Context, userID string, side engine.Side, stopPrice, qty float64, expiry time.Time, sl, tp float64, magic engine.Magic) (engine.OrderID, error) {
	res, err := a.client.NewCreateOrderService().
	Symbol(userSymbol(ctx)).
	Side(sideOf(side)).
	Type(futures.OrderTypeStopMarket).
	StopPrice(trimFloat(stopPrice)).
	Quantity(trimFloat(qty)).
	WorkingType(futures.WorkingTypeMarkPrice).
	NewClientOrderID(magicOrderID(magic)).
	Do(ctx)
	if err != nil {
		return "", engine.NewBrokerError("place_stop", engine.KindOf(err), err)
	}
	return engine.OrderID(strconv.FormatInt(res.OrderID, 10)), nil
}

// PlaceLimit submits a post-only-style maker entry using Binance's GTX
// time-in-force; the book-offset pricing itself is computed upstream by
// the caller, this method places the already-offset price.
func (a *Adapter) PlaceLimit(ctx context.Context, userID string, side engine.Side, price, qty, sl, tp float64, magic engine.Magic) (engine.OrderID, error) {
	res, err := a.client.NewCreateOrderService().
	Symbol(userSymbol(ctx)).
	Side(sideOf(side)).
	Type(futures.OrderTypeLimit).
	TimeInForce(futures.TimeInForceTypeGTX).
	Price(trimFloat(price)).
	Quantity(trimFloat(qty)).
	NewClientOrderID(magicOrderID(magic)).
	Do(ctx)
	if err != nil {
		return "", engine.NewBrokerError("place_limit", engine.KindOf(err), err)
	}
	return engine.OrderID(strconv.FormatInt(res.OrderID, 10)), nil
}

// ModifyPosition cancels this position's resting SL/TP orders (identified
// by the bcore-prefixed ClientOrderID) and re-places them at sl/tp.
func (a *Adapter) ModifyPosition(ctx context.Context, userID, positionID string, sl, tp float64) error {
	symbol := userSymbol(ctx)
	openOrders, err := a.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err == nil {
		for _, o := range openOrders {
			if o.ClientOrderID == clientOrderPrefix+"-sl" || o.ClientOrderID == clientOrderPrefix+"-tp" {
				_, _ = a.client.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx)
			}
		}
	}

	posRisk, err := a.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return engine.NewBrokerError("modify_position", engine.KindOf(err), err)
	}
	var amt float64
	for _, p := range posRisk {
		v, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if v != 0 {
			amt = v
			break
		}
	}
	if amt == 0 {
		return nil
	}
	closeSide := futures.SideTypeSell
	if amt < 0 {
		closeSide = futures.SideTypeBuy
	}
	qty := trimFloat(absFloat(amt))

	if sl != 0 {
		if _, err := a.client.NewCreateOrderService().
		Symbol(symbol).Side(closeSide).Type(futures.OrderTypeStopMarket).
		StopPrice(trimFloat(sl)).Quantity(qty).ReduceOnly(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		NewClientOrderID(clientOrderPrefix + "-sl").Do(ctx); err != nil {
			return engine.NewBrokerError("modify_position_sl", engine.KindOf(err), err)
		}
	}
	if tp != 0 {
		if _, err := a.client.NewCreateOrderService().
		Symbol(symbol).Side(closeSide).Type(futures.OrderTypeTakeProfitMarket).
		StopPrice(trimFloat(tp)).Quantity(qty).ReduceOnly(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		NewClientOrderID(clientOrderPrefix + "-tp").Do(ctx); err != nil {
			a.log.Warn().Err(err).Msg("tp order failed, position still protected by sl")
		}
	}
	return nil
}

// ClosePosition flattens the entire resting position at market.
func (a *Adapter) ClosePosition(ctx context.Context, userID, positionID string) error {
	symbol := userSymbol(ctx)
	posRisk, err := a.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return engine.NewBrokerError("close_position", engine.KindOf(err), err)
	}
	var amt float64
	for _, p := range posRisk {
		v, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if v != 0 {
			amt = v
			break
		}
	}
	if amt == 0 {
		return nil
	}
	return a.closeAmount(ctx, symbol, amt)
}

// ClosePartial reduces the position by qty at market (TP1 scalp exit).
func (a *Adapter) ClosePartial(ctx context.Context, userID, positionID string, qty float64) error {
	symbol := userSymbol(ctx)
	posRisk, err := a.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return engine.NewBrokerError("close_partial", engine.KindOf(err), err)
	}
	var sign float64 = 1
	for _, p := range posRisk {
		v, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if v != 0 {
			if v < 0 {
				sign = -1
			}
			break
		}
	}
	return a.closeAmount(ctx, symbol, sign*qty)
}

func (a *Adapter) closeAmount(ctx context.Context, symbol string, signedQty float64) error {
	closeSide := futures.SideTypeSell
	if signedQty < 0 {
		closeSide = futures.SideTypeBuy
	}
	_, err := a.client.NewCreateOrderService().
	Symbol(symbol).Side(closeSide).Type(futures.OrderTypeMarket).
	Quantity(trimFloat(absFloat(signedQty))).ReduceOnly(true).Do(ctx)
	if err != nil {
		return engine.NewBrokerError("close_amount", engine.KindOf(err), err)
	}
	return nil
}

// CancelOrder cancels a single resting order by id.
func (a *Adapter) CancelOrder(ctx context.Context, userID string, orderID engine.OrderID) error {
	id, err := strconv.ParseInt(string(orderID), 10, 64)
	if err != nil {
		return engine.NewBrokerError("cancel_order", engine.ErrorKindReject, err)
	}
	_, err = a.client.NewCancelOrderService().Symbol(userSymbol(ctx)).OrderID(id).Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Unknown order") {
			return nil
		}
		return engine.NewBrokerError("cancel_order", engine.KindOf(err), err)
	}
	return nil
}

// ListPositions re-reads Binance's position-risk endpoint. In
// Binance's one-way position mode there is a single netted exchange
// position per symbol; the twin Scalp/Runner split is tracked client-side
// by PositionManager, not reflected in Magic here.
func (a *Adapter) ListPositions(ctx context.Context, userID string, magicFilter []engine.Magic) ([]engine.PositionInfo, error) {
	symbol := userSymbol(ctx)
	posRisk, err := a.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, engine.NewBrokerError("list_positions", engine.KindOf(err), err)
	}
	var out []engine.PositionInfo
	for _, p := range posRisk {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		side := engine.SideBuy
		if amt < 0 {
			side = engine.SideSell
		}
		out = append(out, engine.PositionInfo{
				PositionID: symbol, Side: side, EntryPrice: entry, Volume: absFloat(amt),
		})
	}
	return out, nil
}

// ListPendingOrders returns resting bcore-tagged orders.
func (a *Adapter) ListPendingOrders(ctx context.Context, userID string, magicFilter []engine.Magic) ([]engine.PendingOrderInfo, error) {
	symbol := userSymbol(ctx)
	openOrders, err := a.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, engine.NewBrokerError("list_pending_orders", engine.KindOf(err), err)
	}
	var out []engine.PendingOrderInfo
	for _, o := range openOrders {
		if !strings.HasPrefix(o.ClientOrderID, clientOrderPrefix) {
			continue
		}
		side := engine.SideBuy
		if o.Side == futures.SideTypeSell {
			side = engine.SideSell
		}
		price, _ := strconv.ParseFloat(o.StopPrice, 64)
		magic := engine.MagicRunner
		if strings.Contains(o.ClientOrderID, "scalp") {
			magic = engine.MagicScalp
		}
		out = append(out, engine.PendingOrderInfo{
				OrderID: engine.OrderID(strconv.FormatInt(o.OrderID, 10)), Side: side,
				StopPrice: price, Magic: magic, SubmittedAt: time.UnixMilli(o.Time).UTC(),
		})
	}
	return out, nil
}

// SymbolInfo loads exchange precision/limit filters, grounded on
// FetchExchangeInfo's PRICE_FILTER/LOT_SIZE/MIN_NOTIONAL parsing.
func (a *Adapter) SymbolInfo(ctx context.Context, symbol string) (engine.SymbolInfo, error) {
	info, err := a.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return engine.SymbolInfo{}, engine.NewBrokerError("symbol_info", engine.KindOf(err), err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		out := engine.SymbolInfo{TickSize: 0.01, StepSize: 0.001}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				out.TickSize, _ = strconv.ParseFloat(f["tickSize"].(string), 64)
			case "LOT_SIZE":
				out.StepSize, _ = strconv.ParseFloat(f["stepSize"].(string), 64)
				out.MinQty, _ = strconv.ParseFloat(f["minQty"].(string), 64)
			case "MIN_NOTIONAL":
				out.MinNotional, _ = strconv.ParseFloat(f["notional"].(string), 64)
			}
		}
		return out, nil
	}
	return engine.SymbolInfo{}, engine.ErrSymbolInfoUnavailable
}

// AccountBalance reads the available USDT balance from the account's
// asset list.
func (a *Adapter) AccountBalance(ctx context.Context, userID string) (float64, error) {
	res, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, engine.NewBrokerError("account_balance", engine.KindOf(err), err)
	}
	for _, b := range res.Assets {
		if b.Asset == "USDT" {
			v, _ := strconv.ParseFloat(b.AvailableBalance, 64)
			return v, nil
		}
	}
	return 0, nil
}

// BestBidAsk reads top-of-book, used for spread/slippage checks.
func (a *Adapter) BestBidAsk(ctx context.Context, symbol string) (float64, float64, error) {
	tick, err := a.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil || len(tick) == 0 {
		return 0, 0, engine.NewBrokerError("best_bid_ask", engine.KindOf(err), err)
	}
	bid, _ := strconv.ParseFloat(tick[0].BidPrice, 64)
	ask, _ := strconv.ParseFloat(tick[0].AskPrice, 64)
	return bid, ask, nil
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// userSymbol resolves the instrument symbol this adapter trades from ctx.
// The engine is scoped to a single perpetual-futures instrument per
// running process, so the symbol travels on the context set once at
// startup rather than per user.
func userSymbol(ctx context.Context) string {
	if v, ok := ctx.Value(symbolCtxKey{}).(string); ok {
		return v
	}
	return ""
}

type symbolCtxKey struct{}

// WithSymbol attaches the traded symbol to ctx for every BrokerAdapter
// call in this package.
func WithSymbol(ctx context.Context, symbol string) context.Context {
	return context.WithValue(ctx, symbolCtxKey{}, symbol)
}
