// Command server runs the exchange as a standalone process, exposing a
// demo wire facade over net/http + encoding/json in place of the real
// RPC transport. It exists so the module is runnable and testable
// end-to-end; production deployments are expected to sit a real
// transport in front of internal/exchange instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rishav/clob-exchange/internal/apperr"
	"github.com/rishav/clob-exchange/internal/config"
	"github.com/rishav/clob-exchange/internal/domain"
	"github.com/rishav/clob-exchange/internal/exchange"
	"github.com/rishav/clob-exchange/internal/fabric"
	"github.com/rishav/clob-exchange/internal/money"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; EXCHANGE_-prefixed env vars always override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.LogLevel))
	var logger zerolog.Logger
	if cfg.LogFormat == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	ex, err := exchange.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct exchange")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ex.Run(gctx) })

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      newMux(ex, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("demo wire facade listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("exchange stopped with error")
	}
	logger.Info().Msg("exchange stopped")
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// --- wire facade ---

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func newMux(ex *exchange.Exchange, logger zerolog.Logger) http.Handler {
	h := &handlers{ex: ex, log: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/account", h.getAccount)
	mux.HandleFunc("/account/increase", h.increase)
	mux.HandleFunc("/account/decrease", h.decrease)
	mux.HandleFunc("/order", h.placeOrder)
	mux.HandleFunc("/order/cancel", h.cancelOrder)
	mux.HandleFunc("/book", h.getOrderBook)
	mux.HandleFunc("/health", h.health)
	return mux
}

type handlers struct {
	ex  *exchange.Exchange
	log zerolog.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, envelope{Code: 0, Message: "ok"})
}

type balanceView struct {
	Currency  uint32 `json:"currency"`
	Value     string `json:"value"`
	Frozen    string `json:"frozen"`
	Available string `json:"available"`
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := parseUintQuery(w, r, "account_id")
	if !ok {
		return
	}
	var currencyID *uint32
	if raw := r.URL.Query().Get("currency_id"); raw != "" {
		v, ok := parseUint32(w, raw, "currency_id")
		if !ok {
			return
		}
		currencyID = &v
	}

	reply := make(chan fabric.AccountQueryReply, 1)
	msg := fabric.AccountQuery{AccountID: accountID, CurrencyID: currencyID, Reply: reply}
	if err := h.ex.Router.SendCommand(r.Context(), accountID, msg); err != nil {
		writeError(w, err)
		return
	}
	res := <-reply

	data := make(map[uint32]balanceView, len(res.Balances))
	for ccy, bal := range res.Balances {
		data[ccy] = balanceView{Currency: ccy, Value: bal.Total.String(), Frozen: bal.Frozen.String(), Available: bal.Available().String()}
	}
	writeJSON(w, envelope{Code: 0, Data: data})
}

type amountRequest struct {
	AccountID  uint64 `json:"account_id"`
	CurrencyID uint32 `json:"currency_id"`
	Amount     string `json:"amount"`
}

func (h *handlers) increase(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := money.ParsePositive("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	reply := make(chan fabric.BalanceReply, 1)
	msg := fabric.Credit{AccountID: req.AccountID, CurrencyID: req.CurrencyID, Amount: amount, Reply: reply}
	if err := h.ex.Router.SendCommand(r.Context(), req.AccountID, msg); err != nil {
		writeError(w, err)
		return
	}
	res := <-reply
	if res.Err != nil {
		writeError(w, res.Err)
		return
	}
	writeJSON(w, envelope{Code: 0, Data: balanceView{Currency: req.CurrencyID, Value: res.Balance.Total.String(), Frozen: res.Balance.Frozen.String(), Available: res.Balance.Available().String()}})
}

func (h *handlers) decrease(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := money.ParsePositive("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	reply := make(chan fabric.BalanceReply, 1)
	msg := fabric.Debit{AccountID: req.AccountID, CurrencyID: req.CurrencyID, Amount: amount, Reply: reply}
	if err := h.ex.Router.SendCommand(r.Context(), req.AccountID, msg); err != nil {
		writeError(w, err)
		return
	}
	res := <-reply
	if res.Err != nil {
		writeError(w, res.Err)
		return
	}
	writeJSON(w, envelope{Code: 0, Data: balanceView{Currency: req.CurrencyID, Value: res.Balance.Total.String(), Frozen: res.Balance.Frozen.String(), Available: res.Balance.Available().String()}})
}

type orderRequest struct {
	SymbolID  uint32 `json:"symbol_id"`
	AccountID uint64 `json:"account_id"`
	Type      string `json:"type"`
	Side      string `json:"side"`
	Price     string `json:"price,omitempty"`
	Quantity  string `json:"quantity,omitempty"`
	Volume    string `json:"volume,omitempty"`
	TakerRate string `json:"taker_rate,omitempty"`
	MakerRate string `json:"maker_rate,omitempty"`
}

func (h *handlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, err)
		return
	}
	orderType, err := parseOrderType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}

	var price, quantity, volume decimal.Decimal
	if req.Price != "" {
		if price, err = money.Parse("price", req.Price); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Quantity != "" {
		if quantity, err = money.Parse("quantity", req.Quantity); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Volume != "" {
		if volume, err = money.Parse("volume", req.Volume); err != nil {
			writeError(w, err)
			return
		}
	}
	takerRate, makerRate := decimal.Zero, decimal.Zero
	if req.TakerRate != "" {
		if takerRate, err = money.Parse("taker_rate", req.TakerRate); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.MakerRate != "" {
		if makerRate, err = money.Parse("maker_rate", req.MakerRate); err != nil {
			writeError(w, err)
			return
		}
	}

	reply := make(chan fabric.PlaceOrderReply, 1)
	msg := fabric.PlaceOrderRequest{
		AccountID: req.AccountID,
		SymbolID:  req.SymbolID,
		Side:      side,
		Type:      orderType,
		Price:     price,
		Quantity:  quantity,
		Volume:    volume,
		TakerRate: takerRate,
		MakerRate: makerRate,
		Reply:     reply,
	}
	if err := h.ex.Router.SendCommand(r.Context(), req.AccountID, msg); err != nil {
		writeError(w, err)
		return
	}
	res := <-reply
	if res.Err != nil {
		writeError(w, res.Err)
		return
	}
	writeJSON(w, envelope{Code: 0, Data: map[string]uint64{"id": res.OrderID}})
}

func (h *handlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	symbolID, ok := parseUint32Query(w, r, "symbol_id")
	if !ok {
		return
	}
	accountID, ok := parseUintQuery(w, r, "account_id")
	if !ok {
		return
	}
	orderID, ok := parseUintQuery(w, r, "order_id")
	if !ok {
		return
	}

	reply := make(chan fabric.CancelOrderReply, 1)
	msg := fabric.CancelOrderRequest{AccountID: accountID, SymbolID: symbolID, OrderID: orderID, Reply: reply}
	if err := h.ex.Router.SendCommand(r.Context(), accountID, msg); err != nil {
		writeError(w, err)
		return
	}
	res := <-reply
	if res.Err != nil {
		writeError(w, res.Err)
		return
	}
	writeJSON(w, envelope{Code: 0, Data: map[string]string{
		"order_id":          uintToString(res.OrderID),
		"cancelled_quantity": res.CancelledQty.String(),
		"refund_amount":      res.RefundAmount.String(),
	}})
}

func (h *handlers) getOrderBook(w http.ResponseWriter, r *http.Request) {
	symbolID, ok := parseUint32Query(w, r, "symbol_id")
	if !ok {
		return
	}
	levels := 20
	if raw := r.URL.Query().Get("levels"); raw != "" {
		v, ok := parseUint32(w, raw, "levels")
		if !ok {
			return
		}
		levels = int(v)
	}

	reply := make(chan fabric.SnapshotReply, 1)
	msg := fabric.Snapshot{SymbolID: symbolID, Levels: levels, Reply: reply}
	if err := h.ex.Router.SendToMatcher(r.Context(), symbolID, msg); err != nil {
		writeError(w, apperr.NotFoundf("unknown symbol %d", symbolID))
		return
	}
	res := <-reply
	if res.Err != nil {
		writeError(w, res.Err)
		return
	}

	data := map[string]any{
		"symbol_id": res.SymbolID,
		"bids":      levelViews(res.Bids),
		"asks":      levelViews(res.Asks),
		"spread":    res.Spread.String(),
		"timestamp": res.TimestampMS,
	}
	if res.BestBid != nil {
		data["best_bid"] = res.BestBid.String()
	}
	if res.BestAsk != nil {
		data["best_ask"] = res.BestAsk.String()
	}
	writeJSON(w, envelope{Code: 0, Data: data})
}

func levelViews(levels []fabric.LevelView) []map[string]string {
	out := make([]map[string]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, map[string]string{"price": l.Price.String(), "quantity": l.Quantity.String()})
	}
	return out
}

func parseSide(s string) (domain.Side, error) {
	switch s {
	case "BID", "bid", "0":
		return domain.SideBid, nil
	case "ASK", "ask", "1":
		return domain.SideAsk, nil
	default:
		return 0, apperr.Invalid("invalid side %q", s)
	}
}

func parseOrderType(s string) (domain.OrderType, error) {
	switch s {
	case "LIMIT", "limit", "0":
		return domain.OrderTypeLimit, nil
	case "MARKET", "market", "1":
		return domain.OrderTypeMarket, nil
	default:
		return 0, apperr.Invalid("invalid order type %q", s)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apperr.Invalid("malformed request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(env)
}

func writeError(w http.ResponseWriter, err error) {
	code := 500
	message := err.Error()
	if appErr, ok := apperr.As(err); ok {
		code = appErr.Code()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{Code: code, Message: message})
}

func parseUintQuery(w http.ResponseWriter, r *http.Request, key string) (uint64, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		writeError(w, apperr.Invalid("%s is required", key))
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, apperr.Invalid("invalid %s: %v", key, err))
		return 0, false
	}
	return v, true
}

func parseUint32Query(w http.ResponseWriter, r *http.Request, key string) (uint32, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		writeError(w, apperr.Invalid("%s is required", key))
		return 0, false
	}
	return parseUint32(w, raw, key)
}

func parseUint32(w http.ResponseWriter, raw, key string) (uint32, bool) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, apperr.Invalid("invalid %s: %v", key, err))
		return 0, false
	}
	return uint32(v), true
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
