// Package matcher implements the Matcher shard: the single-goroutine
// worker that owns a slice of order books (symbol_id mod M) and performs
// price-time priority matching.
//
// Adapted from the teacher's matching engine — the same walk-the-opposite-
// side-while-prices-cross loop, the same maker-price convention, the
// same FIFO-at-a-level tie-break — generalized from one global int64-
// cents engine to M independently owned shards operating on
// decimal.Decimal prices, and from a synchronous in-process settlement
// call to asynchronous settlement messages routed back to whichever
// Sequencer shard owns each side's account.
package matcher

import (
	"context"
	"time"

	"github.com/rishav/clob-exchange/internal/apperr"
	"github.com/rishav/clob-exchange/internal/domain"
	"github.com/rishav/clob-exchange/internal/fabric"
	"github.com/rishav/clob-exchange/internal/marketdata"
	"github.com/rishav/clob-exchange/internal/orderbook"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RiskFeedback is the optional post-trade hook fed by a Matcher after
// each fill it emits. risk.Checker satisfies this.
type RiskFeedback interface {
	UpdatePosition(accountID uint64, symbolID uint32, side domain.Side, quantity decimal.Decimal)
	SetReferencePrice(symbolID uint32, price decimal.Decimal)
}

// Shard is one Matcher worker, owning the order books with
// symbol_id mod ShardCount == ID.
type Shard struct {
	ID         int
	ShardCount int
	Symbols    map[uint32]domain.Symbol
	Router     *fabric.Router
	InCh       chan fabric.MatcherMessage
	MarketData *marketdata.Publisher // nil disables publication
	Risk       RiskFeedback          // nil disables the hook
	Log        zerolog.Logger

	books     map[uint32]*orderbook.OrderBook
	sequences map[uint32]uint64 // symbol -> next sequence number
	tradeSeq  uint64
}

// New creates a Matcher shard bound to the given inbound channel — this
// must be the same channel the Router was constructed with at this
// shard index — with one empty order book per symbol it owns.
func New(id, shardCount int, symbols map[uint32]domain.Symbol, router *fabric.Router, risk RiskFeedback, md *marketdata.Publisher, log zerolog.Logger, inCh chan fabric.MatcherMessage) *Shard {
	s := &Shard{
		ID:         id,
		ShardCount: shardCount,
		Symbols:    symbols,
		Router:     router,
		InCh:       inCh,
		MarketData: md,
		Risk:       risk,
		Log:        log.With().Int("shard_id", id).Str("role", "matcher").Logger(),
		books:      make(map[uint32]*orderbook.OrderBook),
		sequences:  make(map[uint32]uint64),
	}
	for symbolID := range symbols {
		if int(symbolID)%shardCount == id {
			s.books[symbolID] = orderbook.NewOrderBook(symbolID)
		}
	}
	return s
}

// Run drains the shard's single inbound channel until ctx is cancelled.
func (s *Shard) Run(ctx context.Context) error {
	s.Log.Info().Msg("matcher shard starting")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.InCh:
			s.handle(ctx, msg)
		}
	}
}

func (s *Shard) handle(ctx context.Context, msg fabric.MatcherMessage) {
	switch m := msg.(type) {
	case fabric.MatcherPlaceOrder:
		s.match(ctx, m.Order)
	case fabric.MatcherCancelRequest:
		m.Reply <- s.cancel(m.SymbolID, m.OrderID)
	case fabric.Snapshot:
		m.Reply <- s.snapshot(m.SymbolID, m.Levels)
	default:
		s.Log.Error().Type("message_type", msg).Msg("matcher received unknown message")
	}
}

func (s *Shard) book(symbolID uint32) *orderbook.OrderBook {
	return s.books[symbolID]
}

func (s *Shard) nextSequence(symbolID uint32) uint64 {
	s.sequences[symbolID]++
	return s.sequences[symbolID]
}

func (s *Shard) nextTradeID() uint64 {
	s.tradeSeq++
	return s.tradeSeq*uint64(s.ShardCount) + uint64(s.ID)
}

// match runs price-time priority matching for an incoming order against
// the resting book, emits a Trade and paired settlement messages for
// every fill, and either rests the LIMIT residual on the book or
// unfreezes the MARKET residual back to its owner.
func (s *Shard) match(ctx context.Context, incoming *domain.Order) {
	book := s.book(incoming.SymbolID)
	if book == nil {
		s.Log.Error().Uint32("symbol_id", incoming.SymbolID).Msg("matcher shard does not own this symbol")
		return
	}

	opposite := incoming.Side.Opposite()
	marketByVolume := incoming.Type == domain.OrderTypeMarket && incoming.Side == domain.SideBid

	for {
		if marketByVolume {
			if !incoming.Volume.IsPositive() {
				break
			}
		} else if !incoming.Quantity.IsPositive() {
			break
		}

		best := bestLevel(book, opposite)
		if best == nil {
			break
		}
		if incoming.Type == domain.OrderTypeLimit && !crosses(incoming, best.Price) {
			break
		}

		node := best.Head()
		restingOrder := node.Order
		price := best.Price // maker price

		var fillQty decimal.Decimal
		if marketByVolume {
			maxByVolume := incoming.Volume.Div(price)
			fillQty = decimal.Min(maxByVolume, restingOrder.Remaining())
		} else {
			fillQty = decimal.Min(incoming.Quantity, restingOrder.Remaining())
		}
		if !fillQty.IsPositive() {
			break
		}

		s.applyFill(ctx, best, incoming, restingOrder, price, fillQty, marketByVolume)

		if restingOrder.IsFilled() {
			restingOrder.State = domain.OrderStateFilled
			book.FillOrder(restingOrder.OrderID)
		} else {
			restingOrder.State = domain.OrderStatePartial
		}
	}

	s.publishL1(incoming.SymbolID, book)

	switch incoming.Type {
	case domain.OrderTypeLimit:
		s.restOrRefund(ctx, book, incoming)
	case domain.OrderTypeMarket:
		s.refundMarketResidual(ctx, incoming)
	}
}

// applyFill mutates both orders' remaining amounts, records the trade,
// and sends one settlement message to each side's owning Sequencer
// shard.
func (s *Shard) applyFill(ctx context.Context, level *orderbook.PriceLevel, incoming, resting *domain.Order, price, qty decimal.Decimal, marketByVolume bool) {
	resting.Quantity = resting.Quantity.Sub(qty)
	level.UpdateQuantity(qty.Neg())

	if marketByVolume {
		incoming.Volume = incoming.Volume.Sub(qty.Mul(price))
	} else {
		incoming.Quantity = incoming.Quantity.Sub(qty)
	}

	var buyOrderID, sellOrderID uint64
	var buyAccount, sellAccount uint64
	if incoming.Side == domain.SideBid {
		buyOrderID, buyAccount = incoming.OrderID, incoming.AccountID
		sellOrderID, sellAccount = resting.OrderID, resting.AccountID
	} else {
		buyOrderID, buyAccount = resting.OrderID, resting.AccountID
		sellOrderID, sellAccount = incoming.OrderID, incoming.AccountID
	}

	trade := domain.Trade{
		TradeID:      s.nextTradeID(),
		SymbolID:     incoming.SymbolID,
		Price:        price,
		Quantity:     qty,
		BuyOrderID:   buyOrderID,
		SellOrderID:  sellOrderID,
		BuyAccountID: buyAccount,
		SellAccount:  sellAccount,
		TakerSide:    incoming.Side,
		TimestampNS:  time.Now().UnixNano(),
	}

	if err := s.Router.SendSettlement(ctx, buyAccount, fabric.SettleTradeBuy{Trade: trade}); err != nil {
		s.Log.Error().Err(err).Uint64("trade_id", trade.TradeID).Msg("failed to deliver buy-side settlement")
	}
	if err := s.Router.SendSettlement(ctx, sellAccount, fabric.SettleTradeSell{Trade: trade}); err != nil {
		s.Log.Error().Err(err).Uint64("trade_id", trade.TradeID).Msg("failed to deliver sell-side settlement")
	}

	if s.Risk != nil {
		s.Risk.UpdatePosition(incoming.AccountID, incoming.SymbolID, incoming.Side, qty)
		s.Risk.UpdatePosition(resting.AccountID, incoming.SymbolID, incoming.Side.Opposite(), qty)
		s.Risk.SetReferencePrice(incoming.SymbolID, price)
	}

	if s.MarketData != nil {
		s.MarketData.PublishTrade(marketdata.TradeReport{
			TradeID:       trade.TradeID,
			SymbolID:      trade.SymbolID,
			Price:         trade.Price,
			Quantity:      trade.Quantity,
			AggressorSide: incoming.Side,
			TimestampNS:   trade.TimestampNS,
		})
	}
}

// restOrRefund handles a LIMIT order's post-matching remainder: rest it
// on the book if anything is left, otherwise mark it filled. A LIMIT
// order's frozen funds stay frozen while it rests; they are only
// unfrozen on cancel or consumed by a later fill's settlement.
func (s *Shard) restOrRefund(ctx context.Context, book *orderbook.OrderBook, order *domain.Order) {
	if order.IsFilled() {
		order.State = domain.OrderStateFilled
		book.Index(order)
		return
	}
	if order.Quantity.LessThan(order.Original) {
		order.State = domain.OrderStatePartial
	}
	order.SequenceNum = s.nextSequence(order.SymbolID)
	if err := book.AddOrder(order); err != nil {
		s.Log.Error().Err(err).Uint64("order_id", order.OrderID).Msg("failed to rest order on book")
	}
}

// refundMarketResidual returns a MARKET order's unmatched remainder to
// its owner: base-currency quantity for an ASK, quote-currency volume
// for a BID. MARKET orders never rest.
func (s *Shard) refundMarketResidual(ctx context.Context, order *domain.Order) {
	symbol, ok := s.Symbols[order.SymbolID]
	if !ok {
		return
	}
	if order.Side == domain.SideAsk {
		if order.Quantity.IsPositive() {
			s.sendUnfreeze(ctx, order.AccountID, symbol.BaseID, order.Quantity)
		}
		if order.IsFilled() {
			order.State = domain.OrderStateFilled
		} else {
			order.State = domain.OrderStatePartial
		}
		return
	}
	if order.Volume.IsPositive() {
		s.sendUnfreeze(ctx, order.AccountID, symbol.QuoteID, order.Volume)
	}
	if order.Volume.IsZero() {
		order.State = domain.OrderStateFilled
	} else {
		order.State = domain.OrderStatePartial
	}
}

func (s *Shard) sendUnfreeze(ctx context.Context, accountID uint64, currencyID uint32, amount decimal.Decimal) {
	msg := fabric.UnfreezeResidual{AccountID: accountID, CurrencyID: currencyID, Amount: amount}
	if err := s.Router.SendSettlement(ctx, accountID, msg); err != nil {
		s.Log.Error().Err(err).Uint64("account_id", accountID).Msg("failed to deliver residual unfreeze")
	}
}

// cancel removes a resting order from its book and reports enough detail
// for the owning Sequencer to compute a refund.
func (s *Shard) cancel(symbolID uint32, orderID uint64) fabric.CancelReply {
	book := s.book(symbolID)
	if book == nil {
		return fabric.CancelReply{Err: apperr.NotFoundf("unknown symbol %d", symbolID)}
	}
	order := book.GetOrder(orderID)
	if order == nil {
		return fabric.CancelReply{Found: false}
	}
	if order.State.IsTerminal() {
		return fabric.CancelReply{Found: true, AlreadyTerminal: true, OwnerAccountID: order.AccountID}
	}

	symbol := s.Symbols[symbolID]
	currencyID := symbol.QuoteID
	if order.Side == domain.SideAsk {
		currencyID = symbol.BaseID
	}

	cancelledQty := order.Quantity
	book.CancelOrder(orderID)
	order.State = domain.OrderStateCancelled

	return fabric.CancelReply{
		Found:          true,
		CancelledQty:   cancelledQty,
		Side:           order.Side,
		Price:          order.Price,
		CurrencyID:     currencyID,
		OwnerAccountID: order.AccountID,
	}
}

// snapshot renders a point-in-time depth view of a book.
func (s *Shard) snapshot(symbolID uint32, levels int) fabric.SnapshotReply {
	book := s.book(symbolID)
	if book == nil {
		return fabric.SnapshotReply{SymbolID: symbolID, Err: apperr.NotFoundf("unknown symbol %d", symbolID)}
	}

	// levels == 0 means zero depth rows, not "all levels" — GetBidDepth/
	// GetAskDepth's own <= 0 convention is for internal callers that want
	// the whole book; the wire-facing snapshot must return empty arrays.
	var bids, asks []fabric.LevelView
	if levels > 0 {
		bids = toLevelViews(book.GetBidDepth(levels))
		asks = toLevelViews(book.GetAskDepth(levels))
	} else {
		bids = []fabric.LevelView{}
		asks = []fabric.LevelView{}
	}

	reply := fabric.SnapshotReply{SymbolID: symbolID, Bids: bids, Asks: asks, Spread: book.GetSpread(), TimestampMS: time.Now().UnixMilli()}
	if best := book.GetBestBid(); best != nil {
		price := best.Price
		reply.BestBid = &price
	}
	if best := book.GetBestAsk(); best != nil {
		price := best.Price
		reply.BestAsk = &price
	}
	return reply
}

func (s *Shard) publishL1(symbolID uint32, book *orderbook.OrderBook) {
	if s.MarketData == nil {
		return
	}
	quote := marketdata.L1Quote{SymbolID: symbolID}
	if best := book.GetBestBid(); best != nil {
		quote.BidPrice = best.Price
	}
	if best := book.GetBestAsk(); best != nil {
		quote.AskPrice = best.Price
	}
	s.MarketData.PublishL1(quote)
}

func toLevelViews(levels []*orderbook.PriceLevel) []fabric.LevelView {
	out := make([]fabric.LevelView, 0, len(levels))
	for _, l := range levels {
		out = append(out, fabric.LevelView{Price: l.Price, Quantity: l.TotalQty})
	}
	return out
}

func bestLevel(book *orderbook.OrderBook, side domain.Side) *orderbook.PriceLevel {
	if side == domain.SideBid {
		return book.GetBestBid()
	}
	return book.GetBestAsk()
}

// crosses reports whether a LIMIT order's price is aggressive enough to
// match the opposite side's best resting price.
func crosses(incoming *domain.Order, restingPrice decimal.Decimal) bool {
	if incoming.Side == domain.SideBid {
		return incoming.Price.GreaterThanOrEqual(restingPrice)
	}
	return incoming.Price.LessThanOrEqual(restingPrice)
}
