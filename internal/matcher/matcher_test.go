package matcher

import (
	"context"
	"testing"

	"github.com/rishav/clob-exchange/internal/domain"
	"github.com/rishav/clob-exchange/internal/fabric"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestShard builds a single Matcher shard with its own settlement
// channel so tests can observe SettleTradeBuy/SettleTradeSell/
// UnfreezeResidual messages without a live Sequencer.
func newTestShard(t *testing.T) (*Shard, chan fabric.SettlementMessage) {
	t.Helper()
	symbols := map[uint32]domain.Symbol{1: {SymbolID: 1, BaseID: 1, QuoteID: 2}}
	settleCh := make(chan fabric.SettlementMessage, 16)
	router := fabric.NewRouter(
		[]chan fabric.CommandMessage{make(chan fabric.CommandMessage, 1)},
		[]chan fabric.SettlementMessage{settleCh},
		[]chan fabric.MatcherMessage{make(chan fabric.MatcherMessage, 1)},
	)
	shard := New(0, 1, symbols, router, nil, nil, zerolog.Nop(), make(chan fabric.MatcherMessage, 1))
	return shard, settleCh
}

// fakeRiskFeedback records the calls a Matcher makes after each fill, so
// tests can assert the hook actually fires instead of sitting inert.
type fakeRiskFeedback struct {
	positions       []fakePositionUpdate
	referencePrices map[uint32]decimal.Decimal
}

type fakePositionUpdate struct {
	accountID uint64
	symbolID  uint32
	side      domain.Side
	quantity  decimal.Decimal
}

func newFakeRiskFeedback() *fakeRiskFeedback {
	return &fakeRiskFeedback{referencePrices: make(map[uint32]decimal.Decimal)}
}

func (f *fakeRiskFeedback) UpdatePosition(accountID uint64, symbolID uint32, side domain.Side, quantity decimal.Decimal) {
	f.positions = append(f.positions, fakePositionUpdate{accountID, symbolID, side, quantity})
}

func (f *fakeRiskFeedback) SetReferencePrice(symbolID uint32, price decimal.Decimal) {
	f.referencePrices[symbolID] = price
}

func limitOrder(id uint64, accountID uint64, side domain.Side, price, qty string) *domain.Order {
	return &domain.Order{
		OrderID: id, AccountID: accountID, SymbolID: 1, Side: side, Type: domain.OrderTypeLimit,
		Price: d(price), Quantity: d(qty), Original: d(qty), State: domain.OrderStateNew,
	}
}

func TestMatch_LimitBid_NoOppositeLiquidity_RestsOnBook(t *testing.T) {
	s, settleCh := newTestShard(t)
	order := limitOrder(1, 1, domain.SideBid, "50000", "1.0")

	s.match(context.Background(), order)

	best := s.book(1).GetBestBid()
	require.NotNil(t, best)
	assert.True(t, best.Price.Equal(d("50000")))
	assert.Equal(t, domain.OrderStateNew, order.State)
	assert.Empty(t, settleCh)
}

func TestMatch_CrossingLimitOrders_EmitsTradeAndSettlesBothSides(t *testing.T) {
	s, settleCh := newTestShard(t)
	bid := limitOrder(1, 1, domain.SideBid, "50000", "1.0")
	s.match(context.Background(), bid)

	ask := limitOrder(2, 2, domain.SideAsk, "50000", "1.0")
	s.match(context.Background(), ask)

	assert.Nil(t, s.book(1).GetBestBid())
	assert.Nil(t, s.book(1).GetBestAsk())
	assert.True(t, ask.IsFilled())
	assert.True(t, bid.IsFilled())

	var sawBuy, sawSell bool
	for i := 0; i < 2; i++ {
		msg := <-settleCh
		switch m := msg.(type) {
		case fabric.SettleTradeBuy:
			sawBuy = true
			assert.Equal(t, uint64(1), m.Trade.BuyAccountID)
			assert.True(t, m.Trade.Price.Equal(d("50000")))
			assert.True(t, m.Trade.Quantity.Equal(d("1.0")))
		case fabric.SettleTradeSell:
			sawSell = true
			assert.Equal(t, uint64(2), m.Trade.SellAccount)
		default:
			t.Fatalf("unexpected settlement message %T", msg)
		}
	}
	assert.True(t, sawBuy)
	assert.True(t, sawSell)
}

func TestMatch_TradePrice_IsMakerPrice(t *testing.T) {
	s, settleCh := newTestShard(t)
	// resting bid at 50000 is the maker; aggressive ask at 49000 crosses it
	s.match(context.Background(), limitOrder(1, 1, domain.SideBid, "50000", "1.0"))
	s.match(context.Background(), limitOrder(2, 2, domain.SideAsk, "49000", "1.0"))

	msg := <-settleCh
	buy, ok := msg.(fabric.SettleTradeBuy)
	require.True(t, ok)
	assert.True(t, buy.Trade.Price.Equal(d("50000")), "trade price must be the resting maker's price")
}

func TestMatch_PartialFill_RestOfMakerStaysOnBook(t *testing.T) {
	s, _ := newTestShard(t)
	s.match(context.Background(), limitOrder(1, 1, domain.SideBid, "50000", "2.0"))
	s.match(context.Background(), limitOrder(2, 2, domain.SideAsk, "50000", "1.0"))

	best := s.book(1).GetBestBid()
	require.NotNil(t, best)
	assert.True(t, best.Price.Equal(d("50000")))
	assert.True(t, best.TotalQty.Equal(d("1.0")))
}

func TestMatch_FIFOWithinPriceLevel(t *testing.T) {
	s, settleCh := newTestShard(t)
	s.match(context.Background(), limitOrder(1, 1, domain.SideBid, "50000", "1.0"))
	s.match(context.Background(), limitOrder(2, 2, domain.SideBid, "50000", "1.0"))

	// a single aggressive ask for 1.0 should match the FIRST resting bid
	s.match(context.Background(), limitOrder(3, 3, domain.SideAsk, "50000", "1.0"))

	msg := <-settleCh
	buy, ok := msg.(fabric.SettleTradeBuy)
	require.True(t, ok)
	assert.Equal(t, uint64(1), buy.Trade.BuyOrderID, "earlier-arrived resting order must fill first")

	best := s.book(1).GetBestBid()
	require.NotNil(t, best)
	assert.Equal(t, 1, best.Count())
}

func TestMatch_MarketAsk_NeverRests(t *testing.T) {
	s, settleCh := newTestShard(t)
	order := &domain.Order{
		OrderID: 1, AccountID: 1, SymbolID: 1, Side: domain.SideAsk, Type: domain.OrderTypeMarket,
		Quantity: d("1.0"), Original: d("1.0"), State: domain.OrderStateNew,
	}
	s.match(context.Background(), order)

	assert.Nil(t, s.book(1).GetBestAsk())
	assert.Equal(t, domain.OrderStatePartial, order.State)

	msg := <-settleCh
	unfreeze, ok := msg.(fabric.UnfreezeResidual)
	require.True(t, ok)
	assert.Equal(t, uint32(1), unfreeze.CurrencyID) // base currency
	assert.True(t, unfreeze.Amount.Equal(d("1.0")))
}

func TestMatch_MarketBidByVolume_StopsAtVolume(t *testing.T) {
	s, settleCh := newTestShard(t)
	s.match(context.Background(), limitOrder(1, 1, domain.SideAsk, "50000", "2.0"))

	marketBid := &domain.Order{
		OrderID: 2, AccountID: 2, SymbolID: 1, Side: domain.SideBid, Type: domain.OrderTypeMarket,
		Volume: d("50000"), Original: d("50000"), State: domain.OrderStateNew,
	}
	s.match(context.Background(), marketBid)

	assert.True(t, marketBid.IsFilled() || marketBid.Volume.IsZero())
	best := s.book(1).GetBestAsk()
	require.NotNil(t, best, "only half the resting ask should have been consumed")
	assert.True(t, best.TotalQty.Equal(d("1.0")))

	msg := <-settleCh
	_, ok := msg.(fabric.SettleTradeBuy)
	require.True(t, ok)
}

func TestCancel_RemovesFromBookAndReportsRefundBasis(t *testing.T) {
	s, _ := newTestShard(t)
	s.match(context.Background(), limitOrder(1, 1, domain.SideBid, "50000", "1.0"))

	reply := s.cancel(1, 1)
	require.True(t, reply.Found)
	assert.False(t, reply.AlreadyTerminal)
	assert.True(t, reply.CancelledQty.Equal(d("1.0")))
	assert.Equal(t, uint32(2), reply.CurrencyID) // quote, since it was a BID
	assert.Nil(t, s.book(1).GetBestBid())
}

func TestCancel_NotFound(t *testing.T) {
	s, _ := newTestShard(t)
	reply := s.cancel(1, 999)
	assert.False(t, reply.Found)
}

func TestCancel_AlreadyTerminal(t *testing.T) {
	s, _ := newTestShard(t)
	s.match(context.Background(), limitOrder(1, 1, domain.SideBid, "50000", "1.0"))
	s.match(context.Background(), limitOrder(2, 2, domain.SideAsk, "50000", "1.0")) // fully fills order 1

	reply := s.cancel(1, 1)
	require.True(t, reply.Found)
	assert.True(t, reply.AlreadyTerminal)
}

func TestMatch_Fill_FeedsRiskHookBothSidesAndReferencePrice(t *testing.T) {
	s, _ := newTestShard(t)
	risk := newFakeRiskFeedback()
	s.Risk = risk

	s.match(context.Background(), limitOrder(1, 1, domain.SideBid, "50000", "1.0"))
	s.match(context.Background(), limitOrder(2, 2, domain.SideAsk, "50000", "1.0"))

	require.Len(t, risk.positions, 2)
	assert.Equal(t, fakePositionUpdate{accountID: 2, symbolID: 1, side: domain.SideAsk, quantity: d("1.0")}, risk.positions[0])
	assert.Equal(t, fakePositionUpdate{accountID: 1, symbolID: 1, side: domain.SideBid, quantity: d("1.0")}, risk.positions[1])
	require.Contains(t, risk.referencePrices, uint32(1))
	assert.True(t, risk.referencePrices[1].Equal(d("50000")))
}

func TestMatch_NoFill_LeavesRiskHookUntouched(t *testing.T) {
	s, _ := newTestShard(t)
	risk := newFakeRiskFeedback()
	s.Risk = risk

	s.match(context.Background(), limitOrder(1, 1, domain.SideBid, "50000", "1.0"))

	assert.Empty(t, risk.positions)
	assert.Empty(t, risk.referencePrices)
}

func TestSnapshot_AggregatesQuantityPerLevel(t *testing.T) {
	s, _ := newTestShard(t)
	s.match(context.Background(), limitOrder(1, 1, domain.SideBid, "50000", "1.0"))
	s.match(context.Background(), limitOrder(2, 2, domain.SideBid, "50000", "0.5"))
	s.match(context.Background(), limitOrder(3, 3, domain.SideAsk, "50100", "2.0"))

	snap := s.snapshot(1, 10)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Quantity.Equal(d("1.5")))
	require.NotNil(t, snap.BestBid)
	assert.True(t, snap.BestBid.Equal(d("50000")))
	require.NotNil(t, snap.BestAsk)
	assert.True(t, snap.Spread.Equal(d("100")))
}

func TestSnapshot_IsIdempotentAbsentMutation(t *testing.T) {
	s, _ := newTestShard(t)
	s.match(context.Background(), limitOrder(1, 1, domain.SideBid, "50000", "1.0"))

	first := s.snapshot(1, 10)
	second := s.snapshot(1, 10)
	assert.Equal(t, first.Bids, second.Bids)
	assert.Equal(t, first.Asks, second.Asks)
	assert.Equal(t, *first.BestBid, *second.BestBid)
}

func TestSnapshot_ZeroLevels_ReturnsEmptyArraysButValidBest(t *testing.T) {
	s, _ := newTestShard(t)
	s.match(context.Background(), limitOrder(1, 1, domain.SideBid, "50000", "1.0"))

	snap := s.snapshot(1, 0)
	assert.Empty(t, snap.Bids)
	require.NotNil(t, snap.BestBid)
	assert.True(t, snap.BestBid.Equal(d("50000")))
}
