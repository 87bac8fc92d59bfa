package sequencer

import (
	"context"
	"testing"

	"github.com/rishav/clob-exchange/internal/apperr"
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

// newTestShard builds a single Sequencer shard wired to a Router whose
// Matcher side is a single unbuffered-enough channel the test can drain
// manually, so PlaceOrder's forward-to-Matcher step never blocks.
func newTestShard(t *testing.T) (*Shard, *fabric.Router, chan fabric.MatcherMessage) {
	t.Helper()
	symbols := map[uint32]domain.Symbol{1: {SymbolID: 1, BaseID: 1, QuoteID: 2}}
	cmdCh := make(chan fabric.CommandMessage, 16)
	settleCh := make(chan fabric.SettlementMessage, 16)
	matcherCh := make(chan fabric.MatcherMessage, 16)
	router := fabric.NewRouter(
		[]chan fabric.CommandMessage{cmdCh},
		[]chan fabric.SettlementMessage{settleCh},
		[]chan fabric.MatcherMessage{matcherCh},
	)
	shard := New(0, 1, symbols, router, nil, zerolog.Nop(), cmdCh, settleCh)
	return shard, router, matcherCh
}

func TestCredit_RequiresPositiveAmount(t *testing.T) {
	s, _, _ := newTestShard(t)
	_, err := s.credit(1, 2, d("-5"))
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.InvalidArgument, appErr.Kind)
}

func TestCreditThenDebit_RoundTrips(t *testing.T) {
	s, _, _ := newTestShard(t)
	_, err := s.credit(1, 1, d("100"))
	require.NoError(t, err)
	bal, err := s.debit(1, 1, d("30"))
	require.NoError(t, err)
	assert.True(t, bal.Total.Equal(d("70")))
	assert.True(t, bal.Available().Equal(d("70")))
	assert.True(t, bal.Frozen.IsZero())
}

func TestDebit_InsufficientBalance(t *testing.T) {
	s, _, _ := newTestShard(t)
	_, err := s.credit(1, 1, d("10"))
	require.NoError(t, err)
	_, err = s.debit(1, 1, d("11"))
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.InsufficientBalance, appErr.Kind)

	bal := s.balance(1, 1)
	assert.True(t, bal.Total.Equal(d("10")), "failed debit must leave balance unchanged")
}

func TestDebit_ExactAvailableLeavesZero(t *testing.T) {
	s, _, _ := newTestShard(t)
	_, err := s.credit(1, 1, d("10"))
	require.NoError(t, err)
	bal, err := s.debit(1, 1, d("10"))
	require.NoError(t, err)
	assert.True(t, bal.Available().IsZero())
}

func TestPlaceOrder_LimitBid_FreezesQuoteAndForwardsToMatcher(t *testing.T) {
	s, _, matcherCh := newTestShard(t)
	_, err := s.credit(1, 2, d("50000"))
	require.NoError(t, err)

	orderID, err := s.placeOrder(fabric.PlaceOrderRequest{
		AccountID: 1, SymbolID: 1, Side: domain.SideBid, Type: domain.OrderTypeLimit,
		Price: d("50000"), Quantity: d("1.0"),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), orderID)

	bal := s.balance(1, 2)
	assert.True(t, bal.Frozen.Equal(d("50000")))
	assert.True(t, bal.Available().IsZero())

	select {
	case msg := <-matcherCh:
		place, ok := msg.(fabric.MatcherPlaceOrder)
		require.True(t, ok)
		assert.Equal(t, orderID, place.Order.OrderID)
		assert.True(t, place.Order.Quantity.Equal(d("1.0")))
	default:
		t.Fatal("expected order forwarded to matcher channel")
	}
}

func TestPlaceOrder_InsufficientBalance_NoOrderIssued(t *testing.T) {
	s, _, matcherCh := newTestShard(t)
	_, err := s.placeOrder(fabric.PlaceOrderRequest{
		AccountID: 1, SymbolID: 1, Side: domain.SideBid, Type: domain.OrderTypeLimit,
		Price: d("50000"), Quantity: d("1.0"),
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.InsufficientBalance, appErr.Kind)
	assert.Equal(t, uint64(0), s.counter, "no order_id should be consumed on a failed freeze")

	select {
	case <-matcherCh:
		t.Fatal("no message should reach the matcher when freeze fails")
	default:
	}
}

func TestPlaceOrder_MarketBidWithoutVolume_Rejected(t *testing.T) {
	s, _, _ := newTestShard(t)
	_, err := s.credit(1, 2, d("1000"))
	require.NoError(t, err)
	_, err = s.placeOrder(fabric.PlaceOrderRequest{
		AccountID: 1, SymbolID: 1, Side: domain.SideBid, Type: domain.OrderTypeMarket,
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.InvalidArgument, appErr.Kind)
}

func TestPlaceOrder_LimitAsk_FreezesBase(t *testing.T) {
	s, _, _ := newTestShard(t)
	_, err := s.credit(1, 1, d("2.0"))
	require.NoError(t, err)
	_, err = s.placeOrder(fabric.PlaceOrderRequest{
		AccountID: 1, SymbolID: 1, Side: domain.SideAsk, Type: domain.OrderTypeLimit,
		Price: d("50000"), Quantity: d("1.0"),
	})
	require.NoError(t, err)

	bal := s.balance(1, 1)
	assert.True(t, bal.Frozen.Equal(d("1.0")))
	assert.True(t, bal.Available().Equal(d("1.0")))
}

func TestNextOrderID_PerShardMonotonic(t *testing.T) {
	symbols := map[uint32]domain.Symbol{1: {SymbolID: 1, BaseID: 1, QuoteID: 2}}
	cmdCh := make(chan fabric.CommandMessage, 1)
	settleCh := make(chan fabric.SettlementMessage, 1)
	router := fabric.NewRouter(
		[]chan fabric.CommandMessage{cmdCh, make(chan fabric.CommandMessage, 1)},
		[]chan fabric.SettlementMessage{settleCh, make(chan fabric.SettlementMessage, 1)},
		[]chan fabric.MatcherMessage{make(chan fabric.MatcherMessage, 1)},
	)
	shard := New(1, 2, symbols, router, nil, zerolog.Nop(), cmdCh, settleCh)

	first := shard.nextOrderID()
	second := shard.nextOrderID()
	assert.Equal(t, uint64(1*2+1), first)
	assert.Equal(t, uint64(2*2+1), second)
	assert.Less(t, first, second)
}

func TestCancelOrder_WrongOwner_Forbidden(t *testing.T) {
	s, _, matcherCh := newTestShard(t)
	go func() {
		msg := <-matcherCh
		req := msg.(fabric.MatcherCancelRequest)
		req.Reply <- fabric.CancelReply{
			Found: true, CancelledQty: d("1.0"), Side: domain.SideBid,
			Price: d("50000"), CurrencyID: 2, OwnerAccountID: 1,
		}
	}()

	reply := s.cancelOrder(fabric.CancelOrderRequest{AccountID: 2, SymbolID: 1, OrderID: 7})
	require.Error(t, reply.Err)
	appErr, ok := apperr.As(reply.Err)
	require.True(t, ok)
	assert.Equal(t, apperr.Forbidden, appErr.Kind)
}

func TestCancelOrder_RefundsFrozenBidAmount(t *testing.T) {
	s, _, matcherCh := newTestShard(t)
	_, err := s.credit(1, 2, d("50000"))
	require.NoError(t, err)
	s.freeze(1, 2, d("50000"))

	go func() {
		msg := <-matcherCh
		req := msg.(fabric.MatcherCancelRequest)
		req.Reply <- fabric.CancelReply{
			Found: true, CancelledQty: d("1.0"), Side: domain.SideBid,
			Price: d("50000"), CurrencyID: 2, OwnerAccountID: 1,
		}
	}()

	reply := s.cancelOrder(fabric.CancelOrderRequest{AccountID: 1, SymbolID: 1, OrderID: 7})
	require.NoError(t, reply.Err)
	assert.True(t, reply.RefundAmount.Equal(d("50000")))

	bal := s.balance(1, 2)
	assert.True(t, bal.Frozen.IsZero())
	assert.True(t, bal.Available().Equal(d("50000")))
	assert.True(t, bal.Total.Equal(d("50000")), "total must be unchanged by a cancel")
}

func TestCancelOrder_NotFound(t *testing.T) {
	s, _, matcherCh := newTestShard(t)
	go func() {
		msg := <-matcherCh
		req := msg.(fabric.MatcherCancelRequest)
		req.Reply <- fabric.CancelReply{Found: false}
	}()

	reply := s.cancelOrder(fabric.CancelOrderRequest{AccountID: 1, SymbolID: 1, OrderID: 99})
	require.Error(t, reply.Err)
	appErr, ok := apperr.As(reply.Err)
	require.True(t, ok)
	assert.Equal(t, apperr.NotFound, appErr.Kind)
}

func TestCancelOrder_AlreadyTerminal(t *testing.T) {
	s, _, matcherCh := newTestShard(t)
	go func() {
		msg := <-matcherCh
		req := msg.(fabric.MatcherCancelRequest)
		req.Reply <- fabric.CancelReply{Found: true, AlreadyTerminal: true, OwnerAccountID: 1}
	}()

	reply := s.cancelOrder(fabric.CancelOrderRequest{AccountID: 1, SymbolID: 1, OrderID: 5})
	require.Error(t, reply.Err)
	appErr, ok := apperr.As(reply.Err)
	require.True(t, ok)
	assert.Equal(t, apperr.InvalidState, appErr.Kind)
}

func TestSettleBuy_CreditsBaseDebitsFrozenQuote(t *testing.T) {
	s, _, _ := newTestShard(t)
	_, err := s.credit(1, 2, d("50000"))
	require.NoError(t, err)
	s.freeze(1, 2, d("50000"))

	s.settleBuy(domain.Trade{SymbolID: 1, Price: d("50000"), Quantity: d("1.0"), BuyAccountID: 1})

	quote := s.balance(1, 2)
	assert.True(t, quote.Total.IsZero())
	assert.True(t, quote.Frozen.IsZero())
	base := s.balance(1, 1)
	assert.True(t, base.Total.Equal(d("1.0")))
	assert.True(t, base.Available().Equal(d("1.0")))
}

func TestSettleSell_CreditsQuoteDebitsFrozenBase(t *testing.T) {
	s, _, _ := newTestShard(t)
	_, err := s.credit(2, 1, d("1.0"))
	require.NoError(t, err)
	s.freeze(2, 1, d("1.0"))

	s.settleSell(domain.Trade{SymbolID: 1, Price: d("50000"), Quantity: d("1.0"), SellAccount: 2})

	base := s.balance(2, 1)
	assert.True(t, base.Total.IsZero())
	assert.True(t, base.Frozen.IsZero())
	quote := s.balance(2, 2)
	assert.True(t, quote.Total.Equal(d("50000")))
	assert.True(t, quote.Available().Equal(d("50000")))
}

func TestRun_AlternatesCommandAndSettlementChannels(t *testing.T) {
	symbols := map[uint32]domain.Symbol{1: {SymbolID: 1, BaseID: 1, QuoteID: 2}}
	cmdCh := make(chan fabric.CommandMessage, 4)
	settleCh := make(chan fabric.SettlementMessage, 4)
	matcherCh := make(chan fabric.MatcherMessage, 4)
	router := fabric.NewRouter(
		[]chan fabric.CommandMessage{cmdCh},
		[]chan fabric.SettlementMessage{settleCh},
		[]chan fabric.MatcherMessage{matcherCh},
	)
	shard := New(0, 1, symbols, router, nil, zerolog.Nop(), cmdCh, settleCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = shard.Run(ctx) }()

	creditReply := make(chan fabric.BalanceReply, 1)
	cmdCh <- fabric.Credit{AccountID: 1, CurrencyID: 1, Amount: d("10"), Reply: creditReply}
	settleCh <- fabric.UnfreezeResidual{AccountID: 1, CurrencyID: 1, Amount: d("0")}

	select {
	case res := <-creditReply:
		require.NoError(t, res.Err)
		assert.True(t, res.Balance.Total.Equal(d("10")))
	case <-done:
		t.Fatal("shard exited before replying")
	}

	cancel()
	<-done
}
