// Package fabric defines the typed messages that flow between the
// Dispatcher, Sequencer shards, and Matcher shards, and the Router that
// computes which shard owns a given account or symbol.
//
// Every request message carries a single-shot reply channel for
// synchronous responses; settlement messages are fire-and-forget and
// carry none. Messages are the only way Sequencer and Matcher shards reach
// each other's account and order-book state; the optional risk hook and
// the market-data publisher are separate shared objects with their own locks.
package fabric

import (
	"github.com/rishav/clob-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

// CommandMessage is any message accepted on a Sequencer's command
// channel. The concrete types below all satisfy it; dispatch happens via
// a type switch in the Sequencer's run loop, mirroring how the matching
// engine this was adapted from dispatches ring-buffer request kinds.
type CommandMessage interface {
	isCommandMessage()
}

// SettlementMessage is any message accepted on a Sequencer's settlement
// channel, produced exclusively by Matcher shards.
type SettlementMessage interface {
	isSettlementMessage()
}

// MatcherMessage is any message accepted on a Matcher shard's single
// inbound channel.
type MatcherMessage interface {
	isMatcherMessage()
}

// --- Sequencer.cmd ---

// AccountQuery asks for a point-in-time snapshot of one account's
// balances. If CurrencyID is nil, all currencies are returned.
type AccountQuery struct {
	AccountID  uint64
	CurrencyID *uint32
	Reply      chan AccountQueryReply
}

func (AccountQuery) isCommandMessage() {}

type AccountQueryReply struct {
	Balances map[uint32]domain.Balance
	Err      error
}

// Credit increases an account's total (and, derived, available) balance.
type Credit struct {
	AccountID  uint64
	CurrencyID uint32
	Amount     decimal.Decimal
	Reply      chan BalanceReply
}

func (Credit) isCommandMessage() {}

// Debit decreases an account's total (and, derived, available) balance.
type Debit struct {
	AccountID  uint64
	CurrencyID uint32
	Amount     decimal.Decimal
	Reply      chan BalanceReply
}

func (Debit) isCommandMessage() {}

type BalanceReply struct {
	Balance domain.Balance
	Err     error
}

// PlaceOrderRequest asks the owning Sequencer to validate, freeze funds
// for, and accept a new order.
type PlaceOrderRequest struct {
	AccountID uint64
	SymbolID  uint32
	Side      domain.Side
	Type      domain.OrderType
	Price     decimal.Decimal // LIMIT only
	Quantity  decimal.Decimal // zero for MARKET-BID-by-volume
	Volume    decimal.Decimal // MARKET-BID only, zero otherwise
	TakerRate decimal.Decimal
	MakerRate decimal.Decimal
	Reply     chan PlaceOrderReply
}

func (PlaceOrderRequest) isCommandMessage() {}

type PlaceOrderReply struct {
	OrderID uint64
	Err     error
}

// CancelOrderRequest asks the owning Sequencer to cancel a resting order
// and refund the frozen amount to its owner.
type CancelOrderRequest struct {
	AccountID uint64
	SymbolID  uint32
	OrderID   uint64
	Reply     chan CancelOrderReply
}

func (CancelOrderRequest) isCommandMessage() {}

type CancelOrderReply struct {
	OrderID      uint64
	CancelledQty decimal.Decimal
	RefundAmount decimal.Decimal
	Err          error
}

// --- Sequencer.settle ---

// SettleTradeBuy credits the buyer's side of a trade: debit frozen quote,
// credit total base.
type SettleTradeBuy struct {
	Trade domain.Trade
}

func (SettleTradeBuy) isSettlementMessage() {}

// SettleTradeSell credits the seller's side of a trade: debit frozen
// base, credit total quote.
type SettleTradeSell struct {
	Trade domain.Trade
}

func (SettleTradeSell) isSettlementMessage() {}

// UnfreezeResidual returns the unconsumed frozen amount from a MARKET
// order's unmatched remainder back to available.
type UnfreezeResidual struct {
	AccountID  uint64
	CurrencyID uint32
	Amount     decimal.Decimal
}

func (UnfreezeResidual) isSettlementMessage() {}

// --- Matcher.in ---

// MatcherPlaceOrder delivers an already-frozen, already-accepted order to
// the owning Matcher for matching. Fire-and-forget: the Sequencer has
// already returned order_id to the caller by the time this is sent.
type MatcherPlaceOrder struct {
	Order *domain.Order
}

func (MatcherPlaceOrder) isMatcherMessage() {}

// MatcherCancelRequest asks the owning Matcher to remove an order from
// its book.
type MatcherCancelRequest struct {
	SymbolID uint32
	OrderID  uint64
	Reply    chan CancelReply
}

func (MatcherCancelRequest) isMatcherMessage() {}

// CancelReply is the Matcher's answer to a MatcherCancelRequest: enough
// information for the owning Sequencer to compute and apply a refund.
type CancelReply struct {
	Found           bool
	AlreadyTerminal bool
	CancelledQty    decimal.Decimal
	Side            domain.Side
	Price           decimal.Decimal
	CurrencyID      uint32 // currency the freeze was taken from: quote for BID, base for ASK
	OwnerAccountID  uint64
	Err             error
}

// Snapshot asks for a point-in-time read of a Matcher's order book.
type Snapshot struct {
	SymbolID uint32
	Levels   int
	Reply    chan SnapshotReply
}

func (Snapshot) isMatcherMessage() {}

// LevelView is one aggregated price level in a snapshot response.
type LevelView struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

type SnapshotReply struct {
	SymbolID    uint32
	Bids        []LevelView
	Asks        []LevelView
	BestBid     *decimal.Decimal
	BestAsk     *decimal.Decimal
	Spread      decimal.Decimal
	TimestampMS int64
	Err         error
}
