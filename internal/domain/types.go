// Package domain defines the core exchange types shared by the Sequencer
// and Matcher shards.
//
// Key design decisions:
//
// 1. Decimal arithmetic: every monetary and quantity field is a
//    decimal.Decimal, not a float or fixed-point integer. Financial
//    systems cannot tolerate accumulated rounding error, and the wire
//    protocol promises clients up to 18 fractional digits.
//
// 2. Sequence numbers: every order receives a per-book, monotonically
//    increasing sequence number on entry to the book. This gives strict
//    FIFO tie-breaking at a price level without a separate timestamp
//    comparison.
//
// 3. order_id is per-shard monotonic, combined with the shard index to
//    give global uniqueness without a shared counter (see the sequencer
//    package).
package domain

import "github.com/shopspring/decimal"

// Side is the side of an order.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "BID"
	}
	return "ASK"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// OrderType is the execution semantics of an order.
type OrderType int

const (
	// OrderTypeLimit rests in the book until filled or cancelled; only
	// executes at its price or better.
	OrderTypeLimit OrderType = iota
	// OrderTypeMarket executes immediately against whatever liquidity is
	// available and never rests on the book.
	OrderTypeMarket
)

func (t OrderType) String() string {
	if t == OrderTypeLimit {
		return "LIMIT"
	}
	return "MARKET"
}

// OrderState is the lifecycle state of an order.
type OrderState int

const (
	OrderStateNew OrderState = iota
	OrderStatePartial
	OrderStateFilled
	OrderStateCancelled
)

func (s OrderState) String() string {
	switch s {
	case OrderStateNew:
		return "NEW"
	case OrderStatePartial:
		return "PARTIAL"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further mutation of the order is allowed.
func (s OrderState) IsTerminal() bool {
	return s == OrderStateFilled || s == OrderStateCancelled
}

// Order is a single order moving through the Sequencer and Matcher.
//
// order_id is assigned by the Sequencer that first accepts the order;
// sequence_number is assigned by the Matcher on book entry and is used
// purely for FIFO tie-breaking within a price level.
type Order struct {
	OrderID       uint64
	AccountID     uint64
	SymbolID      uint32
	Side          Side
	Type          OrderType
	Price         decimal.Decimal // zero value for MARKET orders
	Quantity      decimal.Decimal // remaining base-currency amount
	Volume        decimal.Decimal // optional quote-currency amount, MARKET-BID only
	Original      decimal.Decimal // original quantity/volume at acceptance, for reporting
	TakerRate     decimal.Decimal
	MakerRate     decimal.Decimal
	SequenceNum   uint64
	State         OrderState
}

// Remaining returns the unfilled quantity of the order.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity
}

// IsFilled reports whether the order has no remaining quantity.
func (o *Order) IsFilled() bool {
	return o.Quantity.Sign() <= 0
}

// IsLive reports whether the order can still be matched or cancelled.
func (o *Order) IsLive() bool {
	return o.State == OrderStateNew || o.State == OrderStatePartial
}

// Trade is an immutable execution record. Once emitted it is never
// mutated; it is copied into settlement messages for both sides.
type Trade struct {
	TradeID      uint64
	SymbolID     uint32
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	BuyOrderID   uint64
	SellOrderID  uint64
	BuyAccountID uint64
	SellAccount  uint64
	TakerSide    Side
	TimestampNS  int64
}

// Symbol is an immutable tradable-pair descriptor, configured at startup.
type Symbol struct {
	SymbolID  uint32
	BaseID    uint32
	QuoteID   uint32
}

// Balance is the three-decimal ledger entry for one (account, currency)
// pair. Available is always derived, never stored, so the invariant
// total = frozen + available cannot drift: it holds by construction.
type Balance struct {
	Total  decimal.Decimal
	Frozen decimal.Decimal
}

// Available returns the derived available balance.
func (b Balance) Available() decimal.Decimal {
	return b.Total.Sub(b.Frozen)
}
