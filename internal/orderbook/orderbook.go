package orderbook

import (
	"fmt"
	"strings"

	"github.com/rishav/clob-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

// OrderBook maintains the bid and ask sides of the market for one symbol.
//
// Key design decisions:
//
// 1. Two red-black trees: one for bids (highest first), one for asks
//    (lowest first) — O(1) access to best bid/ask via cached min/max
//    pointers, O(log P) insert/delete where P is the number of distinct
//    price levels.
//
// 2. Order ID map: hash map from order ID to OrderNode for O(1) cancel
//    by order ID, with no tree search required.
//
// 3. Price-time priority: the red-black tree gives price priority, the
//    FIFO queue at each level gives time priority.
type OrderBook struct {
	symbolID uint32
	bids     *RBTree
	asks     *RBTree
	orders   map[uint64]*OrderNode // order ID -> node, for O(1) cancel
}

// NewOrderBook creates a new order book for the given symbol.
func NewOrderBook(symbolID uint32) *OrderBook {
	return &OrderBook{
		symbolID: symbolID,
		bids:     NewRBTree(true),  // descending: highest price first
		asks:     NewRBTree(false), // ascending: lowest price first
		orders:   make(map[uint64]*OrderNode),
	}
}

// SymbolID returns the symbol this order book is for.
func (ob *OrderBook) SymbolID() uint32 {
	return ob.symbolID
}

// AddOrder adds an order to the appropriate side of the book. Returns an
// error if the order ID already exists. O(log P).
func (ob *OrderBook) AddOrder(order *domain.Order) error {
	if _, exists := ob.orders[order.OrderID]; exists {
		return fmt.Errorf("order %d already exists", order.OrderID)
	}

	tree := ob.getTree(order.Side)

	level := tree.Get(order.Price)
	if level == nil {
		level = NewPriceLevel(order.Price)
		tree.Insert(level)
	}

	node := level.Append(order)
	ob.orders[order.OrderID] = node

	return nil
}

// CancelOrder removes an order from the book and returns it, or nil if
// not found. O(1) for the removal, O(log P) if the price level empties.
func (ob *OrderBook) CancelOrder(orderID uint64) *domain.Order {
	node, exists := ob.orders[orderID]
	if !exists {
		return nil
	}

	order := node.Order
	level := node.level
	tree := ob.getTree(order.Side)

	level.Remove(node)
	delete(ob.orders, orderID)

	if level.IsEmpty() {
		tree.Delete(level.Price)
	}

	return order
}

// GetOrder retrieves an order by ID. O(1).
func (ob *OrderBook) GetOrder(orderID uint64) *domain.Order {
	node, exists := ob.orders[orderID]
	if !exists {
		return nil
	}
	return node.Order
}

// FillOrder removes a resting order from its price level because it has
// filled completely, but — unlike CancelOrder — keeps it in the order-ID
// index with no price level attached. A filled order is retired, not
// forgotten: a later cancel request against it must still find it and
// report it as already terminal, not as never having existed.
func (ob *OrderBook) FillOrder(orderID uint64) {
	node, exists := ob.orders[orderID]
	if !exists || node.level == nil {
		return
	}
	order := node.Order
	level := node.level
	tree := ob.getTree(order.Side)

	level.Remove(node)
	if level.IsEmpty() {
		tree.Delete(level.Price)
	}

	ob.orders[orderID] = &OrderNode{Order: order}
}

// Index records an order that never rested — a taker that filled
// completely on arrival — so a later cancel request still finds it and
// reports it as already terminal instead of not found. A no-op if the
// order is already indexed (e.g. it rested first and filled later).
func (ob *OrderBook) Index(order *domain.Order) {
	if _, exists := ob.orders[order.OrderID]; exists {
		return
	}
	ob.orders[order.OrderID] = &OrderNode{Order: order}
}

// GetBestBid returns the highest bid price level, or nil if no bids.
func (ob *OrderBook) GetBestBid() *PriceLevel {
	return ob.bids.Min()
}

// GetBestAsk returns the lowest ask price level, or nil if no asks.
func (ob *OrderBook) GetBestAsk() *PriceLevel {
	return ob.asks.Min()
}

// GetSpread returns best ask minus best bid, or zero if either side is
// empty.
func (ob *OrderBook) GetSpread() decimal.Decimal {
	bestBid := ob.GetBestBid()
	bestAsk := ob.GetBestAsk()
	if bestBid == nil || bestAsk == nil {
		return decimal.Zero
	}
	return bestAsk.Price.Sub(bestBid.Price)
}

// BidLevels returns the number of distinct bid price levels.
func (ob *OrderBook) BidLevels() int {
	return ob.bids.Size()
}

// AskLevels returns the number of distinct ask price levels.
func (ob *OrderBook) AskLevels() int {
	return ob.asks.Size()
}

// TotalOrders returns the number of orders indexed by the book, resting
// or terminal (retained so cancellation lookups can still find them).
func (ob *OrderBook) TotalOrders() int {
	return len(ob.orders)
}

// GetBidDepth returns the top N bid price levels. levels <= 0 returns all
// levels.
func (ob *OrderBook) GetBidDepth(levels int) []*PriceLevel {
	return ob.getDepth(ob.bids, levels)
}

// GetAskDepth returns the top N ask price levels. levels <= 0 returns all
// levels.
func (ob *OrderBook) GetAskDepth(levels int) []*PriceLevel {
	return ob.getDepth(ob.asks, levels)
}

func (ob *OrderBook) getDepth(tree *RBTree, maxLevels int) []*PriceLevel {
	result := make([]*PriceLevel, 0)
	count := 0

	tree.ForEach(func(level *PriceLevel) bool {
		result = append(result, level)
		count++
		if maxLevels > 0 && count >= maxLevels {
			return false
		}
		return true
	})

	return result
}

func (ob *OrderBook) getTree(side domain.Side) *RBTree {
	if side == domain.SideBid {
		return ob.bids
	}
	return ob.asks
}

// String returns a human-readable representation of the order book: the
// top five ask and bid levels and the spread.
func (ob *OrderBook) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== symbol %d order book ===\n", ob.symbolID))

	asks := ob.GetAskDepth(5)
	sb.WriteString("ASKS:\n")
	for i := len(asks) - 1; i >= 0; i-- {
		level := asks[i]
		sb.WriteString(fmt.Sprintf("  %s: %s (%d orders)\n", level.Price, level.TotalQty, level.Count()))
	}

	spread := ob.GetSpread()
	if spread.IsPositive() {
		sb.WriteString(fmt.Sprintf("--- spread: %s ---\n", spread))
	} else {
		sb.WriteString("--- no spread ---\n")
	}

	bids := ob.GetBidDepth(5)
	sb.WriteString("BIDS:\n")
	for _, level := range bids {
		sb.WriteString(fmt.Sprintf("  %s: %s (%d orders)\n", level.Price, level.TotalQty, level.Count()))
	}

	return sb.String()
}
