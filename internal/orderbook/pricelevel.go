// Package orderbook implements the limit order book data structure owned
// exclusively by a single Matcher shard.
//
// The order book maintains buy (bid) and sell (ask) orders organized by
// price. At each price level, orders are stored in a FIFO queue to
// implement price-time priority matching.
package orderbook

import (
	"github.com/rishav/clob-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

// OrderNode is a node in the doubly-linked list of orders at a price
// level. A doubly-linked list enables O(1) removal from anywhere in the
// queue, which matters for fast cancellation.
type OrderNode struct {
	Order *domain.Order
	prev  *OrderNode
	next  *OrderNode
	level *PriceLevel // back-pointer for O(1) removal
}

// Next returns the next node in the queue.
func (n *OrderNode) Next() *OrderNode {
	return n.next
}

// PriceLevel represents all resting orders at a single price point.
//
// Orders at the same price are stored in arrival order (FIFO); TotalQty
// is maintained incrementally so depth queries don't need to walk the
// queue.
type PriceLevel struct {
	Price    decimal.Decimal
	head     *OrderNode
	tail     *OrderNode
	count    int
	TotalQty decimal.Decimal
}

// NewPriceLevel creates a new empty price level.
func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price, TotalQty: decimal.Zero}
}

// Count returns the number of orders at this price level.
func (pl *PriceLevel) Count() int {
	return pl.count
}

// IsEmpty returns true if there are no orders at this level.
func (pl *PriceLevel) IsEmpty() bool {
	return pl.count == 0
}

// Head returns the first order node (highest priority).
func (pl *PriceLevel) Head() *OrderNode {
	return pl.head
}

// Append adds an order to the tail of the queue (lowest priority at this
// price). Returns the OrderNode for O(1) cancellation later. O(1).
func (pl *PriceLevel) Append(order *domain.Order) *OrderNode {
	node := &OrderNode{Order: order, level: pl}

	if pl.tail == nil {
		pl.head = node
		pl.tail = node
	} else {
		node.prev = pl.tail
		pl.tail.next = node
		pl.tail = node
	}

	pl.count++
	pl.TotalQty = pl.TotalQty.Add(order.Remaining())
	return node
}

// Remove removes a node from the queue. O(1) due to the doubly-linked
// list.
func (pl *PriceLevel) Remove(node *OrderNode) {
	if node == nil {
		return
	}

	pl.TotalQty = pl.TotalQty.Sub(node.Order.Remaining())
	pl.count--

	if node.prev != nil {
		node.prev.next = node.next
	} else {
		pl.head = node.next
	}

	if node.next != nil {
		node.next.prev = node.prev
	} else {
		pl.tail = node.prev
	}

	node.prev = nil
	node.next = nil
	node.level = nil
}

// UpdateQuantity adjusts TotalQty when an order in this level gets a
// fill. delta is the signed change to apply.
func (pl *PriceLevel) UpdateQuantity(delta decimal.Decimal) {
	pl.TotalQty = pl.TotalQty.Add(delta)
}

// Orders returns a slice of all orders at this level in queue order.
// Allocates; use sparingly.
func (pl *PriceLevel) Orders() []*domain.Order {
	result := make([]*domain.Order, 0, pl.count)
	for node := pl.head; node != nil; node = node.next {
		result = append(result, node.Order)
	}
	return result
}
