// Package marketdata handles optional real-time market data distribution.
//
// Market data levels:
//
// L1 (top of book):
//   - Best bid/ask price
//   - Used by: retail displays
//
// Trade reports:
//   - Every execution, for tape readers
//
// A Matcher shard pushes updates here only when a Publisher is wired in;
// the matching hot path never blocks on a slow subscriber — publishing is
// always non-blocking and drops on a full subscriber channel.
package marketdata

import (
	"sync"

	"github.com/rishav/clob-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

// L1Quote is a top-of-book snapshot for one symbol.
type L1Quote struct {
	SymbolID    uint32
	BidPrice    decimal.Decimal
	AskPrice    decimal.Decimal
	TimestampNS int64
}

// TradeReport is a trade execution report.
type TradeReport struct {
	TradeID       uint64
	SymbolID      uint32
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	AggressorSide domain.Side
	TimestampNS   int64
}

// Publisher distributes market data to subscribers.
type Publisher struct {
	mu         sync.RWMutex
	l1Subs     map[uint32][]chan L1Quote
	tradeSubs  map[uint32][]chan TradeReport
	allL1Subs  []chan L1Quote
	allTrades  []chan TradeReport
	bufferSize int
}

// NewPublisher creates a new market data publisher whose per-subscriber
// channels have the given buffer size.
func NewPublisher(bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Publisher{
		l1Subs:     make(map[uint32][]chan L1Quote),
		tradeSubs:  make(map[uint32][]chan TradeReport),
		bufferSize: bufferSize,
	}
}

// SubscribeL1 subscribes to L1 quotes for a symbol.
func (p *Publisher) SubscribeL1(symbolID uint32) <-chan L1Quote {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan L1Quote, p.bufferSize)
	p.l1Subs[symbolID] = append(p.l1Subs[symbolID], ch)
	return ch
}

// SubscribeAllL1 subscribes to L1 quotes for every symbol.
func (p *Publisher) SubscribeAllL1() <-chan L1Quote {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan L1Quote, p.bufferSize)
	p.allL1Subs = append(p.allL1Subs, ch)
	return ch
}

// SubscribeTrades subscribes to trade reports for a symbol.
func (p *Publisher) SubscribeTrades(symbolID uint32) <-chan TradeReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan TradeReport, p.bufferSize)
	p.tradeSubs[symbolID] = append(p.tradeSubs[symbolID], ch)
	return ch
}

// PublishL1 sends an L1 quote update to subscribers. Non-blocking: drops
// the update for any subscriber whose channel is full.
func (p *Publisher) PublishL1(quote L1Quote) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, ch := range p.l1Subs[quote.SymbolID] {
		select {
		case ch <- quote:
		default:
		}
	}
	for _, ch := range p.allL1Subs {
		select {
		case ch <- quote:
		default:
		}
	}
}

// PublishTrade sends a trade report to subscribers. Non-blocking.
func (p *Publisher) PublishTrade(trade TradeReport) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, ch := range p.tradeSubs[trade.SymbolID] {
		select {
		case ch <- trade:
		default:
		}
	}
	for _, ch := range p.allTrades {
		select {
		case ch <- trade:
		default:
		}
	}
}

// Close closes every subscription channel.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, subs := range p.l1Subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, subs := range p.tradeSubs {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range p.allL1Subs {
		close(ch)
	}
	for _, ch := range p.allTrades {
		close(ch)
	}
}
