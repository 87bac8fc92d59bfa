// Package risk implements an optional pre-trade risk check, consulted by
// a Sequencer shard before it freezes funds for a new order.
//
// Pre-trade risk checks are not part of the core order lifecycle the
// Sequencer and Matcher implement; they are an optional hook a deployment
// can enable to reject orders before they ever reach the balance ledger.
// Checks here run against shared, mutex-protected state because they are
// consulted from every Sequencer shard's goroutine, unlike the account
// and order-book state those shards otherwise own exclusively.
//
// Common risk controls:
//   - Order size limits (max base quantity per order)
//   - Order value limits (max notional per order)
//   - Price bands (reject orders too far from the last traded price)
//   - Position limits (max net position per symbol)
package risk

import (
	"fmt"
	"sync"

	"github.com/rishav/clob-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

// Config configures the checker. A zero value for any limit disables
// that particular check.
type Config struct {
	MaxOrderSize     decimal.Decimal
	MaxOrderValue    decimal.Decimal
	MaxPositionSize  decimal.Decimal
	PriceBandPercent decimal.Decimal // 0.10 = 10%
}

// DefaultConfig returns permissive-but-present limits, reasonable for a
// demo deployment.
func DefaultConfig() Config {
	return Config{
		MaxOrderSize:     decimal.NewFromInt(100000),
		MaxOrderValue:    decimal.NewFromInt(10000000),
		MaxPositionSize:  decimal.NewFromInt(1000000),
		PriceBandPercent: decimal.NewFromFloat(0.10),
	}
}

// Checker performs pre-trade risk checks. Nil is a valid *Checker
// receiver is not supported; Sequencer shards instead hold a nilable
// interface and skip the call entirely when risk checking is disabled.
type Checker struct {
	config          Config
	mu              sync.RWMutex
	positions       map[uint64]map[uint32]decimal.Decimal // account -> symbol -> position
	referencePrices map[uint32]decimal.Decimal             // symbol -> last traded price
}

// NewChecker creates a new risk checker.
func NewChecker(config Config) *Checker {
	return &Checker{
		config:          config,
		positions:       make(map[uint64]map[uint32]decimal.Decimal),
		referencePrices: make(map[uint32]decimal.Decimal),
	}
}

// Check runs all configured risk checks on a candidate order and returns
// the first failure, or nil if the order may proceed to the freeze step.
func (c *Checker) Check(accountID uint64, symbolID uint32, side domain.Side, orderType domain.OrderType, price, quantity decimal.Decimal) error {
	if c.config.MaxOrderSize.IsPositive() && quantity.GreaterThan(c.config.MaxOrderSize) {
		return fmt.Errorf("order size %s exceeds max %s", quantity, c.config.MaxOrderSize)
	}

	if c.config.MaxOrderValue.IsPositive() && price.IsPositive() {
		value := price.Mul(quantity)
		if value.GreaterThan(c.config.MaxOrderValue) {
			return fmt.Errorf("order value %s exceeds max %s", value, c.config.MaxOrderValue)
		}
	}

	if orderType == domain.OrderTypeLimit && price.IsPositive() {
		if err := c.checkPriceBand(symbolID, price); err != nil {
			return err
		}
	}

	if err := c.checkPositionLimit(accountID, symbolID, side, quantity); err != nil {
		return err
	}

	return nil
}

func (c *Checker) checkPriceBand(symbolID uint32, price decimal.Decimal) error {
	if !c.config.PriceBandPercent.IsPositive() {
		return nil
	}
	c.mu.RLock()
	ref, exists := c.referencePrices[symbolID]
	c.mu.RUnlock()
	if !exists || ref.IsZero() {
		return nil // no reference price yet, allow
	}

	band := ref.Mul(c.config.PriceBandPercent)
	low := ref.Sub(band)
	high := ref.Add(band)
	if price.LessThan(low) || price.GreaterThan(high) {
		return fmt.Errorf("price %s outside band (ref %s, +/-%s%%)", price, ref, c.config.PriceBandPercent.Mul(decimal.NewFromInt(100)))
	}
	return nil
}

func (c *Checker) checkPositionLimit(accountID uint64, symbolID uint32, side domain.Side, quantity decimal.Decimal) error {
	if !c.config.MaxPositionSize.IsPositive() {
		return nil
	}
	c.mu.RLock()
	current := decimal.Zero
	if acct, exists := c.positions[accountID]; exists {
		current = acct[symbolID]
	}
	c.mu.RUnlock()

	projected := current
	if side == domain.SideBid {
		projected = projected.Add(quantity)
	} else {
		projected = projected.Sub(quantity)
	}

	limit := c.config.MaxPositionSize
	if projected.Abs().GreaterThan(limit) {
		return fmt.Errorf("would exceed position limit (current %s, order %s, max %s)", current, quantity, limit)
	}
	return nil
}

// UpdatePosition records a fill against an account's net position.
func (c *Checker) UpdatePosition(accountID uint64, symbolID uint32, side domain.Side, quantity decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.positions[accountID] == nil {
		c.positions[accountID] = make(map[uint32]decimal.Decimal)
	}
	if side == domain.SideBid {
		c.positions[accountID][symbolID] = c.positions[accountID][symbolID].Add(quantity)
	} else {
		c.positions[accountID][symbolID] = c.positions[accountID][symbolID].Sub(quantity)
	}
}

// SetReferencePrice records the last traded price for a symbol, called by
// a Matcher after each trade when the hook is enabled.
func (c *Checker) SetReferencePrice(symbolID uint32, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.referencePrices[symbolID] = price
}

// GetReferencePrice returns the current reference price for a symbol.
func (c *Checker) GetReferencePrice(symbolID uint32) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.referencePrices[symbolID]
}

// GetPosition returns the current net position for an account and symbol.
func (c *Checker) GetPosition(accountID uint64, symbolID uint32) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if acct, exists := c.positions[accountID]; exists {
		return acct[symbolID]
	}
	return decimal.Zero
}
