package fabric

import (
	"context"
	"fmt"
)

// Router computes the shard index for an account or symbol and enqueues
// a message onto the corresponding Sequencer or Matcher inbox. It holds
// no other state and is safe for concurrent use by any number of
// producer goroutines (the channels it writes to are themselves the
// synchronization point).
type Router struct {
	cmdChans     []chan CommandMessage
	settleChans  []chan SettlementMessage
	matcherChans []chan MatcherMessage
}

// NewRouter wires a Router to the command and settlement channels of S
// Sequencer shards and the inbound channels of M Matcher shards, in
// shard-index order.
func NewRouter(cmdChans []chan CommandMessage, settleChans []chan SettlementMessage, matcherChans []chan MatcherMessage) *Router {
	return &Router{cmdChans: cmdChans, settleChans: settleChans, matcherChans: matcherChans}
}

// SequencerShard returns account_id mod S.
func (r *Router) SequencerShard(accountID uint64) int {
	return int(accountID % uint64(len(r.cmdChans)))
}

// MatcherShard returns symbol_id mod M.
func (r *Router) MatcherShard(symbolID uint32) int {
	return int(symbolID % uint32(len(r.matcherChans)))
}

// SendCommand enqueues msg onto the Sequencer shard owning accountID,
// blocking if that shard's channel is full (backpressure), or returning
// early if ctx is cancelled first.
func (r *Router) SendCommand(ctx context.Context, accountID uint64, msg CommandMessage) error {
	ch := r.cmdChans[r.SequencerShard(accountID)]
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendSettlement enqueues msg onto the settlement channel of the
// Sequencer shard owning accountID. Called exclusively by Matcher shards
// after a match or a residual unfreeze.
func (r *Router) SendSettlement(ctx context.Context, accountID uint64, msg SettlementMessage) error {
	ch := r.settleChans[r.SequencerShard(accountID)]
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendToMatcher enqueues msg onto the Matcher shard owning symbolID.
func (r *Router) SendToMatcher(ctx context.Context, symbolID uint32, msg MatcherMessage) error {
	shard := r.MatcherShard(symbolID)
	if shard >= len(r.matcherChans) {
		return fmt.Errorf("fabric: no matcher shard for symbol %d", symbolID)
	}
	ch := r.matcherChans[shard]
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
