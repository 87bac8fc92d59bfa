// Package exchange wires the Sequencer shards, Matcher shards, and the
// Router connecting them into one running process, and supervises their
// lifecycles.
//
// Adapted from the teacher's server wiring: a fixed pool of long-lived
// worker goroutines, started together and supervised by an errgroup, shut
// down together on context cancellation — generalized from one
// disruptor-backed engine goroutine plus a settlement goroutine into S+M
// independent shard goroutines.
package exchange

import (
	"context"
	"fmt"

	"github.com/rishav/clob-exchange/internal/config"
	"github.com/rishav/clob-exchange/internal/domain"
	"github.com/rishav/clob-exchange/internal/fabric"
	"github.com/rishav/clob-exchange/internal/marketdata"
	"github.com/rishav/clob-exchange/internal/matcher"
	"github.com/rishav/clob-exchange/internal/risk"
	"github.com/rishav/clob-exchange/internal/sequencer"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Exchange is a fully wired set of Sequencer and Matcher shards, ready to
// run.
type Exchange struct {
	Config     config.Config
	Router     *fabric.Router
	Sequencers []*sequencer.Shard
	Matchers   []*matcher.Shard
	MarketData *marketdata.Publisher
	Risk       *risk.Checker // nil when disabled
}

// New constructs an Exchange from a resolved configuration and logger,
// allocating channels and shards but not starting any goroutines.
func New(cfg config.Config, log zerolog.Logger) (*Exchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	symbols := make(map[uint32]domain.Symbol, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		symbols[sc.SymbolID] = domain.Symbol{SymbolID: sc.SymbolID, BaseID: sc.Base, QuoteID: sc.Quote}
	}

	cmdChans := make([]chan fabric.CommandMessage, cfg.SequencerShards)
	settleChans := make([]chan fabric.SettlementMessage, cfg.SequencerShards)
	for i := range cmdChans {
		cmdChans[i] = make(chan fabric.CommandMessage, cfg.CommandChannelCapacity)
		settleChans[i] = make(chan fabric.SettlementMessage, cfg.SettlementChannelCapacity)
	}
	matcherChans := make([]chan fabric.MatcherMessage, cfg.MatcherShards)
	for i := range matcherChans {
		matcherChans[i] = make(chan fabric.MatcherMessage, cfg.MatcherChannelCapacity)
	}

	router := fabric.NewRouter(cmdChans, settleChans, matcherChans)

	var riskChecker *risk.Checker
	if cfg.RiskEnabled {
		riskChecker = risk.NewChecker(risk.DefaultConfig())
	}

	md := marketdata.NewPublisher(256)

	ex := &Exchange{Config: cfg, Router: router, MarketData: md, Risk: riskChecker}

	for i := 0; i < cfg.SequencerShards; i++ {
		var hook sequencer.RiskChecker
		if riskChecker != nil {
			hook = riskChecker
		}
		shard := sequencer.New(i, cfg.SequencerShards, symbols, router, hook, log, cmdChans[i], settleChans[i])
		ex.Sequencers = append(ex.Sequencers, shard)
	}

	for i := 0; i < cfg.MatcherShards; i++ {
		var riskHook matcher.RiskFeedback
		if riskChecker != nil {
			riskHook = riskChecker
		}
		shard := matcher.New(i, cfg.MatcherShards, symbols, router, riskHook, md, log, matcherChans[i])
		ex.Matchers = append(ex.Matchers, shard)
	}

	return ex, nil
}

// Run starts every shard goroutine and blocks until ctx is cancelled or
// any shard returns an error other than context.Canceled.
func (ex *Exchange) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, shard := range ex.Sequencers {
		shard := shard
		g.Go(func() error {
			if err := shard.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("sequencer shard %d: %w", shard.ID, err)
			}
			return nil
		})
	}
	for _, shard := range ex.Matchers {
		shard := shard
		g.Go(func() error {
			if err := shard.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("matcher shard %d: %w", shard.ID, err)
			}
			return nil
		})
	}

	return g.Wait()
}
