package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeL1_ReceivesPublishedQuote(t *testing.T) {
	p := NewPublisher(4)
	ch := p.SubscribeL1(1)

	p.PublishL1(L1Quote{SymbolID: 1})

	select {
	case got := <-ch:
		assert.Equal(t, uint32(1), got.SymbolID)
	case <-time.After(time.Second):
		t.Fatal("expected quote, got none")
	}
}

func TestSubscribeL1_DoesNotReceiveOtherSymbol(t *testing.T) {
	p := NewPublisher(4)
	ch := p.SubscribeL1(1)

	p.PublishL1(L1Quote{SymbolID: 2})

	select {
	case <-ch:
		t.Fatal("should not receive quote for a different symbol")
	default:
	}
}

func TestSubscribeAllL1_ReceivesEverySymbol(t *testing.T) {
	p := NewPublisher(4)
	ch := p.SubscribeAllL1()

	p.PublishL1(L1Quote{SymbolID: 1})
	p.PublishL1(L1Quote{SymbolID: 2})

	require.Len(t, drain(ch, 2), 2)
}

func TestPublishL1_NonBlockingOnFullChannel(t *testing.T) {
	p := NewPublisher(1)
	_ = p.SubscribeL1(1)

	done := make(chan struct{})
	go func() {
		p.PublishL1(L1Quote{SymbolID: 1})
		p.PublishL1(L1Quote{SymbolID: 1}) // second publish must not block on a full buffer
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishL1 blocked on a full subscriber channel")
	}
}

func TestSubscribeTrades_ReceivesReport(t *testing.T) {
	p := NewPublisher(4)
	ch := p.SubscribeTrades(1)

	p.PublishTrade(TradeReport{SymbolID: 1, TradeID: 7})

	select {
	case got := <-ch:
		assert.Equal(t, uint64(7), got.TradeID)
	case <-time.After(time.Second):
		t.Fatal("expected trade report")
	}
}

func TestClose_ClosesAllSubscriberChannels(t *testing.T) {
	p := NewPublisher(4)
	ch := p.SubscribeL1(1)
	p.Close()

	_, ok := <-ch
	assert.False(t, ok)
}

func drain(ch <-chan L1Quote, n int) []L1Quote {
	out := make([]L1Quote, 0, n)
	for i := 0; i < n; i++ {
		select {
		case v := <-ch:
			out = append(out, v)
		case <-time.After(time.Second):
			return out
		}
	}
	return out
}
