package storefront

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

type countingProcessor struct {
	processed atomic.Int64
	delay     time.Duration
	err       error
}

func (p *countingProcessor) ProcessEvent(context.Context, *stripe.Event) error {
	time.Sleep(p.delay)
	p.processed.Add(1)
	return p.err
}

func TestWorkerPool_DrainsOnShutdown(t *testing.T) {
	processor := &countingProcessor{delay: time.Millisecond}
	wp := NewWorkerPool(3, 100, processor, zap.NewNop())

	for i := 0; i < 50; i++ {
		require.NoError(t, wp.Submit(context.Background(), &stripe.Event{ID: "evt"}))
	}
	wp.Shutdown()

	assert.Equal(t, int64(50), processor.processed.Load())
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	wp := NewWorkerPool(1, 1, &countingProcessor{}, zap.NewNop())
	wp.Shutdown()
	wp.Shutdown()

	err := wp.Submit(context.Background(), &stripe.Event{ID: "evt"})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPool_SubmitRespectsContext(t *testing.T) {
	block := make(chan struct{})
	processor := &blockingProcessor{release: block, started: make(chan struct{})}
	wp := NewWorkerPool(1, 0, processor, zap.NewNop())
	defer func() {
		close(block)
		wp.Shutdown()
	}()

	// occupies the only worker
	require.NoError(t, wp.Submit(context.Background(), &stripe.Event{ID: "evt_1"}))
	<-processor.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := wp.Submit(ctx, &stripe.Event{ID: "evt_2"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerPool_ProcessorErrorsAreLogged(t *testing.T) {
	processor := &countingProcessor{err: errors.New("boom")}
	wp := NewWorkerPool(2, 10, processor, zap.NewNop())

	require.NoError(t, wp.Submit(context.Background(), &stripe.Event{ID: "evt"}))
	wp.Shutdown()
	assert.Equal(t, int64(1), processor.processed.Load())
}

type blockingProcessor struct {
	release <-chan struct{}
	started chan struct{}
	once    atomic.Bool
}

func (p *blockingProcessor) ProcessEvent(context.Context, *stripe.Event) error {
	if p.once.CompareAndSwap(false, true) {
		close(p.started)
	}
	<-p.release
	return nil
}
