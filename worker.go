package storefront

import (
	"context"
	"errors"
	"sync"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

const defaultQueueSize = 1000

var ErrPoolClosed = errors.New("worker pool is shut down")

type EventProcessor interface {
	ProcessEvent(ctx context.Context, event *stripe.Event) error
}

// WorkerPool handles events on a fixed number of goroutines fed by a bounded
// queue.
type WorkerPool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	logger    *zap.Logger
	processor EventProcessor
}

func NewWorkerPool(size, queueSize int, processor EventProcessor, logger *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	wp := &WorkerPool{
		tasks:     make(chan func(), queueSize),
		logger:    logger,
		processor: processor,
	}

	wp.wg.Add(size)
	for i := 0; i < size; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

// Submit queues event, blocking while the queue is full until ctx is done.
func (wp *WorkerPool) Submit(ctx context.Context, event *stripe.Event) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}

	task := func() {
		if err := wp.processor.ProcessEvent(ctx, event); err != nil {
			wp.logger.Error("Failed to process event",
				zap.Error(err),
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID))
		}
	}

	select {
	case wp.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting events and waits for queued ones to finish.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.tasks)
	wp.mu.Unlock()

	wp.wg.Wait()
}
