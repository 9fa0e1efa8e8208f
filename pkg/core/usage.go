package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/personify-ai/converse-go/pkg/storage"
)

const (
	usageQueueSize = 256
	usageTimeout   = 5 * time.Second
)

// usageRecorder increments canonical usage counters off the answer path.
// Counts are best-effort: the queue is bounded and increments are dropped,
// with a log line, when it is full. The counter is a popularity signal, not
// an accounting record.
type usageRecorder struct {
	store  storage.Store
	logger *zap.Logger

	queue chan int64
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool
}

func newUsageRecorder(store storage.Store, logger *zap.Logger) *usageRecorder {
	r := &usageRecorder{
		store:  store,
		logger: logger,
		queue:  make(chan int64, usageQueueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record queues a usage increment. Never blocks the answer path, and is safe
// against a concurrent Close: increments arriving after shutdown are dropped
// rather than sent on a closed channel.
func (r *usageRecorder) Record(id int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- id:
	default:
		r.logger.Warn("usage queue full, dropping increment", zap.Int64("canonical_id", id))
	}
}

func (r *usageRecorder) run() {
	defer r.wg.Done()
	for id := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), usageTimeout)
		if err := r.store.IncrementCanonicalUsage(ctx, id); err != nil {
			r.logger.Warn("usage increment failed", zap.Int64("canonical_id", id), zap.Error(err))
		}
		cancel()
	}
}

// Close drains the queue and stops the worker.
func (r *usageRecorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.queue)
	})
	r.wg.Wait()
}
