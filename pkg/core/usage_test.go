package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestUsageRecorderDrainsOnClose(t *testing.T) {
	store := newFakeStore()
	recorder := newUsageRecorder(store, zap.NewNop())

	recorder.Record(1)
	recorder.Record(1)
	recorder.Record(2)
	recorder.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 2, store.usage[1])
	assert.Equal(t, 1, store.usage[2])
}

func TestUsageRecorderRecordAfterClose(t *testing.T) {
	store := newFakeStore()
	recorder := newUsageRecorder(store, zap.NewNop())
	recorder.Close()

	// Must drop silently, not panic on a closed channel.
	recorder.Record(1)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Zero(t, store.usage[1])
}

func TestUsageRecorderConcurrentRecordAndClose(t *testing.T) {
	store := newFakeStore()
	recorder := newUsageRecorder(store, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			recorder.Record(id)
		}(int64(i))
	}
	recorder.Close()
	wg.Wait()

	// Closing twice is also safe.
	recorder.Close()
}
