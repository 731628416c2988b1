package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

func TestJobScheduler_ConcurrencyLimit(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	scheduler := NewJobScheduler(logger, domain.SchedulerConfig{MaxConcurrentJobs: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runningJobs int32
	var maxRunningJobs int32
	var wg sync.WaitGroup

	totalJobs := 5
	wg.Add(totalJobs)

	// Mock execution that holds the slot for a bit
	mockExec := func(ctx context.Context, id domain.JobID) {
		defer wg.Done()
		current := atomic.AddInt32(&runningJobs, 1)

		// Track peak concurrency
		for {
			max := atomic.LoadInt32(&maxRunningJobs)
			if current <= max || atomic.CompareAndSwapInt32(&maxRunningJobs, max, current) {
				break
			}
		}

		time.Sleep(100 * time.Millisecond) // Simulate work
		atomic.AddInt32(&runningJobs, -1)
	}
	scheduler.Start(ctx, mockExec)

	for i := 0; i < totalJobs; i++ {
		assert.NoError(t, scheduler.SubmitJob(ctx, domain.JobID(fmt.Sprintf("job-%d", i))))
	}

	wg.Wait()

	peak := atomic.LoadInt32(&maxRunningJobs)
	assert.LessOrEqual(t, peak, int32(2), "should not exceed max concurrency")
	assert.Greater(t, peak, int32(0), "should have run some jobs")
}

func TestJobScheduler_FullQueueBlocks(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	scheduler := NewJobScheduler(logger, domain.SchedulerConfig{MaxConcurrentJobs: 1, QueueSize: 1})

	// Not started, so nothing drains the queue.
	assert.NoError(t, scheduler.SubmitJob(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, scheduler.SubmitJob(ctx, "b"), context.DeadlineExceeded)

	// Once something drains the queue the waiting submission goes through.
	queued := make(chan error, 1)
	go func() { queued <- scheduler.SubmitJob(context.Background(), "c") }()

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	var ran sync.Map
	scheduler.Start(runCtx, func(_ context.Context, id domain.JobID) { ran.Store(id, true) })

	select {
	case err := <-queued:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submission never queued")
	}
	assert.Eventually(t, func() bool {
		_, a := ran.Load(domain.JobID("a"))
		_, c := ran.Load(domain.JobID("c"))
		return a && c
	}, 2*time.Second, 10*time.Millisecond)
}
