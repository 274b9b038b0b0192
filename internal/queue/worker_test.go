package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangle-social/backend/internal/logger"
)

func init() {
	logger.InitializeForTests()
}

func testOptions() WorkerOptions {
	return WorkerOptions{
		Workers:     2,
		Lease:       2 * time.Second,
		MaxAttempts: 3,
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
		PollEvery:   5 * time.Millisecond,
	}
}

func TestTaskCompletesOnFirstAttempt(t *testing.T) {
	broker := NewMemoryBroker()
	worker := NewWorker(broker, testOptions())

	var mu sync.Mutex
	var ran int
	worker.Register("test.noop", func(ctx context.Context, task *Task) error {
		mu.Lock()
		ran++
		mu.Unlock()
		return nil
	})
	worker.Start()
	defer worker.Stop()

	d := NewDispatcher(broker)
	task, err := d.Enqueue(context.Background(), "test.noop", map[string]string{"k": "v"})
	require.NoError(t, err)

	require.NoError(t, worker.WaitForTask(task.ID, 5*time.Second))

	mu.Lock()
	assert.Equal(t, 1, ran)
	mu.Unlock()

	stats, err := broker.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Leased)
	assert.Zero(t, stats.DeadLetter)
}

func TestRetryConvergesToSameEndState(t *testing.T) {
	broker := NewMemoryBroker()
	worker := NewWorker(broker, testOptions())

	// Handler fails twice then succeeds; the observable end state (the
	// "effects" map) must equal that of a task that succeeds immediately
	effects := make(map[string]int)
	var mu sync.Mutex
	var attempts int
	worker.Register("test.flaky", func(ctx context.Context, task *Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		effects["done"] = 1 // idempotent write, not an append
		return nil
	})
	worker.Start()
	defer worker.Stop()

	d := NewDispatcher(broker)
	task, err := d.Enqueue(context.Background(), "test.flaky", nil)
	require.NoError(t, err)

	require.NoError(t, worker.WaitForTask(task.ID, 5*time.Second))

	mu.Lock()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, map[string]int{"done": 1}, effects)
	mu.Unlock()

	stats, _ := broker.Stats(context.Background())
	assert.Zero(t, stats.DeadLetter)
}

func TestExhaustedTaskIsDeadLetteredWithReason(t *testing.T) {
	broker := NewMemoryBroker()
	worker := NewWorker(broker, testOptions())

	worker.Register("test.doomed", func(ctx context.Context, task *Task) error {
		return errors.New("disk on fire")
	})
	worker.Start()
	defer worker.Stop()

	d := NewDispatcher(broker)
	task, err := d.Enqueue(context.Background(), "test.doomed", nil)
	require.NoError(t, err)

	require.NoError(t, worker.WaitForTask(task.ID, 5*time.Second))

	dead, err := broker.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, task.ID, dead[0].ID)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, "disk on fire", dead[0].LastError)
}

func TestPanickingHandlerDoesNotKillWorker(t *testing.T) {
	broker := NewMemoryBroker()
	opts := testOptions()
	opts.MaxAttempts = 1
	worker := NewWorker(broker, opts)

	worker.Register("test.panic", func(ctx context.Context, task *Task) error {
		panic("boom")
	})
	worker.Register("test.ok", func(ctx context.Context, task *Task) error {
		return nil
	})
	worker.Start()
	defer worker.Stop()

	d := NewDispatcher(broker)
	bad, err := d.Enqueue(context.Background(), "test.panic", nil)
	require.NoError(t, err)
	require.NoError(t, worker.WaitForTask(bad.ID, 5*time.Second))

	// Pool is still alive and processing
	ok, err := d.Enqueue(context.Background(), "test.ok", nil)
	require.NoError(t, err)
	require.NoError(t, worker.WaitForTask(ok.ID, 5*time.Second))

	dead, _ := broker.DeadLetters(context.Background(), 10)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].LastError, "handler panicked")
}

func TestExpiredLeaseReturnsTaskToQueue(t *testing.T) {
	broker := NewMemoryBroker()

	d := NewDispatcher(broker)
	task, err := d.Enqueue(context.Background(), "test.lease", nil)
	require.NoError(t, err)

	// First claim with a tiny lease that is allowed to expire
	claimed, err := broker.Dequeue(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, task.ID, claimed.ID)

	// While leased, nobody else can claim it
	other, err := broker.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, other)

	time.Sleep(5 * time.Millisecond)
	n, err := broker.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reclaimed, err := broker.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, task.ID, reclaimed.ID)
}

func TestNackDelaysRedelivery(t *testing.T) {
	broker := NewMemoryBroker()
	d := NewDispatcher(broker)
	task, err := d.Enqueue(context.Background(), "test.delay", nil)
	require.NoError(t, err)

	claimed, err := broker.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	claimed.Attempts = 1
	require.NoError(t, broker.Nack(context.Background(), claimed, "try later", 50*time.Millisecond))

	// Not ready yet
	again, err := broker.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, again)

	time.Sleep(60 * time.Millisecond)
	again, err = broker.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, 1, again.Attempts)
	assert.Equal(t, "try later", again.LastError)
}

func TestRequeueDeadLettersResetsAttempts(t *testing.T) {
	broker := NewMemoryBroker()
	d := NewDispatcher(broker)
	task, err := d.Enqueue(context.Background(), "test.requeue", nil)
	require.NoError(t, err)

	claimed, err := broker.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	claimed.Attempts = 3
	require.NoError(t, broker.DeadLetter(context.Background(), claimed, "gave up"))

	moved, err := broker.RequeueDeadLetters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	reclaimed, err := broker.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, task.ID, reclaimed.ID)
	assert.Zero(t, reclaimed.Attempts)
}

func TestBackoffIsBounded(t *testing.T) {
	w := NewWorker(NewMemoryBroker(), WorkerOptions{
		Workers:     1,
		BackoffBase: time.Second,
		BackoffMax:  10 * time.Second,
	})
	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 2*time.Second, w.backoff(2))
	assert.Equal(t, 4*time.Second, w.backoff(3))
	assert.Equal(t, 8*time.Second, w.backoff(4))
	assert.Equal(t, 10*time.Second, w.backoff(5))
	assert.Equal(t, 10*time.Second, w.backoff(50))
}

func TestStopWaitsForInFlightTask(t *testing.T) {
	broker := NewMemoryBroker()
	worker := NewWorker(broker, testOptions())

	started := make(chan struct{})
	var finished atomic.Bool
	worker.Register("test.slow", func(ctx context.Context, task *Task) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	worker.Start()

	_, err := NewDispatcher(broker).Enqueue(context.Background(), "test.slow", nil)
	require.NoError(t, err)

	<-started
	worker.Stop()

	// Stop must not return while the attempt is still running
	assert.True(t, finished.Load())
}
