package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/metrics"
	"go.uber.org/zap"
)

// HandlerFunc processes one task. Handlers must be idempotent: the queue is
// at-least-once and a lease expiry or crash re-runs the task.
type HandlerFunc func(ctx context.Context, task *Task) error

// WorkerOptions tunes the worker pool
type WorkerOptions struct {
	Workers     int
	Lease       time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	PollEvery   time.Duration
}

// DefaultWorkerOptions matches the production config defaults
func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Workers:     4,
		Lease:       30 * time.Second,
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		BackoffMax:  5 * time.Minute,
		PollEvery:   250 * time.Millisecond,
	}
}

// Worker runs the background pool: claims tasks under lease, dispatches to
// registered handlers, retries with exponential backoff and dead-letters
// exhausted tasks. One bad task never takes a worker down.
type Worker struct {
	broker   Broker
	opts     WorkerOptions
	handlers map[string]HandlerFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// taskDone receives task IDs as they reach a terminal state; tests wait
	// on it
	taskDone chan string
}

// NewWorker creates a worker pool over broker
func NewWorker(broker Broker, opts WorkerOptions) *Worker {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		broker:   broker,
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		ctx:      ctx,
		cancel:   cancel,
		taskDone: make(chan string, 100),
	}
}

// Register binds a handler to a task type. Must be called before Start.
func (w *Worker) Register(taskType string, h HandlerFunc) {
	w.handlers[taskType] = h
}

// Start launches the worker pool and the lease reaper
func (w *Worker) Start() {
	logger.Log.Info("Starting task workers",
		zap.Int("workers", w.opts.Workers),
		zap.Duration("lease", w.opts.Lease),
	)
	w.wg.Add(w.opts.Workers + 1)
	for i := 0; i < w.opts.Workers; i++ {
		go w.loop(i)
	}
	go w.reaper()
}

// Stop shuts the pool down and blocks until every loop has finished its
// current attempt, so no ack races a process exit
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// WaitForTask blocks until the given task reaches a terminal state (acked or
// dead-lettered) or the timeout elapses. For tests.
func (w *Worker) WaitForTask(taskID string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case id := <-w.taskDone:
			if id == taskID {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for task %s", taskID)
		case <-w.ctx.Done():
			return fmt.Errorf("worker stopped")
		}
	}
}

func (w *Worker) loop(workerID int) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		task, err := w.broker.Dequeue(w.ctx, w.opts.Lease)
		if err != nil {
			logger.Log.Warn("task dequeue failed",
				zap.Int("worker_id", workerID),
				zap.Error(err),
			)
			w.sleep(w.opts.PollEvery * 4)
			continue
		}
		if task == nil {
			w.sleep(w.opts.PollEvery)
			continue
		}

		w.run(workerID, task)
	}
}

func (w *Worker) run(workerID int, task *Task) {
	start := time.Now()
	task.Attempts++

	err := w.invoke(task)
	metrics.Get().TaskDuration.WithLabelValues(task.Type).Observe(time.Since(start).Seconds())
	if err == nil {
		if ackErr := w.broker.Ack(w.ctx, task); ackErr != nil {
			logger.Log.Warn("task ack failed", logger.WithTaskID(task.ID), zap.Error(ackErr))
		}
		metrics.Get().TasksCompletedTotal.WithLabelValues(task.Type).Inc()
		logger.Log.Info("task completed",
			zap.Int("worker_id", workerID),
			logger.WithTaskID(task.ID),
			zap.String("task_type", task.Type),
			zap.Int("attempt", task.Attempts),
			zap.Duration("took", time.Since(start)),
		)
		w.signal(task.ID)
		return
	}

	metrics.Get().TasksFailedTotal.WithLabelValues(task.Type).Inc()

	if task.Attempts >= w.opts.MaxAttempts {
		metrics.Get().DeadLetteredTotal.WithLabelValues(task.Type).Inc()
		logger.Log.Error("task dead-lettered",
			zap.Int("worker_id", workerID),
			logger.WithTaskID(task.ID),
			zap.String("task_type", task.Type),
			zap.Int("attempts", task.Attempts),
			zap.Error(err),
		)
		if dlErr := w.broker.DeadLetter(w.ctx, task, err.Error()); dlErr != nil {
			logger.Log.Error("dead-letter write failed", logger.WithTaskID(task.ID), zap.Error(dlErr))
		}
		w.signal(task.ID)
		return
	}

	retryIn := w.backoff(task.Attempts)
	logger.Log.Warn("task failed, retrying",
		zap.Int("worker_id", workerID),
		logger.WithTaskID(task.ID),
		zap.String("task_type", task.Type),
		zap.Int("attempt", task.Attempts),
		zap.Duration("retry_in", retryIn),
		zap.Error(err),
	)
	if nackErr := w.broker.Nack(w.ctx, task, err.Error(), retryIn); nackErr != nil {
		logger.Log.Error("task nack failed", logger.WithTaskID(task.ID), zap.Error(nackErr))
	}
}

// invoke runs the handler with panic isolation and a lease-bounded context
func (w *Worker) invoke(task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	h, ok := w.handlers[task.Type]
	if !ok {
		return fmt.Errorf("no handler registered for task type %q", task.Type)
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.opts.Lease)
	defer cancel()
	return h(ctx, task)
}

// backoff computes bounded exponential backoff for the given attempt count
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.opts.BackoffMax {
			return w.opts.BackoffMax
		}
	}
	if d > w.opts.BackoffMax {
		return w.opts.BackoffMax
	}
	return d
}

func (w *Worker) reaper() {
	defer w.wg.Done()
	interval := w.opts.Lease / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			n, err := w.broker.ReapExpired(w.ctx)
			if err != nil {
				logger.Log.Warn("lease reap failed", zap.Error(err))
				continue
			}
			if n > 0 {
				metrics.Get().LeaseReclaimedTotal.Add(float64(n))
				logger.Log.Info("reclaimed expired task leases", zap.Int("count", n))
			}
			if stats, serr := w.broker.Stats(w.ctx); serr == nil {
				m := metrics.Get()
				m.QueueDepth.WithLabelValues("pending").Set(float64(stats.Pending))
				m.QueueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))
				m.QueueDepth.WithLabelValues("leased").Set(float64(stats.Leased))
				m.QueueDepth.WithLabelValues("dead_letter").Set(float64(stats.DeadLetter))
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.ctx.Done():
	case <-time.After(d):
	}
}

func (w *Worker) signal(taskID string) {
	select {
	case w.taskDone <- taskID:
	default:
	}
}
