// Package queue implements the durable background task queue: enqueue on the
// request path, lease-based claims by background workers, bounded-backoff
// retries and a dead-letter list for tasks that exhaust their attempts.
// Delivery is at-least-once, so every task handler must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/metrics"
	"go.uber.org/zap"
)

// Task types handled by the background worker
const (
	TaskImageThumbnail      = "image.thumbnail"
	TaskNotificationDeliver = "notification.deliver"
	TaskPostPublish         = "post.publish"
)

// ThumbnailPayload asks the worker to produce a thumbnail for a post image
type ThumbnailPayload struct {
	PostID   string `json:"post_id"`
	ImageURL string `json:"image_url"`
}

// NotificationPayload references a persisted notification row; the task
// delivers it. Keying tasks by row ID is what makes re-delivery idempotent.
type NotificationPayload struct {
	NotificationID string `json:"notification_id"`
}

// PublishPayload flips a scheduled post live
type PublishPayload struct {
	PostID string `json:"post_id"`
}

// Status of a task in its lifecycle
type Status string

const (
	StatusEnqueued     Status = "enqueued"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusRetrying     Status = "retrying"
	StatusDeadLettered Status = "dead_lettered"
)

// Task is one unit of deferred work
type Task struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Stats summarizes queue depth for the admin CLI and metrics
type Stats struct {
	Pending    int64 `json:"pending"`
	Delayed    int64 `json:"delayed"`
	Leased     int64 `json:"leased"`
	DeadLetter int64 `json:"dead_letter"`
}

// Broker is the durable queue contract: enqueue, dequeue-with-lease, ack and
// nack-with-retry. RedisBroker is the production implementation; MemoryBroker
// backs tests.
type Broker interface {
	// Enqueue makes the task durable before returning
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue claims the oldest ready task for lease, or returns (nil, nil)
	// when the queue is empty. Exactly one worker holds a task's lease at a
	// time; a lease that expires before Ack returns the task to the queue.
	Dequeue(ctx context.Context, lease time.Duration) (*Task, error)

	// Ack marks the task completed and releases its lease
	Ack(ctx context.Context, task *Task) error

	// Nack records a failed attempt and re-enqueues the task after retryIn
	Nack(ctx context.Context, task *Task, reason string, retryIn time.Duration) error

	// DeadLetter parks the task with its final error reason retained
	DeadLetter(ctx context.Context, task *Task, reason string) error

	// ReapExpired returns expired leases to the queue; called periodically
	ReapExpired(ctx context.Context) (int, error)

	Stats(ctx context.Context) (Stats, error)
	DeadLetters(ctx context.Context, limit int) ([]*Task, error)
	RequeueDeadLetters(ctx context.Context) (int, error)
}

// Dispatcher is the request-path handle to the queue. Enqueue failures on
// best-effort side effects are the caller's choice to swallow; EnqueueBestEffort
// logs and moves on.
type Dispatcher struct {
	broker Broker
}

// NewDispatcher creates a dispatcher over a broker
func NewDispatcher(broker Broker) *Dispatcher {
	return &Dispatcher{broker: broker}
}

// Enqueue marshals payload and makes the task durable
func (d *Dispatcher) Enqueue(ctx context.Context, taskType string, payload interface{}) (*Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	task := &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := d.broker.Enqueue(ctx, task); err != nil {
		return nil, err
	}
	metrics.Get().TasksEnqueuedTotal.WithLabelValues(taskType).Inc()
	return task, nil
}

// EnqueueBestEffort enqueues and logs failures instead of returning them.
// Used where a lost side effect must not fail the triggering request
// (comment notifications).
func (d *Dispatcher) EnqueueBestEffort(ctx context.Context, taskType string, payload interface{}) {
	if _, err := d.Enqueue(ctx, taskType, payload); err != nil {
		logger.Log.Error("task enqueue failed, dropping deferred work",
			zap.String("task_type", taskType),
			zap.Error(err),
		)
	}
}
