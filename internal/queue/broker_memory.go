package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process Broker with the same lease semantics as the
// Redis implementation. Tests use it; it is not durable across restarts.
type MemoryBroker struct {
	mu      sync.Mutex
	pending []*Task
	delayed map[string]time.Time
	leased  map[string]time.Time
	tasks   map[string]*Task
	dead    []*Task
}

// NewMemoryBroker creates an empty in-memory broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		delayed: make(map[string]time.Time),
		leased:  make(map[string]time.Time),
		tasks:   make(map[string]*Task),
	}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, task *Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *task
	b.tasks[task.ID] = &cp
	b.pending = append(b.pending, &cp)
	return nil
}

func (b *MemoryBroker) Dequeue(ctx context.Context, lease time.Duration) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	// Promote due delayed tasks
	for id, ready := range b.delayed {
		if !ready.After(now) {
			delete(b.delayed, id)
			if t, ok := b.tasks[id]; ok {
				b.pending = append(b.pending, t)
			}
		}
	}

	if len(b.pending) == 0 {
		return nil, nil
	}
	task := b.pending[0]
	b.pending = b.pending[1:]
	b.leased[task.ID] = now.Add(lease)

	cp := *task
	return &cp, nil
}

func (b *MemoryBroker) Ack(ctx context.Context, task *Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.leased, task.ID)
	delete(b.tasks, task.ID)
	return nil
}

func (b *MemoryBroker) Nack(ctx context.Context, task *Task, reason string, retryIn time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.tasks[task.ID]
	if !ok {
		return nil
	}
	stored.Attempts = task.Attempts
	stored.LastError = reason
	delete(b.leased, task.ID)
	b.delayed[task.ID] = time.Now().Add(retryIn)
	return nil
}

func (b *MemoryBroker) DeadLetter(ctx context.Context, task *Task, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.tasks[task.ID]
	if !ok {
		cp := *task
		stored = &cp
	}
	stored.Attempts = task.Attempts
	stored.LastError = reason
	delete(b.leased, task.ID)
	delete(b.tasks, task.ID)
	b.dead = append(b.dead, stored)
	return nil
}

func (b *MemoryBroker) ReapExpired(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	reaped := 0
	for id, deadline := range b.leased {
		if deadline.Before(now) {
			delete(b.leased, id)
			if t, ok := b.tasks[id]; ok {
				b.pending = append(b.pending, t)
				reaped++
			}
		}
	}
	return reaped, nil
}

func (b *MemoryBroker) Stats(ctx context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Pending:    int64(len(b.pending)),
		Delayed:    int64(len(b.delayed)),
		Leased:     int64(len(b.leased)),
		DeadLetter: int64(len(b.dead)),
	}, nil
}

func (b *MemoryBroker) DeadLetters(ctx context.Context, limit int) ([]*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Task, 0, limit)
	for i := len(b.dead) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *b.dead[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (b *MemoryBroker) RequeueDeadLetters(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	moved := len(b.dead)
	for _, t := range b.dead {
		t.Attempts = 0
		b.tasks[t.ID] = t
		b.pending = append(b.pending, t)
	}
	b.dead = nil
	return moved, nil
}
