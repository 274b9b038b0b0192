package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout, all under one prefix so multiple queues can share a Redis:
//   {p}:pending  LIST   task IDs ready to run, oldest at the tail
//   {p}:delayed  ZSET   task ID -> unix time it becomes ready
//   {p}:leased   ZSET   task ID -> unix time the lease expires
//   {p}:dead     LIST   dead-lettered task IDs
//   {p}:task:<id> STRING task JSON; the durable record
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBroker creates a broker over an existing Redis connection
func NewRedisBroker(rdb *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "tasks"
	}
	return &RedisBroker{rdb: rdb, prefix: prefix}
}

func (b *RedisBroker) key(parts ...string) string {
	k := b.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// claimScript atomically promotes due delayed tasks, pops the oldest pending
// task and records its lease. Atomicity here is what guarantees a claimed
// task is never lost between the pop and the lease write.
const claimScript = `
local pending = KEYS[1]
local delayed = KEYS[2]
local leased = KEYS[3]
local now = tonumber(ARGV[1])
local deadline = tonumber(ARGV[2])

local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  redis.call('ZREM', delayed, id)
  redis.call('LPUSH', pending, id)
end

local id = redis.call('RPOP', pending)
if not id then
  return false
end
redis.call('ZADD', leased, deadline, id)
return id
`

// reapScript returns expired leases to the pending list
const reapScript = `
local leased = KEYS[1]
local pending = KEYS[2]
local now = tonumber(ARGV[1])

local expired = redis.call('ZRANGEBYSCORE', leased, '-inf', now)
for _, id in ipairs(expired) do
  redis.call('ZREM', leased, id)
  redis.call('LPUSH', pending, id)
end
return #expired
`

func (b *RedisBroker) Enqueue(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, b.key("task", task.ID), raw, 0)
	pipe.LPush(ctx, b.key("pending"), task.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Dequeue(ctx context.Context, lease time.Duration) (*Task, error) {
	now := time.Now()
	res, err := b.rdb.Eval(ctx, claimScript,
		[]string{b.key("pending"), b.key("delayed"), b.key("leased")},
		now.Unix(), now.Add(lease).Unix(),
	).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if err == redis.Nil || res == nil {
		return nil, nil
	}

	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected claim result %T", res)
	}
	return b.load(ctx, id)
}

func (b *RedisBroker) Ack(ctx context.Context, task *Task) error {
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, b.key("leased"), task.ID)
	pipe.Del(ctx, b.key("task", task.ID))
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Nack(ctx context.Context, task *Task, reason string, retryIn time.Duration) error {
	task.LastError = reason
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, b.key("task", task.ID), raw, 0)
	pipe.ZRem(ctx, b.key("leased"), task.ID)
	pipe.ZAdd(ctx, b.key("delayed"), redis.Z{
		Score:  float64(time.Now().Add(retryIn).Unix()),
		Member: task.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) DeadLetter(ctx context.Context, task *Task, reason string) error {
	task.LastError = reason
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, b.key("task", task.ID), raw, 0)
	pipe.ZRem(ctx, b.key("leased"), task.ID)
	pipe.LPush(ctx, b.key("dead"), task.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) ReapExpired(ctx context.Context) (int, error) {
	res, err := b.rdb.Eval(ctx, reapScript,
		[]string{b.key("leased"), b.key("pending")},
		time.Now().Unix(),
	).Int()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return res, nil
}

func (b *RedisBroker) Stats(ctx context.Context) (Stats, error) {
	ctxStats := Stats{}
	pipe := b.rdb.Pipeline()
	pending := pipe.LLen(ctx, b.key("pending"))
	delayed := pipe.ZCard(ctx, b.key("delayed"))
	leased := pipe.ZCard(ctx, b.key("leased"))
	dead := pipe.LLen(ctx, b.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return ctxStats, err
	}
	ctxStats.Pending = pending.Val()
	ctxStats.Delayed = delayed.Val()
	ctxStats.Leased = leased.Val()
	ctxStats.DeadLetter = dead.Val()
	return ctxStats, nil
}

func (b *RedisBroker) DeadLetters(ctx context.Context, limit int) ([]*Task, error) {
	ids, err := b.rdb.LRange(ctx, b.key("dead"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, lerr := b.load(ctx, id)
		if lerr != nil || task == nil {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (b *RedisBroker) RequeueDeadLetters(ctx context.Context) (int, error) {
	moved := 0
	for {
		// Peek first so the attempt budget is reset while the ID is
		// still parked, then move it list-to-list in one command. A
		// crash at any point leaves the ID in exactly one of the lists.
		id, err := b.rdb.LIndex(ctx, b.key("dead"), -1).Result()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		task, lerr := b.load(ctx, id)
		if lerr == nil && task != nil {
			task.Attempts = 0
			if raw, merr := json.Marshal(task); merr == nil {
				b.rdb.Set(ctx, b.key("task", id), raw, 0)
			}
		}
		if err := b.rdb.LMove(ctx, b.key("dead"), b.key("pending"), "RIGHT", "LEFT").Err(); err != nil {
			return moved, err
		}
		moved++
	}
}

func (b *RedisBroker) load(ctx context.Context, id string) (*Task, error) {
	raw, err := b.rdb.Get(ctx, b.key("task", id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, err
	}
	return &task, nil
}
