package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisBroker(rdb, "tasks")
}

func TestDequeueSurfacesBackendFailure(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	b := NewRedisBroker(rdb, "tasks")

	// a down backend is an error, not an empty queue
	task, err := b.Dequeue(context.Background(), time.Minute)
	assert.Nil(t, task)
	assert.Error(t, err)
}

func TestDequeueEmptyQueueIsNotAnError(t *testing.T) {
	b := testRedisBroker(t)

	task, err := b.Dequeue(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestRedisBrokerClaimsTaskExactlyOnce(t *testing.T) {
	b := testRedisBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, &Task{ID: "t1", Type: "test.noop"}))

	task, err := b.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "t1", task.ID)

	again, err := b.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, b.Ack(ctx, task))
	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Leased)
}

func TestRedisRequeueDeadLettersMovesEveryTask(t *testing.T) {
	b := testRedisBroker(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, b.Enqueue(ctx, &Task{ID: id, Type: "test.noop", Attempts: 3}))
		task, err := b.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, task)
		require.NoError(t, b.DeadLetter(ctx, task, "boom"))
	}

	moved, err := b.RequeueDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	// every ID landed back in pending, none stranded in between
	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Zero(t, stats.DeadLetter)

	// the re-run starts with a fresh attempt budget
	task, err := b.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Zero(t, task.Attempts)
}
