package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PaceShift/core/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanQueue 基于 channel 的内存队列
type chanQueue struct {
	mu         sync.Mutex
	items      chan *queue.Delivery
	acked      []string
	recovered  int
	left       int
	recoverErr error
}

func newChanQueue(payloads ...string) *chanQueue {
	q := &chanQueue{items: make(chan *queue.Delivery, 16)}
	for _, p := range payloads {
		q.items <- &queue.Delivery{Payload: []byte(p)}
	}
	return q
}

func (q *chanQueue) Name() string { return "test" }

func (q *chanQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error) {
	select {
	case d := <-q.items:
		return d, nil
	case <-time.After(timeout):
		return nil, queue.ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *chanQueue) Ack(_ context.Context, d *queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, string(d.Payload))
	return nil
}

func (q *chanQueue) Recover(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recovered++
	return 0, q.recoverErr
}

func (q *chanQueue) Leave(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.left++
	return nil
}

func (q *chanQueue) ackedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

func TestPool_ProcessesAndAcksEveryDelivery(t *testing.T) {
	q := newChanQueue("a", "b", "c", "d")

	var mu sync.Mutex
	var handled []string
	pool := NewPool(q, 2, func(_ context.Context, d *queue.Delivery) {
		mu.Lock()
		handled = append(handled, string(d.Payload))
		mu.Unlock()
	})
	pool.dequeueTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return q.ackedCount() == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, handled)
	assert.Equal(t, 1, q.recovered)
	assert.Equal(t, 1, q.left)
}

func TestPool_PanickingHandlerDoesNotStopPool(t *testing.T) {
	q := newChanQueue("boom", "ok")

	var mu sync.Mutex
	var handled []string
	pool := NewPool(q, 1, func(_ context.Context, d *queue.Delivery) {
		if string(d.Payload) == "boom" {
			panic("handler bug")
		}
		mu.Lock()
		handled = append(handled, string(d.Payload))
		mu.Unlock()
	})
	pool.dequeueTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return q.ackedCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"ok"}, handled)
}

func TestPool_WaitsForInFlightJob(t *testing.T) {
	q := newChanQueue("slow")
	started := make(chan struct{})
	release := make(chan struct{})

	pool := NewPool(q, 1, func(context.Context, *queue.Delivery) {
		close(started)
		<-release
	})
	pool.dequeueTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("pool returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, q.ackedCount())
}

func TestPool_RecoverErrorAborts(t *testing.T) {
	q := newChanQueue()
	q.recoverErr = errors.New("redis down")

	err := NewPool(q, 1, func(context.Context, *queue.Delivery) {}).Run(context.Background())
	assert.EqualError(t, err, "redis down")
}

func TestPool_WithRedisQueueAndWorker(t *testing.T) {
	// 端到端: RedisQueue -> Pool -> AnalysisWorker
	_, client := setupTestRedis(t)
	q := queue.NewRedisQueue(client, AnalysisQueue)

	jobs := newMemoryJobs()
	tr := &fakeTranscriber{steps: []pollStep{completed()}}
	w, task := newTestAnalysisWorker(t, jobs, tr, 2)
	require.NoError(t, q.Enqueue(context.Background(), task))

	pool := NewPool(q, 1, w.HandleDelivery)
	pool.dequeueTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, err := jobs.Read(context.Background(), task.JobID)
		return err == nil && job.Status == "READY_FOR_INPUT"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	keys, err := client.Keys(context.Background(), "queue:analysis:processing:*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPool_SecondPoolDoesNotStealInFlightJob(t *testing.T) {
	mr, client := setupTestRedis(t)
	first := queue.NewRedisQueue(client, AdjustmentQueue)
	second := queue.NewRedisQueue(client, AdjustmentQueue)
	require.NoError(t, first.Enqueue(context.Background(), AdjustmentTask{JobID: "j1"}))

	var runs int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	handler := func(context.Context, *queue.Delivery) {
		atomic.AddInt32(&runs, 1)
		started <- struct{}{}
		<-release
	}

	poolA := NewPool(first, 1, handler)
	poolA.dequeueTimeout = 20 * time.Millisecond
	poolB := NewPool(second, 1, handler)
	poolB.dequeueTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	doneA := make(chan error, 1)
	go func() { doneA <- poolA.Run(ctx) }()
	<-started

	doneB := make(chan error, 1)
	go func() { doneB <- poolB.Run(ctx) }()
	require.Eventually(t, func() bool {
		return mr.Exists("queue:adjustment:lease:" + second.ConsumerID())
	}, 2*time.Second, 5*time.Millisecond)

	// 给 B 足够的时间去取任务
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	close(release)
	cancel()
	require.NoError(t, <-doneA)
	require.NoError(t, <-doneB)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	n, err := first.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPool_PicksUpJobOfExpiredConsumer(t *testing.T) {
	mr, client := setupTestRedis(t)
	crashed := queue.NewRedisQueue(client, AdjustmentQueue)
	require.NoError(t, crashed.Heartbeat(context.Background()))
	require.NoError(t, crashed.Enqueue(context.Background(), AdjustmentTask{JobID: "j1"}))
	_, err := crashed.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(queue.DefaultLeaseTTL + time.Second)

	handled := make(chan string, 1)
	pool := NewPool(queue.NewRedisQueue(client, AdjustmentQueue), 1, func(_ context.Context, d *queue.Delivery) {
		var task AdjustmentTask
		assert.NoError(t, d.Decode(&task))
		handled <- task.JobID
	})
	pool.dequeueTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	select {
	case id := <-handled:
		assert.Equal(t, "j1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("job of the expired consumer was not recovered")
	}
	cancel()
	require.NoError(t, <-done)
}
