package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PaceShift/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pendingKey    = "queue:%s:pending"       // List: 待处理任务，左进右出
	processingKey = "queue:%s:processing:%s" // List: 某个消费者已取出未确认的任务
	leaseKey      = "queue:%s:lease:%s"      // String: 消费者心跳，过期即视为已退出
	consumersKey  = "queue:%s:consumers"     // Set: 登记过的消费者
)

// DefaultLeaseTTL is how long a consumer stays alive without a heartbeat.
const DefaultLeaseTTL = 30 * time.Second

// ErrEmpty is returned by Dequeue when nothing arrived within the timeout.
var ErrEmpty = errors.New("queue is empty")

// Delivery 一条已取出、待确认的任务
type Delivery struct {
	Payload []byte
	raw     string
}

// Decode unmarshals the payload into v.
func (d *Delivery) Decode(v interface{}) error {
	return json.Unmarshal(d.Payload, v)
}

// RedisQueue 基于 Redis List 的可靠队列。每个消费者有自己的 processing 列表和心跳租约，
// 只有租约过期的消费者遗留的任务才会被放回 pending。
type RedisQueue struct {
	client     *redis.Client
	name       string
	consumerID string
	leaseTTL   time.Duration
	pending    string
	processing string
	lease      string
	consumers  string
}

// NewRedisQueue 创建命名队列，每次调用都是一个新的消费者身份
func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	consumerID := uuid.NewString()
	return &RedisQueue{
		client:     client,
		name:       name,
		consumerID: consumerID,
		leaseTTL:   DefaultLeaseTTL,
		pending:    fmt.Sprintf(pendingKey, name),
		processing: fmt.Sprintf(processingKey, name, consumerID),
		lease:      fmt.Sprintf(leaseKey, name, consumerID),
		consumers:  fmt.Sprintf(consumersKey, name),
	}
}

// Name returns the queue name.
func (q *RedisQueue) Name() string {
	return q.name
}

// ConsumerID identifies this consumer's processing list and lease.
func (q *RedisQueue) ConsumerID() string {
	return q.consumerID
}

// HeartbeatInterval is how often a consumer should call Recover to keep its lease.
func (q *RedisQueue) HeartbeatInterval() time.Duration {
	return q.leaseTTL / 3
}

// Enqueue appends a JSON-encoded task.
func (q *RedisQueue) Enqueue(ctx context.Context, task interface{}) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.pending, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue to %s: %w", q.name, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the oldest task and moves it to this consumer's processing list.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue from %s: %w", q.name, err)
	}
	return &Delivery{Payload: []byte(raw), raw: raw}, nil
}

// Ack removes a finished delivery from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.client.LRem(ctx, q.processing, 1, d.raw).Err()
}

// Heartbeat registers this consumer and extends its lease.
func (q *RedisQueue) Heartbeat(ctx context.Context) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.lease, time.Now().UTC().Format(time.RFC3339), q.leaseTTL)
		pipe.SAdd(ctx, q.consumers, q.consumerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to heartbeat %s: %w", q.name, err)
	}
	return nil
}

// Recover refreshes this consumer's lease, then puts the unacknowledged deliveries of
// every consumer whose lease has expired back at the head of the pending list.
// Deliveries held by live consumers are left alone.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	if err := q.Heartbeat(ctx); err != nil {
		return 0, err
	}

	ids, err := q.client.SMembers(ctx, q.consumers).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list consumers of %s: %w", q.name, err)
	}

	moved := 0
	for _, id := range ids {
		if id == q.consumerID {
			continue
		}
		alive, err := q.client.Exists(ctx, fmt.Sprintf(leaseKey, q.name, id)).Result()
		if err != nil {
			return moved, fmt.Errorf("failed to check lease of %s: %w", id, err)
		}
		if alive > 0 {
			continue
		}

		n, err := q.drain(ctx, fmt.Sprintf(processingKey, q.name, id))
		moved += n
		if err != nil {
			return moved, err
		}
		if err := q.client.SRem(ctx, q.consumers, id).Err(); err != nil {
			return moved, fmt.Errorf("failed to forget consumer %s: %w", id, err)
		}
		if n > 0 {
			logger.Warn("恢复未确认的任务",
				logger.String("queue", q.name),
				logger.String("consumer", id),
				logger.Int("count", n))
		}
	}
	return moved, nil
}

// Leave hands back anything still held, then drops this consumer's lease and registration.
func (q *RedisQueue) Leave(ctx context.Context) error {
	if _, err := q.drain(ctx, q.processing); err != nil {
		return err
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, q.lease)
		pipe.SRem(ctx, q.consumers, q.consumerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to leave %s: %w", q.name, err)
	}
	return nil
}

// drain 逐条移回 pending，LMOVE 保证并发恢复时每条任务只被移动一次
func (q *RedisQueue) drain(ctx context.Context, processing string) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, processing, q.pending, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover %s: %w", q.name, err)
		}
		moved++
	}
}

// Len returns the pending length.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pending).Result()
}
