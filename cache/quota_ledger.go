package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"PaceShift/logger"
	"PaceShift/model"

	"github.com/redis/go-redis/v9"
)

const quotaKey = "quota:%s:%s:%s" // String: kind, userID, UTC 日期

// QuotaPeekSentinel is what Peek reports when the store cannot be read.
const QuotaPeekSentinel = math.MaxInt64

// consumeScript 自增并在当天首次写入时设置过期，一次往返完成
var consumeScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if redis.call('TTL', KEYS[1]) < 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// QuotaLimits 每种用量的每日上限
type QuotaLimits map[model.Stage]int

// QuotaLedger 按用户按天计数，UTC 零点过期即重置
type QuotaLedger struct {
	client *redis.Client
	limits QuotaLimits
	now    func() time.Time
}

// NewQuotaLedger 创建配额台账
func NewQuotaLedger(client *redis.Client, limits QuotaLimits) *QuotaLedger {
	return &QuotaLedger{client: client, limits: limits, now: time.Now}
}

// WithClock replaces the clock used to pick the counter's day.
func (q *QuotaLedger) WithClock(now func() time.Time) *QuotaLedger {
	q.now = now
	return q
}

// Limit returns the daily limit for kind; unknown kinds get 0.
func (q *QuotaLedger) Limit(kind model.Stage) int {
	return q.limits[kind]
}

func (q *QuotaLedger) key(userID string, kind model.Stage) string {
	return fmt.Sprintf(quotaKey, kind, userID, q.now().UTC().Format("2006-01-02"))
}

// Peek returns today's count without modifying it.
// A storage error reports QuotaPeekSentinel so callers treat the user as exhausted.
func (q *QuotaLedger) Peek(ctx context.Context, userID string, kind model.Stage) int64 {
	n, err := q.client.Get(ctx, q.key(userID, kind)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		logger.Error("读取配额失败",
			logger.String("userId", userID),
			logger.String("kind", string(kind)),
			logger.ErrorField(err))
		return QuotaPeekSentinel
	}
	return n
}

// CheckAndConsume increments today's counter and reports whether the value before
// the increment was under the limit. Storage errors deny.
func (q *QuotaLedger) CheckAndConsume(ctx context.Context, userID string, kind model.Stage) bool {
	limit, ok := q.limits[kind]
	if !ok {
		logger.Warn("未知的配额类型", logger.String("kind", string(kind)))
		return false
	}

	now := q.now()
	ttl := SecondsUntilUTCMidnight(now)

	current, err := consumeScript.Run(ctx, q.client, []string{q.key(userID, kind)}, ttl).Int64()
	if err != nil {
		logger.Error("配额扣减失败，拒绝请求",
			logger.String("userId", userID),
			logger.String("kind", string(kind)),
			logger.ErrorField(err))
		return false
	}

	return current-1 < int64(limit)
}

// SecondsUntilUTCMidnight returns the whole seconds left in now's UTC day, at least 1.
func SecondsUntilUTCMidnight(now time.Time) int64 {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	secs := int64(math.Ceil(midnight.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
