package pipeline

import (
	"context"
	"sync"
	"testing"

	"PaceShift/metrics"
	"PaceShift/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// countingQuotas 内存配额，用于不需要 Redis 的 gate 测试
type countingQuotas struct {
	mu    sync.Mutex
	used  map[model.Stage]int64
	limit int
}

func (q *countingQuotas) CheckAndConsume(_ context.Context, _ string, kind model.Stage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.used == nil {
		q.used = map[model.Stage]int64{}
	}
	q.used[kind]++
	return q.used[kind]-1 < int64(q.limit)
}

func (q *countingQuotas) Peek(_ context.Context, _ string, kind model.Stage) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used[kind]
}

func (q *countingQuotas) Limit(model.Stage) int { return q.limit }

func TestGate_AdmitUntilLimit(t *testing.T) {
	quotas := &countingQuotas{limit: 2}
	gate := NewGate(quotas, []string{"pro"})
	ctx := context.Background()

	assert.NoError(t, gate.Admit(ctx, "u", model.RoleFree, model.StageAdjustment))
	assert.NoError(t, gate.Admit(ctx, "u", model.RoleFree, model.StageAdjustment))

	err := gate.Admit(ctx, "u", model.RoleFree, model.StageAdjustment)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.EqualError(t, err, "daily adjustment quota of 2 exceeded")
}

func TestGate_UnlimitedRoleSkipsQuota(t *testing.T) {
	quotas := &countingQuotas{limit: 0}
	gate := NewGate(quotas, []string{"pro", "admin"})

	assert.NoError(t, gate.Admit(context.Background(), "u", model.RoleAdmin, model.StageAnalysis))
	assert.Equal(t, int64(0), quotas.Peek(context.Background(), "u", model.StageAnalysis))
	assert.False(t, gate.IsUnlimited(model.RoleFree))
}

func TestGate_RecordsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg)
	gate := NewGate(&countingQuotas{limit: 1}, []string{"pro"}).WithMetrics(collector)
	ctx := context.Background()

	_ = gate.Admit(ctx, "u", model.RoleFree, model.StageAnalysis)
	_ = gate.Admit(ctx, "u", model.RoleFree, model.StageAnalysis)
	_ = gate.Admit(ctx, "u", model.RolePro, model.StageAnalysis)

	// admitted, denied, unlimited 各一条序列
	count, err := testutil.GatherAndCount(reg, "test_gate_decisions_total")
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGate_UsageDoesNotConsume(t *testing.T) {
	quotas := &countingQuotas{limit: 3}
	gate := NewGate(quotas, nil)
	ctx := context.Background()
	_ = gate.Admit(ctx, "u", model.RoleFree, model.StageAnalysis)

	for i := 0; i < 3; i++ {
		usage := gate.Usage(ctx, "u", model.RoleFree)
		assert.Equal(t, []Usage{
			{Kind: model.StageAnalysis, Used: 1, Limit: 3},
			{Kind: model.StageAdjustment, Used: 0, Limit: 3},
		}, usage)
	}
}
