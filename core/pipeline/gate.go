package pipeline

import (
	"context"
	"errors"
	"fmt"

	"PaceShift/logger"
	"PaceShift/metrics"
	"PaceShift/model"
)

// ErrQuotaExceeded matches every QuotaExceededError via errors.Is.
var ErrQuotaExceeded = errors.New("quota exceeded")

// QuotaExceededError is returned when a user's daily allowance for a stage is used up.
type QuotaExceededError struct {
	Kind  model.Stage
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily %s quota of %d exceeded", e.Kind, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// QuotaStore is the quota ledger as seen by the gate.
type QuotaStore interface {
	CheckAndConsume(ctx context.Context, userID string, kind model.Stage) bool
	Peek(ctx context.Context, userID string, kind model.Stage) int64
	Limit(kind model.Stage) int
}

// Gate 两个阶段共用的准入点：无限角色直接放行，其余按日配额扣减
type Gate struct {
	quotas    QuotaStore
	unlimited map[model.Role]bool
	metrics   *metrics.Collector
}

// NewGate creates a gate; roles in unlimitedRoles bypass metering.
func NewGate(quotas QuotaStore, unlimitedRoles []string) *Gate {
	unlimited := make(map[model.Role]bool, len(unlimitedRoles))
	for _, r := range unlimitedRoles {
		unlimited[model.Role(r)] = true
	}
	return &Gate{quotas: quotas, unlimited: unlimited}
}

// WithMetrics attaches a metrics collector.
func (g *Gate) WithMetrics(c *metrics.Collector) *Gate {
	g.metrics = c
	return g
}

// IsUnlimited reports whether role bypasses quotas.
func (g *Gate) IsUnlimited(role model.Role) bool {
	return g.unlimited[role]
}

// Admit consumes one unit of stage's quota for userID, or returns a *QuotaExceededError.
func (g *Gate) Admit(ctx context.Context, userID string, role model.Role, stage model.Stage) error {
	if g.IsUnlimited(role) {
		g.metrics.RecordGateDecision(string(stage), metrics.ResultUnlimited)
		return nil
	}

	if !g.quotas.CheckAndConsume(ctx, userID, stage) {
		logger.Info("配额不足，拒绝请求",
			logger.String("userId", userID),
			logger.String("stage", string(stage)))
		g.metrics.RecordGateDecision(string(stage), metrics.ResultDenied)
		return &QuotaExceededError{Kind: stage, Limit: g.quotas.Limit(stage)}
	}

	g.metrics.RecordGateDecision(string(stage), metrics.ResultAdmitted)
	return nil
}

// Usage is one stage's consumption for today.
type Usage struct {
	Kind      model.Stage `json:"kind"`
	Used      int64       `json:"used"`
	Limit     int         `json:"limit"`
	Unlimited bool        `json:"unlimited"`
}

// Usage reads today's counters without consuming anything.
func (g *Gate) Usage(ctx context.Context, userID string, role model.Role) []Usage {
	out := make([]Usage, 0, len(model.Stages))
	for _, stage := range model.Stages {
		out = append(out, Usage{
			Kind:      stage,
			Used:      g.quotas.Peek(ctx, userID, stage),
			Limit:     g.quotas.Limit(stage),
			Unlimited: g.IsUnlimited(role),
		})
	}
	return out
}
