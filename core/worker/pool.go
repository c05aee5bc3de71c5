package worker

import (
	"context"
	"errors"
	"time"

	"PaceShift/core/queue"
	"PaceShift/logger"

	"golang.org/x/sync/errgroup"
)

// TaskQueue is the reliable queue a pool consumes.
type TaskQueue interface {
	Name() string
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	// Recover 续约当前消费者，并回收租约已过期的消费者遗留的任务
	Recover(ctx context.Context) (int, error)
	// Leave 注销当前消费者
	Leave(ctx context.Context) error
}

// Handler processes one delivery. It must not return until the job is finished.
type Handler func(ctx context.Context, d *queue.Delivery)

// Pool 固定并发的长驻 worker 池，每个 goroutine 一次只处理一个任务
type Pool struct {
	queue          TaskQueue
	concurrency    int
	handler        Handler
	dequeueTimeout    time.Duration
	retryDelay        time.Duration
	heartbeatInterval time.Duration
}

// NewPool creates a pool of concurrency workers for q.
func NewPool(q TaskQueue, concurrency int, handler Handler) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		queue:          q,
		concurrency:    concurrency,
		handler:        handler,
		dequeueTimeout:    5 * time.Second,
		retryDelay:        time.Second,
		heartbeatInterval: queue.DefaultLeaseTTL / 3,
	}
}

// Run reclaims deliveries left by dead consumers, then consumes until ctx is cancelled.
// In-flight jobs are allowed to finish before Run returns, and the lease is kept alive meanwhile.
func (p *Pool) Run(ctx context.Context) error {
	if _, err := p.queue.Recover(ctx); err != nil {
		return err
	}

	logger.Info("启动 worker 池", logger.String("queue", p.queue.Name()), logger.Int("concurrency", p.concurrency))

	// 心跳不跟随 ctx 取消，直到所有在途任务结束
	stopHeartbeat := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		p.heartbeat(context.WithoutCancel(ctx), stopHeartbeat)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		workerID := i
		g.Go(func() error {
			p.loop(gctx, workerID)
			return nil
		})
	}
	err := g.Wait()

	close(stopHeartbeat)
	<-heartbeatDone
	if leaveErr := p.queue.Leave(context.WithoutCancel(ctx)); leaveErr != nil {
		logger.Error("注销消费者失败", logger.String("queue", p.queue.Name()), logger.ErrorField(leaveErr))
	}

	logger.Info("worker 池已停止", logger.String("queue", p.queue.Name()))
	return err
}

// heartbeat 定期续约，顺带回收其他已失联消费者的任务
func (p *Pool) heartbeat(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := p.queue.Recover(ctx); err != nil {
				logger.Error("消费者续约失败", logger.String("queue", p.queue.Name()), logger.ErrorField(err))
			}
		}
	}
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	for ctx.Err() == nil {
		d, err := p.queue.Dequeue(ctx, p.dequeueTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("获取任务失败",
				logger.String("queue", p.queue.Name()),
				logger.Int("worker", workerID),
				logger.ErrorField(err))
			if sleepContext(ctx, p.retryDelay) != nil {
				return
			}
			continue
		}

		p.handle(ctx, workerID, d)

		if err := p.queue.Ack(context.WithoutCancel(ctx), d); err != nil {
			logger.Error("确认任务失败", logger.String("queue", p.queue.Name()), logger.ErrorField(err))
		}
	}
}

// handle 兜底捕获 handler 内未处理的 panic，避免拖垮整个池
func (p *Pool) handle(ctx context.Context, workerID int, d *queue.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("任务处理发生 panic",
				logger.String("queue", p.queue.Name()),
				logger.Int("worker", workerID),
				logger.Any("panic", r))
		}
	}()
	p.handler(ctx, d)
}
