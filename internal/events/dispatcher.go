package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"capsule-go/internal/config"
	"capsule-go/internal/logger"
	"capsule-go/internal/services"
)

// InviteSink delivers one invite notification to the outside world.
type InviteSink interface {
	DeliverInvite(ctx context.Context, invite services.InviteNotification) error
}

// GraphEventSink delivers a batch of social graph events.
type GraphEventSink interface {
	DeliverGraphEvents(ctx context.Context, events []services.GraphEvent) error
}

// RefreshSink schedules a knowledge rebuild for a capsule.
type RefreshSink interface {
	DeliverKnowledgeRefresh(ctx context.Context, capsuleID, name string) error
}

// RefreshCoalescer reports whether a refresh for capsuleID should go out now,
// or was already scheduled within the current window.
type RefreshCoalescer interface {
	ShouldRefresh(ctx context.Context, capsuleID string) (bool, error)
}

// Sinks 各类副作用的投递目标，未配置的 sink 对应的调用会被直接忽略
type Sinks struct {
	Invites   InviteSink
	Graph     GraphEventSink
	Refresh   RefreshSink
	Coalescer RefreshCoalescer
}

type task struct {
	name string
	ctx  context.Context
	run  func(ctx context.Context) error
}

// Dispatcher runs collaborator side effects on a bounded worker pool.
// Callers never block: when the queue is full the task is dropped and logged.
type Dispatcher struct {
	sinks   Sinks
	workers int
	tasks   chan task
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

var (
	_ services.InviteNotifier      = (*Dispatcher)(nil)
	_ services.GraphEventPublisher = (*Dispatcher)(nil)
	_ services.KnowledgeRefresher  = (*Dispatcher)(nil)
)

// NewDispatcher 创建并启动工作池
func NewDispatcher(cfg config.DispatcherConfig, sinks Sinks) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sinks:   sinks,
		workers: workers,
		tasks:   make(chan task, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	logger.Info("Dispatcher started", zap.Int("workers", workers), zap.Int("queueSize", queueSize))
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case t, ok := <-d.tasks:
			if !ok {
				return
			}
			d.execute(id, t)
		}
	}
}

func (d *Dispatcher) execute(workerID int, t task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Dispatcher task panicked",
				zap.Int("worker", workerID),
				zap.String("task", t.name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := t.run(t.ctx); err != nil {
		logger.Warn("Dispatcher task failed",
			zap.Int("worker", workerID),
			zap.String("task", t.name),
			zap.Error(err),
		)
	}
}

// submit enqueues without blocking. The task context is detached from the
// caller so a finished request does not cancel its own side effects.
func (d *Dispatcher) submit(ctx context.Context, name string, run func(ctx context.Context) error) bool {
	t := task{name: name, ctx: context.WithoutCancel(ctx), run: run}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		logger.Warn("Dispatcher is shut down, task dropped", zap.String("task", name))
		return false
	}

	select {
	case d.tasks <- t:
		return true
	default:
		d.dropped.Add(1)
		logger.Warn("Dispatcher queue full, task dropped", zap.String("task", name))
		return false
	}
}

// NotifyInvite implements services.InviteNotifier.
func (d *Dispatcher) NotifyInvite(ctx context.Context, invite services.InviteNotification) {
	sink := d.sinks.Invites
	if sink == nil {
		return
	}
	d.submit(ctx, "invite", func(ctx context.Context) error {
		if err := sink.DeliverInvite(ctx, invite); err != nil {
			return fmt.Errorf("deliver invite %s: %w", invite.RequestID, err)
		}
		return nil
	})
}

// PublishGraphEvents implements services.GraphEventPublisher.
func (d *Dispatcher) PublishGraphEvents(ctx context.Context, events []services.GraphEvent) {
	sink := d.sinks.Graph
	if sink == nil || len(events) == 0 {
		return
	}
	batch := append([]services.GraphEvent(nil), events...)
	d.submit(ctx, "graph_events", func(ctx context.Context) error {
		return sink.DeliverGraphEvents(ctx, batch)
	})
}

// EnqueueKnowledgeRefresh implements services.KnowledgeRefresher.
func (d *Dispatcher) EnqueueKnowledgeRefresh(ctx context.Context, capsuleID, name string) {
	sink := d.sinks.Refresh
	if sink == nil {
		return
	}
	coalescer := d.sinks.Coalescer
	d.submit(ctx, "knowledge_refresh", func(ctx context.Context) error {
		if coalescer != nil {
			ok, err := coalescer.ShouldRefresh(ctx, capsuleID)
			if err != nil {
				// 合并器不可用时照常刷新
				logger.Warn("Refresh coalescer unavailable", zap.String("capsuleID", capsuleID), zap.Error(err))
			} else if !ok {
				logger.Debug("Knowledge refresh coalesced", zap.String("capsuleID", capsuleID))
				return nil
			}
		}
		if err := sink.DeliverKnowledgeRefresh(ctx, capsuleID, name); err != nil {
			return fmt.Errorf("deliver knowledge refresh for %s: %w", capsuleID, err)
		}
		return nil
	})
}

// Dropped returns how many tasks were rejected because the queue was full or closed.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Shutdown stops accepting tasks and drains the queue. If ctx expires first,
// workers are stopped after their current task and the remaining queue is discarded.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.tasks)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		logger.Info("Dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		logger.Warn("Dispatcher shutdown deadline exceeded", zap.Int("pending", len(d.tasks)))
		return ctx.Err()
	}
}
