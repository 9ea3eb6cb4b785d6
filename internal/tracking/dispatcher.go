package tracking

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// dispatcher 有界、有序、非阻塞的后台任务队列
// 队列满时丢弃新任务并告警，采样路径永不等待网络
type dispatcher struct {
	tasks   chan task
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	detached sync.WaitGroup
}

func newDispatcher(size int, timeout time.Duration, logger *zap.Logger) *dispatcher {
	if size <= 0 {
		size = 1
	}
	d := &dispatcher{
		tasks:   make(chan task, size),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for t := range d.tasks {
		d.execute(t)
	}
}

func (d *dispatcher) execute(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := t.fn(ctx); err != nil {
		d.logger.Warn("Background task failed",
			zap.String("task", t.name),
			zap.Error(err),
		)
	}
}

// submit 入队，返回是否被接受
func (d *dispatcher) submit(name string, fn func(ctx context.Context) error) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.tasks <- task{name: name, fn: fn}:
		return true
	default:
		d.logger.Warn("Dispatch queue full, dropping task", zap.String("task", name))
		return false
	}
}

// spawn 不经过队列，在独立 goroutine 中执行，队列满时也不会丢弃
// 关闭后调用则同步执行
func (d *dispatcher) spawn(name string, fn func(ctx context.Context) error) {
	t := task{name: name, fn: fn}
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.execute(t)
		return
	}
	d.detached.Add(1)
	d.mu.RUnlock()

	go func() {
		defer d.detached.Done()
		d.execute(t)
	}()
}

// close 停止接收并等待已入队和 spawn 的任务执行完
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.tasks)
	}
	d.mu.Unlock()
	<-d.done
	d.detached.Wait()
}
