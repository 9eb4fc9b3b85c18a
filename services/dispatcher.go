package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"autofilter/metrics"
)

// DefaultTaskTimeout bounds a single dispatched task
const DefaultTaskTimeout = 30 * time.Second

// Task is a unit of outbound work, usually one or more Bot API calls
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	fn   Task
}

// Dispatcher runs tasks on a fixed pool of workers fed by a bounded queue.
// Submit never blocks: when the queue is full the task is dropped.
type Dispatcher struct {
	queue       chan namedTask
	group       *errgroup.Group
	ctx         context.Context
	cancel      context.CancelFunc
	taskTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines draining a queue of queueSize tasks
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:       make(chan namedTask, queueSize),
		group:       new(errgroup.Group),
		ctx:         ctx,
		cancel:      cancel,
		taskTimeout: DefaultTaskTimeout,
	}
	for i := 0; i < workers; i++ {
		d.group.Go(d.worker)
	}
	return d
}

// Submit enqueues a task and reports whether it was accepted
func (d *Dispatcher) Submit(name string, fn Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.IncrementDispatcherTask("dropped")
		return false
	}

	select {
	case d.queue <- namedTask{name: name, fn: fn}:
		metrics.SetDispatcherQueueDepth(len(d.queue))
		return true
	default:
		metrics.IncrementDispatcherTask("dropped")
		log.Printf("⚠️ Dispatcher queue full, dropping task %s", name)
		return false
	}
}

// Pending returns the number of queued tasks
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Shutdown stops intake and waits for queued tasks. When ctx expires first,
// running tasks are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() error {
	for t := range d.queue {
		metrics.SetDispatcherQueueDepth(len(d.queue))
		if err := d.run(t); err != nil {
			metrics.IncrementDispatcherTask("error")
			log.Printf("❌ Task %s failed: %v", t.name, err)
			continue
		}
		metrics.IncrementDispatcherTask("ok")
	}
	return nil
}

func (d *Dispatcher) run(t namedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(d.ctx, d.taskTimeout)
	defer cancel()
	return t.fn(ctx)
}
