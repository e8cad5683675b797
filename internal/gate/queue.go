package gate

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Priority orders queued tasks; higher runs first. Tasks of equal priority
// run in submission order.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// ErrQueueClosed is returned for tasks submitted to, or still waiting in, a
// closed queue.
var ErrQueueClosed = errors.New("request queue closed")

// Task is a unit of upstream work.
type Task func(ctx context.Context) error

// TaskOptions carries scheduling and observability data for a task.
type TaskOptions struct {
	Priority Priority
	// Metadata is attached to metrics and logs. The "endpoint" key is used
	// as a metric label; keep its values bounded.
	Metadata map[string]string
}

// QueueConfig tunes the queue.
//
//   - Workers: tasks executing at once (>= 1).
//   - RPS / Burst: optional outbound pacing; RPS <= 0 disables it.
type QueueConfig struct {
	Workers int
	RPS     float64
	Burst   int
}

type queueItem struct {
	ctx      context.Context
	task     Task
	opts     TaskOptions
	seq      uint64
	enqueued time.Time
	started  bool // guarded by Queue.mu
	done     chan error
}

// itemHeap is a max-heap on priority with FIFO tie-break on seq.
type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].opts.Priority != h[j].opts.Priority {
		return h[i].opts.Priority > h[j].opts.Priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*queueItem)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue executes tasks with bounded concurrency in priority order.
type Queue struct {
	limiter *rate.Limiter

	mu     sync.Mutex
	cond   *sync.Cond
	items  itemHeap
	seq    uint64
	closed bool

	wg sync.WaitGroup
}

// NewQueue starts cfg.Workers worker goroutines. Call Close to stop them.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue submits task and blocks until it has run, returning the task's
// error. If ctx ends while the task is still queued, Enqueue returns
// ctx.Err() and the task is skipped. Once a task has started it runs to
// completion and Enqueue returns its result even if ctx ends meanwhile;
// ctx is handed to the task and it decides how to honor it.
func (q *Queue) Enqueue(ctx context.Context, task Task, opts TaskOptions) error {
	it := &queueItem{ctx: ctx, task: task, opts: opts, enqueued: time.Now(), done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.seq++
	it.seq = q.seq
	heap.Push(&q.items, it)
	queueDepth.Set(float64(len(q.items)))
	q.cond.Signal()
	q.mu.Unlock()

	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
	}

	q.mu.Lock()
	started := it.started
	q.mu.Unlock()
	if started {
		return <-it.done
	}
	// The worker still drains the item; it sees ctx.Err() and skips the task.
	return ctx.Err()
}

// Len reports the number of tasks waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting tasks, fails tasks that have not started with
// ErrQueueClosed, and waits for running tasks to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.items
	q.items = nil
	queueDepth.Set(0)
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, it := range pending {
		it.done <- ErrQueueClosed
	}
	q.wg.Wait()
}

func (q *Queue) next() (*queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	it := heap.Pop(&q.items).(*queueItem)
	queueDepth.Set(float64(len(q.items)))
	return it, true
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		it, ok := q.next()
		if !ok {
			return
		}
		q.run(it)
	}
}

func (q *Queue) run(it *queueItem) {
	q.mu.Lock()
	err := it.ctx.Err()
	it.started = err == nil
	q.mu.Unlock()
	if err != nil {
		it.done <- err
		return
	}
	if q.limiter != nil {
		if err := q.limiter.Wait(it.ctx); err != nil {
			it.done <- err
			return
		}
	}
	queueWait.Observe(time.Since(it.enqueued).Seconds())
	it.done <- it.task(it.ctx)
}
