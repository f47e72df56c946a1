package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/internal/workspace"
)

var (
	// ErrQueueFull is returned by Add when capacity tasks are waiting
	ErrQueueFull = errors.New("queue full")
	// ErrUserQueueFull is returned by Add when the user is at the in-flight cap
	ErrUserQueueFull = errors.New("user already has tasks in flight")
	// ErrClosed is returned by Add after KillAll
	ErrClosed = errors.New("queue closed")
	// ErrCancelled is delivered to OnDone for cancelled tasks
	ErrCancelled = errors.New("task cancelled")
)

// Handler processes one task. ctx is cancelled when the task is.
type Handler func(ctx context.Context, t *Task) error

// Task is one unit of work waiting for or held by a worker
type Task struct {
	ID       string
	UserID   int64
	Priority int
	// Input is removed when a cancelled task is discarded
	Input string
	// Job is the handler's payload
	Job interface{}
	// OnDone fires exactly once with the handler's result
	OnDone func(err error)

	EnqueuedAt time.Time

	seq       uint64
	index     int
	cancelled atomic.Bool
	cancel    context.CancelFunc
	once      sync.Once
}

// Cancelled reports whether the task was cancelled
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		if t.OnDone != nil {
			t.OnDone(err)
		}
	})
}

// Queue is a bounded priority queue drained by a fixed worker pool
type Queue struct {
	capacity   int
	perUserCap int
	workers    int
	estimate   time.Duration
	handler    Handler
	logger     *logging.Logger

	mu      sync.Mutex
	waiting taskHeap
	running map[string]*Task
	perUser map[int64]int
	seq     uint64
	closed  bool

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a queue. Workers start with Start.
func New(cfg config.QueueConfig, handler Handler, logger *logging.Logger) *Queue {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	capacity := cfg.Capacity
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity:   capacity,
		perUserCap: cfg.PerUserCap,
		workers:    workers,
		estimate:   cfg.TaskEstimate,
		handler:    handler,
		logger:     logger.Component("queue"),
		running:    make(map[string]*Task),
		perUser:    make(map[int64]int),
		wake:       make(chan struct{}, capacity),
	}
}

// Start launches the worker pool. Workers exit when ctx is done or after
// KillAll.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Infof("Started %d workers", q.workers)
}

// Wait blocks until every worker has exited
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Add admits t and returns its 1-based position among waiting tasks
func (q *Queue) Add(t *Task) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}
	if q.waiting.Len() >= q.capacity {
		return 0, ErrQueueFull
	}
	if q.perUserCap > 0 && q.perUser[t.UserID] >= q.perUserCap {
		return 0, ErrUserQueueFull
	}

	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	q.seq++
	t.seq = q.seq
	t.EnqueuedAt = time.Now()
	heap.Push(&q.waiting, t)
	q.perUser[t.UserID]++

	position := q.positionLocked(t)
	q.updateMetricsLocked()
	metrics.RecordTaskEnqueued(strconv.Itoa(t.Priority))
	q.logger.LogTaskEvent(t.ID, t.UserID, "enqueued", map[string]interface{}{
		"priority": t.Priority,
		"position": position,
	})

	q.signal()
	return position, nil
}

func (q *Queue) positionLocked(t *Task) int {
	pos := 1
	for _, o := range q.waiting {
		if o != t && o.before(t) {
			pos++
		}
	}
	return pos
}

// Position returns the 1-based position of the user's first waiting task,
// or 0 when none is waiting
func (q *Queue) Position(userID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var first *Task
	for _, t := range q.waiting {
		if t.UserID == userID && (first == nil || t.before(first)) {
			first = t
		}
	}
	if first == nil {
		return 0
	}
	return q.positionLocked(first)
}

// EstimateWait converts a queue position into an expected wait
func (q *Queue) EstimateWait(position int) time.Duration {
	if position <= 0 {
		return 0
	}
	return time.Duration(float64(position) / float64(q.workers) * float64(q.estimate))
}

// Cancel flags the user's first live task. A waiting task is discarded when
// a worker picks it up; a running task has its context cancelled.
func (q *Queue) Cancel(userID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	var target *Task
	for _, t := range q.waiting {
		if t.UserID == userID && !t.Cancelled() && (target == nil || t.before(target)) {
			target = t
		}
	}
	if target == nil {
		for _, t := range q.running {
			if t.UserID == userID && !t.Cancelled() {
				target = t
				break
			}
		}
	}
	return q.cancelLocked(target)
}

// CancelTask flags the task with the given id, waiting or running
func (q *Queue) CancelTask(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	target := q.running[id]
	if target == nil {
		for _, t := range q.waiting {
			if t.ID == id {
				target = t
				break
			}
		}
	}
	return q.cancelLocked(target)
}

func (q *Queue) cancelLocked(target *Task) bool {
	if target == nil || target.Cancelled() {
		return false
	}
	target.cancelled.Store(true)
	if target.cancel != nil {
		target.cancel()
	}
	q.logger.LogTaskEvent(target.ID, target.UserID, "cancel_requested", nil)
	return true
}

// InFlight returns how many tasks of the user are waiting or running
func (q *Queue) InFlight(userID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.perUser[userID]
}

// Len returns the number of waiting tasks
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting.Len()
}

// Running returns the number of tasks held by workers
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// Workers returns the pool size
func (q *Queue) Workers() int {
	return q.workers
}

// KillAll closes the queue and cancels every task. Waiting tasks get
// ErrCancelled at once; running ones get it when their handler returns.
// It returns the number of tasks affected.
func (q *Queue) KillAll() int {
	q.mu.Lock()
	q.closed = true
	drained := []*Task(q.waiting)
	q.waiting = nil
	for _, t := range drained {
		q.releaseLocked(t)
	}
	running := make([]*Task, 0, len(q.running))
	for _, t := range q.running {
		t.cancelled.Store(true)
		if t.cancel != nil {
			t.cancel()
		}
		running = append(running, t)
	}
	q.updateMetricsLocked()
	q.mu.Unlock()

	for _, t := range drained {
		t.cancelled.Store(true)
		workspace.Remove(t.Input)
		metrics.RecordTaskOutcome(outcome(ErrCancelled))
		t.finish(ErrCancelled)
	}
	for i := 0; i < q.workers; i++ {
		q.signal()
	}

	n := len(drained) + len(running)
	q.logger.Infof("Killed %d tasks (%d waiting, %d running)", n, len(drained), len(running))
	return n
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) releaseLocked(t *Task) {
	if q.perUser[t.UserID] <= 1 {
		delete(q.perUser, t.UserID)
	} else {
		q.perUser[t.UserID]--
	}
}

func (q *Queue) updateMetricsLocked() {
	metrics.UpdateQueueMetrics(len(q.running), q.waiting.Len())
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	logger := q.logger.WithWorkerID(id)

	for {
		t, taskCtx := q.next(ctx)
		if t == nil {
			logger.Debug("Worker stopped")
			return
		}
		q.run(taskCtx, t, logger)
	}
}

// next blocks until a task is available, the queue closes or ctx is done
func (q *Queue) next(ctx context.Context) (*Task, context.Context) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, nil
		}
		if q.waiting.Len() > 0 {
			t := heap.Pop(&q.waiting).(*Task)
			taskCtx, cancel := context.WithCancel(ctx)
			t.cancel = cancel
			q.running[t.ID] = t
			more := q.waiting.Len() > 0
			q.updateMetricsLocked()
			q.mu.Unlock()

			if more {
				q.signal()
			}
			return t, taskCtx
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil
		case <-q.wake:
		}
	}
}

func (q *Queue) run(ctx context.Context, t *Task, logger *logging.Logger) {
	metrics.QueueWaitSeconds.Observe(time.Since(t.EnqueuedAt).Seconds())

	var err error
	if t.Cancelled() {
		workspace.Remove(t.Input)
		err = ErrCancelled
		logger.LogTaskEvent(t.ID, t.UserID, "discarded", nil)
	} else {
		err = q.invoke(ctx, t)
		if err != nil && t.Cancelled() {
			err = ErrCancelled
		}
	}

	q.mu.Lock()
	delete(q.running, t.ID)
	q.releaseLocked(t)
	q.updateMetricsLocked()
	q.mu.Unlock()
	t.cancel()

	metrics.RecordTaskOutcome(outcome(err))
	t.finish(err)
}

// invoke runs the handler, turning a panic into an error
func (q *Queue) invoke(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithTaskID(t.ID).Errorf("Handler panic: %v", r)
			metrics.RecordError("queue", "panic")
			err = fmt.Errorf("task %s panicked: %v", t.ID, r)
		}
	}()
	return q.handler(ctx, t)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "failure"
	}
}
