// Package execqueue serializes domain operations through a single FIFO
// chain. The per-site content database has no concurrent-writer support, so
// the queue is the only thing standing between overlapping tool calls and a
// corrupted store: at most one task body executes at any point in time, and
// tasks start in strict enqueue order.
package execqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
)

// Task identifies the currently executing queue entry for status reporting.
// Best-effort metadata, never used for flow control.
type Task struct {
	ID        int64
	Name      string
	StartedAt time.Time
}

// Queue runs enqueued functions one at a time in arrival order. A task that
// fails (or panics) settles its own call only; the chain continues with the
// next task. Depth is unbounded: a slow operation delays everything behind
// it, which is the accepted tradeoff for a single local client.
type Queue struct {
	logger pslog.Logger

	mu   sync.Mutex
	tail chan struct{} // closed when the most recently enqueued task settles
	next int64

	depth atomic.Int64

	curMu   sync.Mutex
	current *Task
}

// New returns an empty queue. A nil logger disables queue logging.
func New(logger pslog.Logger) *Queue {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	done := make(chan struct{})
	close(done)
	return &Queue{logger: logger, tail: done}
}

// Do appends fn to the chain and blocks until it has run. fn does not start
// before every previously enqueued task has settled, regardless of how those
// tasks ended. The wait for a turn is not interruptible by ctx: once
// enqueued, a task always runs (a disconnected caller does not abort
// server-side work). ctx is passed through to fn.
func (q *Queue) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	q.mu.Lock()
	id := q.next
	q.next++
	prev := q.tail
	turn := make(chan struct{})
	q.tail = turn
	q.mu.Unlock()

	q.depth.Add(1)
	defer q.depth.Add(-1)
	defer close(turn)

	<-prev

	q.setCurrent(&Task{ID: id, Name: name, StartedAt: time.Now()})
	defer q.setCurrent(nil)

	q.logger.Trace("queue.task.start", "task_id", id, "tool", name)
	err := q.run(ctx, id, name, fn)
	if err != nil {
		q.logger.Debug("queue.task.failed", "task_id", id, "tool", name, "error", err)
		return err
	}
	q.logger.Trace("queue.task.done", "task_id", id, "tool", name)
	return nil
}

// run isolates panics so a misbehaving task cannot take the chain down with
// it; the panic is translated into the caller's error.
func (q *Queue) run(ctx context.Context, id int64, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue.task.panic", "task_id", id, "tool", name, "panic", fmt.Sprint(r))
			err = fmt.Errorf("%s: %v", name, r)
		}
	}()
	return fn(ctx)
}

// Current reports the task executing right now, if any.
func (q *Queue) Current() (Task, bool) {
	q.curMu.Lock()
	defer q.curMu.Unlock()
	if q.current == nil {
		return Task{}, false
	}
	return *q.current, true
}

// Depth reports how many tasks are enqueued or executing.
func (q *Queue) Depth() int64 {
	return q.depth.Load()
}

func (q *Queue) setCurrent(t *Task) {
	q.curMu.Lock()
	q.current = t
	q.curMu.Unlock()
}
