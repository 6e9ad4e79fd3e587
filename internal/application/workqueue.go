package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// WorkItem is one schedulable unit of work.
type WorkItem interface {
	// Name identifies the item in logs.
	Name() string
	// ConcurrentWith reports whether the item may run at the same time as
	// other.
	ConcurrentWith(other WorkItem) bool
	// Replaces reports whether the item supersedes a queued item.
	Replaces(other WorkItem) bool
	// Run performs the work.
	Run(ctx context.Context) error
	// HandleError is called with the error of a failed Run.
	HandleError(err error)
}

// WorkObserver receives queue events. All methods must be safe for
// concurrent use.
type WorkObserver interface {
	WorkFinished(item WorkItem, duration time.Duration, err error)
	QueueDepth(pending int)
}

type queuedItem struct {
	ctx  context.Context
	item WorkItem
}

// WorkQueue runs work items on a bounded number of workers. An item only
// starts when it is concurrent with every running item and every item queued
// before it.
type WorkQueue struct {
	sem      *semaphore.Weighted
	logger   *slog.Logger
	observer WorkObserver

	mu      sync.Mutex
	pending []queuedItem
	active  map[WorkItem]struct{}
	idle    *sync.Cond
}

// NewWorkQueue creates a queue running at most workers items at a time.
// observer may be nil.
func NewWorkQueue(workers int, logger *slog.Logger, observer WorkObserver) *WorkQueue {
	if workers < 1 {
		workers = 1
	}
	q := &WorkQueue{
		sem:      semaphore.NewWeighted(int64(workers)),
		logger:   logger,
		observer: observer,
		active:   make(map[WorkItem]struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Submit queues item, dropping queued items it replaces, and starts whatever
// can run. ctx is passed to Run.
func (q *WorkQueue) Submit(ctx context.Context, item WorkItem) {
	q.mu.Lock()
	kept := q.pending[:0]
	for _, queued := range q.pending {
		if item.Replaces(queued.item) {
			q.logger.Debug("work item replaced", "item", queued.item.Name())
			continue
		}
		kept = append(kept, queued)
	}
	q.pending = append(kept, queuedItem{ctx: ctx, item: item})
	q.mu.Unlock()

	q.dispatch()
}

// Pending returns the number of queued items that have not started.
func (q *WorkQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Wait blocks until every started item has finished and nothing is queued.
func (q *WorkQueue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 || len(q.active) > 0 {
		q.idle.Wait()
	}
}

func (q *WorkQueue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var blocked []WorkItem
	remaining := q.pending[:0]
	for _, queued := range q.pending {
		if !q.canStart(queued.item, blocked) || !q.sem.TryAcquire(1) {
			blocked = append(blocked, queued.item)
			remaining = append(remaining, queued)
			continue
		}
		q.active[queued.item] = struct{}{}
		go q.run(queued)
	}
	q.pending = remaining
	if q.observer != nil {
		q.observer.QueueDepth(len(q.pending))
	}
	if len(q.pending) == 0 && len(q.active) == 0 {
		q.idle.Broadcast()
	}
}

func (q *WorkQueue) canStart(item WorkItem, blocked []WorkItem) bool {
	for running := range q.active {
		if !item.ConcurrentWith(running) {
			return false
		}
	}
	for _, earlier := range blocked {
		if !item.ConcurrentWith(earlier) {
			return false
		}
	}
	return true
}

func (q *WorkQueue) run(queued queuedItem) {
	start := time.Now()
	err := q.runItem(queued)
	duration := time.Since(start)

	if err != nil {
		q.logger.Error("work item failed",
			"item", queued.item.Name(),
			"duration", duration.Round(time.Millisecond),
			"error", err,
		)
		queued.item.HandleError(err)
	}
	if q.observer != nil {
		q.observer.WorkFinished(queued.item, duration, err)
	}

	q.mu.Lock()
	delete(q.active, queued.item)
	q.mu.Unlock()
	q.sem.Release(1)

	q.dispatch()
}

func (q *WorkQueue) runItem(queued queuedItem) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic in %s: %v", queued.item.Name(), v)
		}
	}()
	return queued.item.Run(queued.ctx)
}
