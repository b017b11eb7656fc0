// Package queue runs issue groups through a processor with bounded
// concurrency, FIFO admission, and per-item retry. Admission is
// event-driven: workers signal a condition variable when capacity frees up.
package queue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/forgeq/internal/group"
)

// ItemState is the lifecycle position of one queued group.
type ItemState string

const (
	StateQueued     ItemState = "queued"
	StateProcessing ItemState = "processing"
	StateCompleted  ItemState = "completed"
	StateRetrying   ItemState = "retrying"
	StateFailed     ItemState = "failed"
)

// Item is one unit of work. The same group may be enqueued more than once;
// each Enqueue gets its own item and id.
type Item struct {
	ID         string
	Group      *group.IssueGroup
	State      ItemState
	Attempts   int
	EnqueuedAt time.Time
	// StartedAt is when the item was first admitted for processing. Zero
	// until then.
	StartedAt time.Time
	LastError string
}

// GroupResult is the terminal record for one item. Every item produces
// exactly one. Duration spans from first admission to the terminal state,
// retries included; items abandoned before processing carry a zero
// StartedAt and Duration.
type GroupResult struct {
	ItemID     string
	GroupID    string
	Success    bool
	Attempts   int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Processor handles one group. A non-nil error counts as a failed attempt.
type Processor func(ctx context.Context, g *group.IssueGroup) error

// EventType identifies a queue lifecycle event.
type EventType string

const (
	EventItemQueued     EventType = "item_queued"
	EventItemStarted    EventType = "item_started"
	EventItemCompleted  EventType = "item_completed"
	EventItemFailed     EventType = "item_failed"
	EventItemRetrying   EventType = "item_retrying"
	EventQueueEmpty     EventType = "queue_empty"
	EventQueueCompleted EventType = "queue_completed"
)

// Event is delivered to listeners registered with On.
type Event struct {
	Type    EventType
	ItemID  string
	GroupID string
	Attempt int
	Error   string
	Time    time.Time
}

// Listener receives queue events. Panics inside a listener are swallowed.
type Listener func(Event)

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	// Total is every item the queue has seen: pending, in flight, and
	// finished.
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
	Retried    int
}

// Opts configures a Queue.
type Opts struct {
	// MaxConcurrency bounds in-flight items. Defaults to 2.
	MaxConcurrency int
	// MaxRetries is how many times a failed item re-enters the queue, so
	// each item gets at most MaxRetries+1 attempts.
	MaxRetries int
}

// Queue is a bounded-concurrency FIFO processing queue.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	opts      Opts
	processor Processor

	pending  []*Item
	inflight map[string]*Item
	results  []*GroupResult
	retried  int

	paused      bool
	stopped     bool // no new admissions; drain in-flight
	forceStop   bool // abandon in-flight
	started     bool
	cancelWork  context.CancelFunc

	listeners  map[int]Listener
	nextLisID  int

	progress io.Writer
	now      func() time.Time
}

// New creates a queue.
func New(opts Opts) *Queue {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 2
	}
	q := &Queue{
		opts:      opts,
		inflight:  make(map[string]*Item),
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetProcessor sets the handler. Must be called before Start.
func (q *Queue) SetProcessor(p Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = p
}

// SetProgress sets the writer for progress logging.
func (q *Queue) SetProgress(w io.Writer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.progress = w
}

func (q *Queue) logf(format string, args ...interface{}) {
	if q.progress != nil {
		fmt.Fprintf(q.progress, format+"\n", args...)
	}
}

// Enqueue adds a group to the back of the queue. Duplicate groups are
// accepted; each call creates a distinct item.
func (q *Queue) Enqueue(g *group.IssueGroup) *Item {
	item := &Item{
		ID:         uuid.NewString(),
		Group:      g,
		State:      StateQueued,
		EnqueuedAt: q.now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.mu.Unlock()

	q.emit(Event{Type: EventItemQueued, ItemID: item.ID, GroupID: g.ID, Time: q.now()})
	q.cond.Broadcast()
	return item
}

// On registers a listener and returns its unsubscribe func.
func (q *Queue) On(l Listener) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextLisID
	q.nextLisID++
	q.listeners[id] = l
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.listeners, id)
	}
}

// Pause suspends admission of new items. In-flight items finish.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume lifts a pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Stop stops admission and lets in-flight items finish. Start returns once
// they have.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// ForceStop abandons in-flight work: their contexts are cancelled and their
// items are recorded as failed.
func (q *Queue) ForceStop() {
	q.mu.Lock()
	q.forceStop = true
	q.stopped = true
	cancel := q.cancelWork
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.cond.Broadcast()
}

// Stats returns a snapshot without waiting for the queue to settle.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Queued:     len(q.pending),
		Processing: len(q.inflight),
		Retried:    q.retried,
	}
	for _, r := range q.results {
		if r.Success {
			s.Completed++
		} else {
			s.Failed++
		}
	}
	s.Total = s.Queued + s.Processing + s.Completed + s.Failed
	return s
}

// Start processes items until the queue drains (or Stop/ForceStop). It
// returns one GroupResult per item in completion order. Items enqueued
// while Start runs are processed too.
func (q *Queue) Start(ctx context.Context) ([]*GroupResult, error) {
	q.mu.Lock()
	if q.processor == nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("queue: no processor set")
	}
	if q.started {
		q.mu.Unlock()
		return nil, fmt.Errorf("queue: already started")
	}
	q.started = true

	workCtx, cancel := context.WithCancel(ctx)
	q.cancelWork = cancel
	q.mu.Unlock()
	defer cancel()

	// Context cancellation degrades to a graceful stop.
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.Stop()
		case <-stopWatch:
		}
	}()
	defer close(stopWatch)

	var wg sync.WaitGroup
	emittedEmpty := false

	q.mu.Lock()
	for {
		if q.forceStop {
			break
		}
		if len(q.pending) == 0 && len(q.inflight) == 0 {
			break
		}
		if q.stopped && len(q.inflight) == 0 {
			break
		}

		canAdmit := !q.paused && !q.stopped &&
			len(q.pending) > 0 && len(q.inflight) < q.opts.MaxConcurrency
		if !canAdmit {
			q.cond.Wait()
			continue
		}

		item := q.pending[0]
		q.pending = q.pending[1:]
		item.State = StateProcessing
		item.Attempts++
		if item.StartedAt.IsZero() {
			item.StartedAt = q.now()
		}
		q.inflight[item.ID] = item

		if len(q.pending) == 0 && !emittedEmpty {
			emittedEmpty = true
			q.mu.Unlock()
			q.emit(Event{Type: EventQueueEmpty, Time: q.now()})
			q.mu.Lock()
		}

		wg.Add(1)
		go q.work(workCtx, item, &wg)
	}

	// Synthesize results for anything abandoned by a force stop, so every
	// item still ends with exactly one result.
	if q.forceStop {
		for _, item := range q.pending {
			q.results = append(q.results, q.terminalLocked(item, StateFailed, "queue force-stopped before processing"))
		}
		q.pending = nil
		for _, item := range q.inflight {
			q.results = append(q.results, q.terminalLocked(item, StateFailed, "queue force-stopped during processing"))
		}
		q.inflight = make(map[string]*Item)
	}
	results := make([]*GroupResult, len(q.results))
	copy(results, q.results)
	q.started = false
	q.mu.Unlock()

	if !q.forceStopRequested() {
		wg.Wait()
	}
	q.emit(Event{Type: EventQueueCompleted, Time: q.now()})
	return results, nil
}

func (q *Queue) forceStopRequested() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.forceStop
}

// work runs one attempt for one item.
func (q *Queue) work(ctx context.Context, item *Item, wg *sync.WaitGroup) {
	defer wg.Done()

	q.emit(Event{Type: EventItemStarted, ItemID: item.ID, GroupID: item.Group.ID, Attempt: item.Attempts, Time: q.now()})
	q.logf("[queue] %s attempt %d", item.Group.ID, item.Attempts)

	err := q.runProcessor(ctx, item.Group)

	q.mu.Lock()
	if q.forceStop {
		// Start already recorded a terminal result for this item.
		q.mu.Unlock()
		return
	}
	delete(q.inflight, item.ID)

	var ev Event
	switch {
	case err == nil:
		q.results = append(q.results, q.terminalLocked(item, StateCompleted, ""))
		ev = Event{Type: EventItemCompleted, ItemID: item.ID, GroupID: item.Group.ID, Attempt: item.Attempts, Time: q.now()}
	case item.Attempts <= q.opts.MaxRetries:
		item.State = StateRetrying
		item.LastError = err.Error()
		q.retried++
		q.pending = append(q.pending, item)
		item.State = StateQueued
		ev = Event{Type: EventItemRetrying, ItemID: item.ID, GroupID: item.Group.ID, Attempt: item.Attempts, Error: err.Error(), Time: q.now()}
	default:
		item.LastError = err.Error()
		q.results = append(q.results, q.terminalLocked(item, StateFailed, err.Error()))
		ev = Event{Type: EventItemFailed, ItemID: item.ID, GroupID: item.Group.ID, Attempt: item.Attempts, Error: err.Error(), Time: q.now()}
	}
	q.mu.Unlock()

	q.emit(ev)
	q.cond.Broadcast()
}

// runProcessor invokes the processor, converting a panic into a failed
// attempt.
func (q *Queue) runProcessor(ctx context.Context, g *group.IssueGroup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return q.processor(ctx, g)
}

// terminalLocked finalizes an item and builds its result. Caller holds mu.
func (q *Queue) terminalLocked(item *Item, state ItemState, errMsg string) *GroupResult {
	item.State = state
	finished := q.now()
	r := &GroupResult{
		ItemID:     item.ID,
		GroupID:    item.Group.ID,
		Success:    state == StateCompleted,
		Attempts:   item.Attempts,
		Error:      errMsg,
		StartedAt:  item.StartedAt,
		FinishedAt: finished,
	}
	if !item.StartedAt.IsZero() {
		r.Duration = finished.Sub(item.StartedAt)
	}
	return r
}

// emit delivers an event to every listener. Caller must not hold mu.
func (q *Queue) emit(ev Event) {
	q.mu.Lock()
	ls := make([]Listener, 0, len(q.listeners))
	for _, l := range q.listeners {
		ls = append(ls, l)
	}
	q.mu.Unlock()

	for _, l := range ls {
		func() {
			defer func() { _ = recover() }()
			l(ev)
		}()
	}
}
