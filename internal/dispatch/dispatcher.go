package dispatch

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dohr-michael/dispatchd/internal/events"
)

// WaitMode selects how the worker idles when the queue is empty.
type WaitMode int

const (
	// WaitTimed blocks on the wake signal with a timeout: an idle worker
	// wakes periodically even absent a notification, trading CPU for
	// bounded responsiveness.
	WaitTimed WaitMode = iota
	// WaitBlock blocks on the wake signal indefinitely.
	WaitBlock
	// WaitNone disables waiting entirely: the worker busy-polls, only
	// yielding the processor. For callers that cannot tolerate the
	// sleep/wake transition cost.
	WaitNone
)

func (m WaitMode) String() string {
	switch m {
	case WaitTimed:
		return "timed"
	case WaitBlock:
		return "block"
	case WaitNone:
		return "busy"
	default:
		return fmt.Sprintf("WaitMode(%d)", int(m))
	}
}

// DefaultWaitTimeout is the fallback idle wake-up interval for WaitTimed.
const DefaultWaitTimeout = 500 * time.Millisecond

// joinRetryInterval is how often Stop re-broadcasts the wake signal while
// waiting for the worker to exit.
const joinRetryInterval = 10 * time.Millisecond

// deferredPollInterval bounds the wait when queued tasks are not yet due and
// none of them can report when they will be.
const deferredPollInterval = 10 * time.Millisecond

// Config holds construction options for a Dispatcher.
type Config struct {
	WaitMode    WaitMode
	WaitTimeout time.Duration // WaitTimed only; 0 = DefaultWaitTimeout

	// RecoverPanics keeps the worker alive across panicking tasks: the
	// panic is logged, the task dropped, and the loop continues. When
	// false, a panicking task kills the worker; queued tasks stay intact
	// and IsRunning turns false.
	RecoverPanics bool

	// Bus receives lifecycle events. Nil disables event emission.
	Bus *events.Bus
}

// Dispatcher owns a task queue and at most one background worker goroutine
// draining it. All methods are safe for concurrent use from any number of
// producer goroutines.
//
// A task that calls Stop on its own dispatcher from within Run deadlocks:
// the worker would wait on its own exit. Tasks that dispatch further tasks
// to the same dispatcher, or control a different Dispatcher, are safe.
type Dispatcher struct {
	cfg   Config
	queue *Queue
	wake  chan struct{} // capacity 1; a pending token is a wakeup that cannot be lost
	bus   *events.Bus

	mu   sync.Mutex    // guards worker lifecycle
	stop chan struct{} // closed to request stop; nil when no worker handle held
	done chan struct{} // closed by the worker on exit; nil when no worker handle held
}

// New creates a Dispatcher. The zero Config gives a timed idle wait of
// DefaultWaitTimeout. The worker must be started explicitly.
func New(cfg Config) *Dispatcher {
	if cfg.WaitMode == WaitTimed && cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	return &Dispatcher{
		cfg:   cfg,
		queue: NewQueue(),
		wake:  make(chan struct{}, 1),
		bus:   cfg.Bus,
	}
}

// Start launches the worker goroutine. If a worker is already alive, Start
// only re-broadcasts the wake signal — useful after bulk-dispatching while
// the worker may be idling.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.runningLocked() {
		d.wakeWorker()
		return
	}

	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stop, d.done)

	slog.Debug("dispatcher: worker started", "wait", d.cfg.WaitMode.String())
	d.publish(events.SourceDispatcher, events.WorkerStartedPayload{})
}

// Stop requests the worker to exit and blocks until it has. The wake signal
// is re-broadcast on a short retry interval while waiting, so a notify
// landing before the worker's wait cannot strand it. Calling Stop when not
// running is a no-op.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop == nil {
		return
	}

	select {
	case <-d.done:
		// worker already exited on its own (e.g. panicking task)
	default:
		close(d.stop)
		ticker := time.NewTicker(joinRetryInterval)
		defer ticker.Stop()
		for {
			d.wakeWorker()
			select {
			case <-d.done:
			case <-ticker.C:
				continue
			}
			break
		}
	}

	d.stop, d.done = nil, nil
	slog.Debug("dispatcher: worker stopped")
}

// Dispatch appends a task to the queue and wakes the worker. Invalid tasks
// are silently ignored. Safe to call before Start; tasks accumulate until
// the worker runs.
func (d *Dispatcher) Dispatch(t Task) {
	if !taskValid(t) {
		return
	}
	d.queue.Push(t)
	d.wakeWorker()
	d.publish(events.SourceDispatcher, events.TaskDispatchedPayload{
		TaskID:    taskID(t),
		QueueSize: d.queue.Size(),
	})
}

// Clear atomically empties the queue. A task already popped and currently
// executing is unaffected.
func (d *Dispatcher) Clear() {
	n := d.queue.Size()
	d.queue.Clear()
	d.publish(events.SourceDispatcher, events.QueueClearedPayload{Removed: n})
}

// Size returns the number of queued tasks.
func (d *Dispatcher) Size() int { return d.queue.Size() }

// Empty reports whether the queue is empty.
func (d *Dispatcher) Empty() bool { return d.queue.Empty() }

// IsRunning reports whether the worker goroutine exists and has not exited.
// The probe never blocks: a worker that died on its own (panicking task)
// reports false even though Stop was never called.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runningLocked()
}

// runningLocked probes worker liveness. Caller must hold d.mu.
func (d *Dispatcher) runningLocked() bool {
	if d.done == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// wakeWorker sends a non-blocking signal to the worker. The channel holds
// one pending token, so a push landing between the worker's empty check and
// its wait is never lost.
func (d *Dispatcher) wakeWorker() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) publish(src events.EventSource, p events.EventPayload) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.NewTypedEvent(src, p))
}

// run is the worker loop. It drains the queue, evaluates recurrence,
// re-queues recurring tasks at the back, and idles per the wait policy when
// there is nothing runnable.
func (d *Dispatcher) run(stop, done chan struct{}) {
	reason := "stop"
	defer func() {
		d.publish(events.SourceWorker, events.WorkerStoppedPayload{Reason: reason})
		close(done)
	}()

	// Counts consecutive not-yet-due recurring tasks cycled back to the
	// queue; nextDue tracks the earliest moment one of them becomes
	// runnable. Once a full pass over the queue ran nothing, the worker
	// waits until nextDue rather than spinning in place. The queue is not
	// empty here, so this wait is always bounded; only an empty queue takes
	// the full idle wait.
	deferred := 0
	var nextDue time.Time

	for {
		select {
		case <-stop:
			return
		default:
		}

		t, ok := d.queue.Pop()
		if !ok {
			deferred, nextDue = 0, time.Time{}
			if !d.idle(stop) {
				return
			}
			continue
		}

		if !taskValid(t) {
			continue
		}

		if t.Due() {
			deferred, nextDue = 0, time.Time{}
			if !d.execute(t) {
				reason = "panic"
				return
			}
			if t.Recurring() {
				d.queue.Push(t)
				d.publish(events.SourceWorker, events.TaskRequeuedPayload{TaskID: taskID(t), Executed: true})
			}
			continue
		}

		if t.Recurring() {
			d.queue.Push(t)
			d.publish(events.SourceWorker, events.TaskRequeuedPayload{TaskID: taskID(t)})
			if s, ok := t.(Scheduled); ok {
				if nd := s.NextDue(); nextDue.IsZero() || nd.Before(nextDue) {
					nextDue = nd
				}
			}
			deferred++
			if deferred >= d.queue.Size() {
				if !d.idleDeferred(stop, nextDue) {
					return
				}
				deferred, nextDue = 0, time.Time{}
			}
			continue
		}

		// Not due and not recurring: will never become runnable.
		d.publish(events.SourceWorker, events.TaskDroppedPayload{TaskID: taskID(t)})
	}
}

// execute runs a single task outside any lock. It returns false when a
// panicking task should take the worker down with it.
func (d *Dispatcher) execute(t Task) (alive bool) {
	start := time.Now()
	alive = true

	defer func() {
		r := recover()
		if r == nil {
			d.publish(events.SourceWorker, events.TaskExecutedPayload{
				TaskID:    taskID(t),
				Duration:  time.Since(start),
				Recurring: t.Recurring(),
			})
			return
		}

		slog.Error("dispatcher: task panicked", "task_id", taskID(t), "panic", r)
		d.publish(events.SourceWorker, events.TaskPanickedPayload{
			TaskID: taskID(t),
			Panic:  fmt.Sprint(r),
		})
		if !d.cfg.RecoverPanics {
			// Preserve the queue but let the worker die; IsRunning
			// reports false on the next probe.
			alive = false
		}
	}()

	t.Run()
	return alive
}

// idleDeferred waits while the queue holds only recurring tasks whose time
// has not come. Unlike idle, the wait is always bounded — by the earliest
// reported due time when one is known, by a short poll interval otherwise —
// so a pending task fires on schedule even under WaitBlock. WaitTimed
// additionally caps the wait at its configured timeout. A dispatch or a stop
// request still ends the wait early; returns false on stop.
func (d *Dispatcher) idleDeferred(stop chan struct{}, nextDue time.Time) bool {
	if d.cfg.WaitMode == WaitNone {
		select {
		case <-stop:
			return false
		default:
			runtime.Gosched()
			return true
		}
	}

	wait := deferredPollInterval
	if !nextDue.IsZero() {
		wait = time.Until(nextDue)
		if wait <= 0 {
			return true
		}
	}
	if d.cfg.WaitMode == WaitTimed && wait > d.cfg.WaitTimeout {
		wait = d.cfg.WaitTimeout
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-d.wake:
		return true
	case <-timer.C:
		return true
	}
}

// idle blocks until woken by a dispatch, a stop request, or (for WaitTimed)
// the timeout, whichever comes first. Only entered on an empty queue; an
// indefinite WaitBlock wait is safe here because any new work arrives with a
// wake signal. It returns false on stop.
func (d *Dispatcher) idle(stop chan struct{}) bool {
	switch d.cfg.WaitMode {
	case WaitNone:
		select {
		case <-stop:
			return false
		default:
			runtime.Gosched()
			return true
		}
	case WaitBlock:
		select {
		case <-stop:
			return false
		case <-d.wake:
			return true
		}
	default:
		timer := time.NewTimer(d.cfg.WaitTimeout)
		defer timer.Stop()
		select {
		case <-stop:
			return false
		case <-d.wake:
			return true
		case <-timer.C:
			return true
		}
	}
}
