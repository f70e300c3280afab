// Package dispatch provides a single-worker FIFO task dispatcher: producers
// hand off work from any goroutine, one background worker executes it serially.
package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is a unit of work plus its recurrence policy. A task whose Due and
// Recurring are both false after evaluation is discarded by the worker.
type Task interface {
	// Run executes the bound action. Never called concurrently with itself.
	Run()

	// Recurring reports whether the task should be re-queued after Run.
	Recurring() bool

	// Due reports whether it is time for the task to execute. A recurring
	// task that is not due is re-queued unexecuted and re-evaluated later.
	Due() bool

	// Valid reports whether the task has a bound action. Invalid tasks are
	// silently ignored on dispatch, never executed.
	Valid() bool
}

// Identified is implemented by tasks that carry a stable ID, used for
// logging and event correlation.
type Identified interface {
	ID() string
}

// Scheduled is implemented by tasks that can report when they next become
// due. The worker uses the hint to bound its wait when the queue holds only
// tasks whose time has not come, so a pending recurring task is picked up on
// schedule instead of waiting out a full idle interval.
type Scheduled interface {
	NextDue() time.Time
}

// baseTask holds the pieces shared by the canonical task variants.
type baseTask struct {
	id string
}

func newBaseTask() baseTask {
	return baseTask{id: uuid.NewString()}
}

// ID returns the task's unique identifier.
func (t *baseTask) ID() string { return t.id }

// funcTask is the one-shot variant, with optional legacy boolean recurrence.
type funcTask struct {
	baseTask

	fn    func()
	bfn   func() bool
	again bool
}

// Func returns a one-shot task. A nil fn yields an invalid task.
func Func(fn func()) Task {
	return &funcTask{baseTask: newBaseTask(), fn: fn}
}

// RecurFunc returns a task whose action decides its own recurrence: while fn
// returns true the task is re-queued after each run.
func RecurFunc(fn func() bool) Task {
	return &funcTask{baseTask: newBaseTask(), bfn: fn, again: fn != nil}
}

func (t *funcTask) Run() {
	switch {
	case t.bfn != nil:
		t.again = t.bfn()
	case t.fn != nil:
		t.fn()
	}
}

func (t *funcTask) Recurring() bool { return t.bfn != nil && t.again }
func (t *funcTask) Due() bool       { return true }
func (t *funcTask) Valid() bool     { return t.fn != nil || t.bfn != nil }

// periodicTask runs with a minimum delay between executions. The first run is
// always due; lastRun is taken after the action returns, so the action's own
// duration does not count against the period.
type periodicTask struct {
	baseTask

	fn     func()
	period time.Duration

	mu      sync.Mutex
	lastRun time.Time
}

// Periodic returns a recurring task that executes at most once per period.
func Periodic(fn func(), period time.Duration) Task {
	return &periodicTask{baseTask: newBaseTask(), fn: fn, period: period}
}

func (t *periodicTask) Run() {
	if t.fn == nil {
		return
	}
	t.fn()
	t.mu.Lock()
	t.lastRun = time.Now()
	t.mu.Unlock()
}

func (t *periodicTask) Recurring() bool { return true }

func (t *periodicTask) Due() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastRun.IsZero() {
		return true
	}
	return time.Since(t.lastRun) >= t.period
}

// NextDue reports when the period next elapses. Before the first run the
// zero lastRun puts the result in the past, which reads as due now.
func (t *periodicTask) NextDue() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun.Add(t.period)
}

func (t *periodicTask) Valid() bool { return t.fn != nil }

// iterativeTask runs a fixed number of times. The remaining counter is
// decremented after each execution; at zero the task is no longer recurring
// and is discarded.
type iterativeTask struct {
	baseTask

	fn func()

	mu        sync.Mutex
	remaining int
}

// Iterative returns a task that executes exactly n times.
func Iterative(fn func(), n int) Task {
	return &iterativeTask{baseTask: newBaseTask(), fn: fn, remaining: n}
}

func (t *iterativeTask) Run() {
	if t.fn == nil {
		return
	}
	t.mu.Lock()
	if t.remaining <= 0 {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.fn()

	t.mu.Lock()
	t.remaining--
	t.mu.Unlock()
}

func (t *iterativeTask) Recurring() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining > 0
}

func (t *iterativeTask) Due() bool { return t.Recurring() }

func (t *iterativeTask) Valid() bool { return t.fn != nil }

// taskValid reports whether a task handle can be executed at all.
func taskValid(t Task) bool {
	return t != nil && t.Valid()
}

// taskID returns the task's ID when it carries one.
func taskID(t Task) string {
	if id, ok := t.(Identified); ok {
		return id.ID()
	}
	return ""
}
