package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitUntil polls cond with a deadline. Only used for observing worker
// lifecycle transitions; task completion is always observed through
// channels or WaitGroups.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met before timeout")
		case <-ticker.C:
		}
	}
}

func TestStartAndStop(t *testing.T) {
	d := New(Config{})

	d.Start()
	if !d.IsRunning() {
		t.Fatal("expected running after Start")
	}

	d.Stop()
	if d.IsRunning() {
		t.Fatal("expected not running after Stop")
	}
}

func TestStartIdempotent(t *testing.T) {
	d := New(Config{})
	defer d.Stop()

	d.Start()
	d.Start() // second start is a wake, not a second worker

	done := make(chan struct{})
	d.Dispatch(Func(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	if !d.IsRunning() {
		t.Error("expected running")
	}
}

func TestStopIdempotent(t *testing.T) {
	d := New(Config{})
	d.Stop() // not running: no-op
	d.Start()
	d.Stop()
	d.Stop() // second stop: no-op
	if d.IsRunning() {
		t.Error("expected not running")
	}
}

func TestDispatchExecutes(t *testing.T) {
	d := New(Config{})
	defer d.Stop()
	d.Start()

	got := make(chan int, 1)
	d.Dispatch(Func(func() { got <- 10 }))

	select {
	case v := <-got:
		if v != 10 {
			t.Errorf("got %d, want 10", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestDispatchBeforeStartAccumulates(t *testing.T) {
	d := New(Config{})
	defer d.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		d.Dispatch(Func(func() { wg.Done() }))
	}

	if got := d.Size(); got != 5 {
		t.Fatalf("size before start: got %d, want 5", got)
	}

	d.Start()
	wg.Wait()
}

func TestDispatchInvalidIgnored(t *testing.T) {
	d := New(Config{})

	d.Dispatch(nil)
	d.Dispatch(Func(nil))
	d.Dispatch(RecurFunc(nil))

	if got := d.Size(); got != 0 {
		t.Errorf("size: got %d, want 0", got)
	}
	if !d.Empty() {
		t.Error("expected empty queue")
	}
}

func TestFIFOOrderExactlyOnce(t *testing.T) {
	const numTasks = 1000

	d := New(Config{})
	defer d.Stop()

	// Only the worker appends, so no lock is needed.
	order := make([]int, 0, numTasks)
	var wg sync.WaitGroup
	wg.Add(numTasks)

	for i := 0; i < numTasks; i++ {
		i := i
		d.Dispatch(Func(func() {
			order = append(order, i)
			wg.Done()
		}))
	}
	d.Start()
	wg.Wait()

	if len(order) != numTasks {
		t.Fatalf("executions: got %d, want %d", len(order), numTasks)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d]: got %d, want %d — lost or duplicated task", i, v, i)
		}
	}
}

func TestReentrantDispatch(t *testing.T) {
	d := New(Config{})
	defer d.Stop()
	d.Start()

	got := make(chan int, 1)
	d.Dispatch(Func(func() {
		// Dispatching to the same dispatcher from inside a task is safe.
		d.Dispatch(Func(func() { got <- 10 }))
	}))

	select {
	case v := <-got:
		if v != 10 {
			t.Errorf("got %d, want 10", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inner task did not run")
	}
}

func TestClearDuringExecution(t *testing.T) {
	d := New(Config{})
	defer d.Stop()
	d.Start()

	inFlight := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})

	d.Dispatch(Func(func() {
		close(inFlight)
		<-release
		close(finished)
	}))
	<-inFlight

	// These are queued behind the in-flight task and must be removed.
	executed := atomic.Bool{}
	d.Dispatch(Func(func() { executed.Store(true) }))
	d.Dispatch(Func(func() { executed.Store(true) }))

	d.Clear()
	if got := d.Size(); got != 0 {
		t.Errorf("size after clear: got %d, want 0", got)
	}

	close(release)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight task did not complete")
	}

	// Give the worker a chance to (incorrectly) run a cleared task.
	sentinel := make(chan struct{})
	d.Dispatch(Func(func() { close(sentinel) }))
	<-sentinel

	if executed.Load() {
		t.Error("cleared task was executed")
	}
}

// measurePeriodicRuns dispatches one periodic task and records its execution
// times over the window. The rate must hold regardless of the idle policy:
// the worker is expected to wake for the next due time, not to wait out a
// full idle interval while the task sits queued.
func measurePeriodicRuns(t *testing.T, cfg Config, period, window time.Duration) []time.Time {
	t.Helper()

	d := New(cfg)
	defer d.Stop()
	d.Start()

	var mu sync.Mutex
	var runs []time.Time
	d.Dispatch(Periodic(func() {
		mu.Lock()
		runs = append(runs, time.Now())
		mu.Unlock()
	}, period))

	time.Sleep(window)
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	return runs
}

func checkPeriodicRate(t *testing.T, runs []time.Time, period, window time.Duration) {
	t.Helper()

	// window/period ± 1, with slack for scheduler jitter.
	want := int(window / period)
	if len(runs) < want-3 {
		t.Errorf("runs: got %d, want about %d for %v/%v", len(runs), want, window, period)
	}
	if len(runs) > want+1 {
		t.Errorf("runs: got %d, want at most %d for %v/%v", len(runs), want+1, window, period)
	}
	for i := 1; i < len(runs); i++ {
		if gap := runs[i].Sub(runs[i-1]); gap < period {
			t.Errorf("runs %d and %d only %v apart, want >= %v", i-1, i, gap, period)
		}
	}
}

func TestPeriodicExecutionRate(t *testing.T) {
	const period = 50 * time.Millisecond
	const window = 550 * time.Millisecond

	// Default policy: idle timeout (500ms) is an order of magnitude above
	// the period and must not throttle the task.
	runs := measurePeriodicRuns(t, Config{}, period, window)
	checkPeriodicRate(t, runs, period, window)
}

func TestPeriodicExecutionRateBlockingWait(t *testing.T) {
	const period = 50 * time.Millisecond
	const window = 550 * time.Millisecond

	// WaitBlock gets no notification while the task sits queued between
	// periods; the worker must still fire it on schedule.
	runs := measurePeriodicRuns(t, Config{WaitMode: WaitBlock}, period, window)
	checkPeriodicRate(t, runs, period, window)
}

func TestIterativeExactlyN(t *testing.T) {
	const n = 5

	d := New(Config{WaitMode: WaitTimed, WaitTimeout: 5 * time.Millisecond})
	defer d.Stop()
	d.Start()

	var count atomic.Int32
	done := make(chan struct{})
	d.Dispatch(Iterative(func() {
		if count.Add(1) == n {
			close(done)
		}
	}, n))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("iterative task did not finish")
	}

	// The exhausted task must not be re-queued.
	waitUntil(t, 2*time.Second, d.Empty)
	time.Sleep(20 * time.Millisecond)
	if got := count.Load(); got != n {
		t.Errorf("count: got %d, want %d", got, n)
	}
}

func TestNotDueRecurringIsRequeuedNotDropped(t *testing.T) {
	d := New(Config{WaitMode: WaitTimed, WaitTimeout: 5 * time.Millisecond})
	defer d.Stop()
	d.Start()

	ran := make(chan struct{})
	var once sync.Once
	task := Periodic(func() { once.Do(func() { close(ran) }) }, time.Hour)
	d.Dispatch(task)

	<-ran // first run is always due

	// Not due again for an hour; the task must stay queued, unexecuted.
	waitUntil(t, 2*time.Second, func() bool { return d.Size() == 1 })
}

func TestPanicKillsWorkerByDefault(t *testing.T) {
	d := New(Config{})
	d.Start()

	d.Dispatch(Func(func() { panic("boom") }))
	waitUntil(t, 2*time.Second, func() bool { return !d.IsRunning() })

	// The queue survives the dead worker.
	ran := make(chan struct{})
	d.Dispatch(Func(func() { close(ran) }))
	if got := d.Size(); got != 1 {
		t.Fatalf("size: got %d, want 1", got)
	}

	// A fresh start drains it.
	d.Start()
	defer d.Stop()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("queued task did not run after restart")
	}
}

func TestRecoverPanicsKeepsWorkerAlive(t *testing.T) {
	d := New(Config{RecoverPanics: true})
	defer d.Stop()
	d.Start()

	ran := make(chan struct{})
	d.Dispatch(Func(func() { panic("boom") }))
	d.Dispatch(Func(func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task after panic did not run")
	}
	if !d.IsRunning() {
		t.Error("worker should survive a panicking task")
	}
}

func TestStopAfterWorkerDiedReleasesHandle(t *testing.T) {
	d := New(Config{})
	d.Start()
	d.Dispatch(Func(func() { panic("boom") }))
	waitUntil(t, 2*time.Second, func() bool { return !d.IsRunning() })

	d.Stop() // worker already gone: must not hang
	if d.IsRunning() {
		t.Error("expected not running")
	}
}

func TestWaitBlockMode(t *testing.T) {
	d := New(Config{WaitMode: WaitBlock})
	defer d.Stop()
	d.Start()

	done := make(chan struct{})
	d.Dispatch(Func(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run in block mode")
	}

	// Stop must wake the indefinitely-waiting worker.
	d.Stop()
	if d.IsRunning() {
		t.Error("expected not running")
	}
}

func TestWaitNoneMode(t *testing.T) {
	d := New(Config{WaitMode: WaitNone})
	defer d.Stop()
	d.Start()

	done := make(chan struct{})
	d.Dispatch(Func(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run in busy-poll mode")
	}
}

func TestStopWithPendingTasks(t *testing.T) {
	d := New(Config{})

	var count atomic.Int32
	for i := 0; i < 100; i++ {
		d.Dispatch(Func(func() {
			count.Add(1)
			time.Sleep(time.Millisecond)
		}))
	}

	d.Start()
	time.Sleep(10 * time.Millisecond)
	d.Stop()

	// Stop finishes at most the in-flight evaluation; the rest stay queued.
	if got := int(count.Load()) + d.Size(); got != 100 {
		t.Errorf("executed+queued: got %d, want 100", got)
	}
}
