package dispatch

import (
	"testing"
	"time"
)

func TestFuncTask(t *testing.T) {
	ran := 0
	task := Func(func() { ran++ })

	if !task.Valid() {
		t.Fatal("expected task to be valid")
	}
	if !task.Due() {
		t.Error("one-shot task should always be due")
	}
	if task.Recurring() {
		t.Error("one-shot task should not be recurring")
	}

	task.Run()
	if ran != 1 {
		t.Errorf("ran: got %d, want 1", ran)
	}
}

func TestFuncTaskInvalid(t *testing.T) {
	task := Func(nil)
	if task.Valid() {
		t.Error("task with no action should be invalid")
	}
}

func TestRecurFuncStopsWhenFalse(t *testing.T) {
	count := 0
	task := RecurFunc(func() bool {
		count++
		return count < 10
	})

	if !task.Recurring() {
		t.Fatal("expected recurring before first run")
	}

	for task.Recurring() {
		task.Run()
	}
	if count != 10 {
		t.Errorf("count: got %d, want 10", count)
	}
}

func TestRecurFuncInvalid(t *testing.T) {
	task := RecurFunc(nil)
	if task.Valid() {
		t.Error("expected invalid task")
	}
	if task.Recurring() {
		t.Error("invalid task should not be recurring")
	}
}

func TestPeriodicFirstRunAlwaysDue(t *testing.T) {
	task := Periodic(func() {}, time.Hour)
	if !task.Due() {
		t.Error("periodic task should be due before its first run")
	}
	if !task.Recurring() {
		t.Error("periodic task should be recurring")
	}
}

func TestPeriodicDueAfterPeriod(t *testing.T) {
	task := Periodic(func() {}, 50*time.Millisecond)

	task.Run()
	if task.Due() {
		t.Error("task should not be due immediately after running")
	}

	time.Sleep(60 * time.Millisecond)
	if !task.Due() {
		t.Error("task should be due after the period has elapsed")
	}
}

func TestPeriodicLastRunTakenAfterExecution(t *testing.T) {
	// The action's own duration must not count against the period.
	task := Periodic(func() { time.Sleep(40 * time.Millisecond) }, 30*time.Millisecond)

	task.Run()
	// 40ms have passed since the action started, but lastRun was stamped at
	// its end, so the 30ms period has not elapsed yet.
	if task.Due() {
		t.Error("period should be measured from the end of the run")
	}
}

func TestPeriodicNextDue(t *testing.T) {
	const period = time.Hour
	task := Periodic(func() {}, period)

	sched, ok := task.(Scheduled)
	if !ok {
		t.Fatal("periodic task should report its next due time")
	}

	// Before the first run the hint is in the past: due now.
	if sched.NextDue().After(time.Now()) {
		t.Error("unrun periodic task should read as due now")
	}

	before := time.Now()
	task.Run()
	next := sched.NextDue()
	if next.Before(before.Add(period)) {
		t.Errorf("next due %v, want >= lastRun+%v", next, period)
	}
}

func TestIterativeRunsExactly(t *testing.T) {
	count := 0
	task := Iterative(func() { count++ }, 3)

	for task.Due() {
		task.Run()
	}

	if count != 3 {
		t.Errorf("count: got %d, want 3", count)
	}
	if task.Recurring() {
		t.Error("exhausted iterative task should not be recurring")
	}

	// Extra Run calls are a no-op once exhausted.
	task.Run()
	if count != 3 {
		t.Errorf("count after extra run: got %d, want 3", count)
	}
}

func TestIterativeZeroRepeats(t *testing.T) {
	task := Iterative(func() {}, 0)
	if task.Due() {
		t.Error("zero-repeat task should not be due")
	}
	if task.Recurring() {
		t.Error("zero-repeat task should not be recurring")
	}
}

func TestTaskIDs(t *testing.T) {
	a := Func(func() {})
	b := Func(func() {})

	idA, idB := taskID(a), taskID(b)
	if idA == "" || idB == "" {
		t.Fatal("canonical tasks should carry IDs")
	}
	if idA == idB {
		t.Error("expected distinct task IDs")
	}
}
