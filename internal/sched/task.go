package sched

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/dispatchd/internal/dispatch"
)

// DefaultCooldown is the minimum interval between two triggers of the same
// cron task. It keeps a matching minute from triggering more than once.
const DefaultCooldown = 60 * time.Second

// CronConfig tunes a cron task.
type CronConfig struct {
	Cooldown time.Duration // 0 = DefaultCooldown
	MaxRuns  int           // auto-disable after this many runs; 0 = unlimited
}

// cronTask gates execution on a cron expression. It stays in the queue
// between activations: the dispatcher re-queues it unexecuted until the
// schedule matches again.
type cronTask struct {
	id   string
	fn   func()
	expr *Schedule
	cfg  CronConfig

	mu       sync.Mutex
	lastRun  time.Time
	runCount int
	disabled bool
}

// Cron builds a recurring task that executes when the cron expression
// matches, at most once per cooldown window.
func Cron(fn func(), expr string) (dispatch.Task, error) {
	return CronWithConfig(fn, expr, CronConfig{})
}

// CronWithConfig is Cron with explicit cooldown and run-limit settings.
func CronWithConfig(fn func(), expr string, cfg CronConfig) (dispatch.Task, error) {
	parsed, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &cronTask{
		id:   uuid.NewString(),
		fn:   fn,
		expr: parsed,
		cfg:  cfg,
	}, nil
}

func (t *cronTask) ID() string { return t.id }

func (t *cronTask) Run() {
	if t.fn == nil {
		return
	}
	t.fn()

	t.mu.Lock()
	t.lastRun = time.Now()
	t.runCount++
	if t.cfg.MaxRuns > 0 && t.runCount >= t.cfg.MaxRuns {
		t.disabled = true
	}
	t.mu.Unlock()
}

func (t *cronTask) Recurring() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.disabled
}

func (t *cronTask) Due() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled {
		return false
	}
	now := time.Now()
	if !t.lastRun.IsZero() && now.Sub(t.lastRun) < t.cfg.Cooldown {
		return false
	}
	return t.expr.Matches(now)
}

// NextDue bounds the worker's wait while the task sits queued: no earlier
// than the end of the cooldown window, otherwise the schedule's next
// activation. The worker re-evaluates Due at that time.
func (t *cronTask) NextDue() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if cool := t.lastRun.Add(t.cfg.Cooldown); cool.After(now) {
		return cool
	}
	return t.expr.Next(now)
}

func (t *cronTask) Valid() bool { return t.fn != nil }
