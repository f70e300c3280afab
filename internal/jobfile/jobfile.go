// Package jobfile loads YAML job definitions and converts them into
// dispatchable tasks that exec their commands.
package jobfile

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/dispatchd/internal/dispatch"
	"github.com/dohr-michael/dispatchd/internal/sched"
)

// Job describes one unit of work. Exactly one recurrence field may be set;
// a job with none is one-shot.
type Job struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
	Every   Duration `yaml:"every,omitempty"` // periodic: min delay between runs
	Times   int      `yaml:"times,omitempty"` // iterative: fixed repeat count
	Cron    string   `yaml:"cron,omitempty"`  // cron-gated
}

// File is the top-level jobfile document.
type File struct {
	Jobs []Job `yaml:"jobs"`
}

// Load reads and validates a jobfile.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobfile: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal jobfile: %w", err)
	}

	for i := range f.Jobs {
		if err := f.Jobs[i].validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}
	return &f, nil
}

func (j *Job) validate() error {
	if j.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(j.Command) == 0 {
		return fmt.Errorf("%s: missing command", j.Name)
	}
	if j.Times < 0 {
		return fmt.Errorf("%s: times must be >= 0", j.Name)
	}
	set := 0
	if j.Every > 0 {
		set++
	}
	if j.Times > 0 {
		set++
	}
	if j.Cron != "" {
		set++
	}
	if set > 1 {
		return fmt.Errorf("%s: every, times and cron are mutually exclusive", j.Name)
	}
	if j.Cron != "" {
		if _, err := sched.ParseCron(j.Cron); err != nil {
			return fmt.Errorf("%s: %w", j.Name, err)
		}
	}
	return nil
}

// Task converts the job into a dispatchable task. The job's command is run
// via os/exec; a non-zero exit is logged, not propagated — command failure
// policy belongs to the job, not the dispatcher.
func (j *Job) Task() (dispatch.Task, error) {
	name := j.Name
	argv := j.Command
	action := func() {
		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			slog.Warn("job failed", "job", name, "error", err)
			return
		}
		slog.Debug("job finished", "job", name)
	}

	switch {
	case j.Cron != "":
		return sched.Cron(action, j.Cron)
	case j.Every > 0:
		return dispatch.Periodic(action, time.Duration(j.Every)), nil
	case j.Times > 0:
		return dispatch.Iterative(action, j.Times), nil
	default:
		return dispatch.Func(action), nil
	}
}

// Duration wraps time.Duration for YAML unmarshaling ("10s", "1m30s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
