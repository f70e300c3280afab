// Package sched provides schedule-driven task adapters over the dispatch
// core: cron-gated recurring tasks with cooldown and run limits.
package sched

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus an optional leading
// seconds field ("*/30 * * * * *" fires twice a minute).
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule is a parsed cron specification.
type Schedule struct {
	spec  string
	sched cron.Schedule
}

// ParseCron parses a cron specification.
func ParseCron(spec string) (*Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return &Schedule{spec: spec, sched: sched}, nil
}

// Next returns the first activation strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// Until returns how long after t the schedule next activates.
func (s *Schedule) Until(t time.Time) time.Duration {
	return s.sched.Next(t).Sub(t)
}

// Matches reports whether the minute containing t has an activation. Cron's
// base resolution is the minute, so any instant of a scheduled minute
// matches; a schedule with a seconds field matches whenever its minute
// contains at least one firing.
func (s *Schedule) Matches(t time.Time) bool {
	window := t.Truncate(time.Minute)
	next := s.sched.Next(window.Add(-time.Second))
	return next.Before(window.Add(time.Minute))
}

// String returns the cron specification as given.
func (s *Schedule) String() string {
	return s.spec
}
