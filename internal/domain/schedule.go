package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrInvalidRule      = errors.New("invalid recurrence rule")
	ErrKindChanged      = errors.New("recurrence kind cannot change on update")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrScheduleExists   = errors.New("schedule already registered")
)

type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

// TimeOfDay is the wall-clock slot a backup runs at on its scheduled date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("%w: hour %d out of range 0-23", ErrInvalidRule, t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: minute %d out of range 0-59", ErrInvalidRule, t.Minute)
	}
	return nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// on returns the instant on the given civil date at t in the date's location.
// Day overflow is normalized by time.Date, so on(y, m, d+n) is "n days later".
func (t TimeOfDay) on(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.Hour, t.Minute, 0, 0, loc)
}

// Definition is everything needed to materialize or update a schedule.
type Definition struct {
	ID        string // empty until the remote side has persisted it
	Time      TimeOfDay
	Files     []string
	Databases []string
	Rule      Rule
}

func (d Definition) validate() error {
	if d.Rule == nil {
		return fmt.Errorf("%w: missing rule", ErrInvalidRule)
	}
	switch d.Rule.(type) {
	case DailyRule, WeeklyRule, MonthlyRule:
	default:
		return fmt.Errorf("%w: unsupported rule type %T", ErrInvalidRule, d.Rule)
	}
	if err := d.Time.validate(); err != nil {
		return err
	}
	return d.Rule.validate()
}

// Schedule is a recurring backup job. Its variant is fixed by the Rule it was
// created with; NextRun is only ever recomputed through NewSchedule, Update,
// Done and Reschedule.
type Schedule struct {
	ID        string
	Time      TimeOfDay
	Files     []string
	Databases []string

	rule     Rule
	prevRun  *time.Time
	nextRun  time.Time
	excluded bool
}

func NewSchedule(def Definition, now time.Time) (*Schedule, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	s := &Schedule{}
	s.apply(def)
	s.nextRun = s.ComputeNext(now)
	return s, nil
}

func (s *Schedule) apply(def Definition) {
	s.ID = def.ID
	s.Time = def.Time
	s.Files = slices.Clone(def.Files)
	s.Databases = slices.Clone(def.Databases)
	s.rule = def.Rule
}

func (s *Schedule) Kind() Kind { return s.rule.Kind() }

func (s *Schedule) Rule() Rule { return s.rule }

func (s *Schedule) NextRun() time.Time { return s.nextRun }

// Excluded reports whether an external policy asked the dispatcher to skip s.
func (s *Schedule) Excluded() bool { return s.excluded }

func (s *Schedule) SetExcluded(v bool) { s.excluded = v }

func (s *Schedule) PreviousRun() (time.Time, bool) {
	if s.prevRun == nil {
		return time.Time{}, false
	}
	return *s.prevRun, true
}

// ComputeNext returns the next occurrence relative to now without mutating s.
func (s *Schedule) ComputeNext(now time.Time) time.Time {
	return s.rule.next(now, s.Time, s.prevRun)
}

// Update replaces the recurrence parameters and targets. The previous run is
// kept: an update is not a completed run. On error s is left untouched.
func (s *Schedule) Update(def Definition, now time.Time) error {
	if err := def.validate(); err != nil {
		return err
	}
	if def.Rule.Kind() != s.rule.Kind() {
		return fmt.Errorf("%w: %s -> %s", ErrKindChanged, s.rule.Kind(), def.Rule.Kind())
	}
	if def.ID == "" {
		def.ID = s.ID
	}
	s.apply(def)
	s.nextRun = s.ComputeNext(now)
	return nil
}

// Done records a completed run at now and schedules the following one.
func (s *Schedule) Done(now time.Time) {
	if s.prevRun == nil || now.After(*s.prevRun) {
		s.prevRun = &now
	}
	s.nextRun = s.ComputeNext(now)
}

// Reschedule recomputes NextRun as of from without recording a run.
func (s *Schedule) Reschedule(from time.Time) {
	s.nextRun = s.ComputeNext(from)
}

// Replace builds a schedule of a different variant that inherits s's previous
// run and exclusion flag.
func (s *Schedule) Replace(def Definition, now time.Time) (*Schedule, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	if def.ID == "" {
		def.ID = s.ID
	}
	r := &Schedule{excluded: s.excluded}
	r.apply(def)
	if s.prevRun != nil {
		prev := *s.prevRun
		r.prevRun = &prev
	}
	r.nextRun = r.ComputeNext(now)
	return r, nil
}

// Compare orders schedules by NextRun ascending.
func (s *Schedule) Compare(other *Schedule) int {
	return s.nextRun.Compare(other.nextRun)
}

func (s *Schedule) Clone() *Schedule {
	c := *s
	c.Files = slices.Clone(s.Files)
	c.Databases = slices.Clone(s.Databases)
	if s.prevRun != nil {
		prev := *s.prevRun
		c.prevRun = &prev
	}
	return &c
}

// Definition returns the inputs s was last built from.
func (s *Schedule) Definition() Definition {
	return Definition{
		ID:        s.ID,
		Time:      s.Time,
		Files:     slices.Clone(s.Files),
		Databases: slices.Clone(s.Databases),
		Rule:      s.rule,
	}
}

// sameDate compares civil dates in b's location.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
