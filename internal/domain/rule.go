package domain

import (
	"fmt"
	"strings"
	"time"
)

// Rule is the variant-specific part of a schedule. The set of implementations
// is closed: DailyRule, WeeklyRule and MonthlyRule, used as values.
type Rule interface {
	Kind() Kind
	validate() error
	next(now time.Time, at TimeOfDay, prev *time.Time) time.Time
}

// DailyRule runs every PeriodDays days.
type DailyRule struct {
	PeriodDays int
}

func (DailyRule) Kind() Kind { return KindDaily }

func (r DailyRule) validate() error {
	if r.PeriodDays < 1 {
		return fmt.Errorf("%w: daily period %d must be positive", ErrInvalidRule, r.PeriodDays)
	}
	return nil
}

// A schedule that never ran is due today at its time of day, even if that
// moment already passed; the dispatcher then runs it right away.
func (r DailyRule) next(now time.Time, at TimeOfDay, prev *time.Time) time.Time {
	if prev == nil {
		y, m, d := now.Date()
		return at.on(y, m, d, now.Location())
	}
	y, m, d := prev.In(now.Location()).Date()
	return at.on(y, m, d+r.PeriodDays, now.Location())
}

// WeeklyRule runs on every weekday present in Days.
type WeeklyRule struct {
	Days Weekdays
}

func (WeeklyRule) Kind() Kind { return KindWeekly }

func (r WeeklyRule) validate() error {
	if r.Days == 0 {
		return fmt.Errorf("%w: weekly rule has no active days", ErrInvalidRule)
	}
	if r.Days&^allWeekdays != 0 {
		return fmt.Errorf("%w: weekday mask %#x has bits above Saturday", ErrInvalidRule, uint8(r.Days))
	}
	return nil
}

func (r WeeklyRule) next(now time.Time, at TimeOfDay, prev *time.Time) time.Time {
	today := int(now.Weekday())
	days := r.Days.Indexes()

	var remaining []int
	for _, d := range days {
		if d >= today {
			remaining = append(remaining, d)
		}
	}
	// today's slot is consumed once a run happened today
	if prev != nil && sameDate(*prev, now) && len(remaining) > 0 && remaining[0] == today {
		remaining = remaining[1:]
	}

	nextDay := days[0] + 7
	if len(remaining) > 0 {
		nextDay = remaining[0]
	}
	y, m, d := now.Date()
	return at.on(y, m, d+nextDay-today, now.Location())
}

// MonthlyRule runs on DayOfMonth, clipped to the last day of shorter months.
type MonthlyRule struct {
	DayOfMonth int
}

func (MonthlyRule) Kind() Kind { return KindMonthly }

func (r MonthlyRule) validate() error {
	if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
		return fmt.Errorf("%w: day of month %d out of range 1-31", ErrInvalidRule, r.DayOfMonth)
	}
	return nil
}

// The monthly occurrence depends on today's date only. A slot already served
// today is skipped by the caller, see Schedule.Reschedule.
func (r MonthlyRule) next(now time.Time, at TimeOfDay, _ *time.Time) time.Time {
	y, m, d := now.Date()

	year, month := y, m
	if r.DayOfMonth < d {
		year, month = followingMonth(y, m)
	}
	return at.on(year, month, min(r.DayOfMonth, daysIn(year, month)), now.Location())
}

func followingMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Weekdays is a set of weekday indexes. Bit i is weekday index i, where
// 0 is Sunday and 6 is Saturday, the same numbering as time.Weekday.
type Weekdays uint8

const allWeekdays Weekdays = 1<<7 - 1

// WeekdaysFromMask converts the wire bitmask into a weekday set.
func WeekdaysFromMask(mask int) (Weekdays, error) {
	if mask <= 0 || mask > int(allWeekdays) {
		return 0, fmt.Errorf("%w: weekday mask %d must be within 1-%d", ErrInvalidRule, mask, allWeekdays)
	}
	return Weekdays(mask), nil
}

func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

func (w Weekdays) Mask() int { return int(w) }

// Indexes returns the active weekday indexes in ascending order.
func (w Weekdays) Indexes() []int {
	var out []int
	for i := 0; i < 7; i++ {
		if w&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

func (w Weekdays) String() string {
	names := make([]string, 0, 7)
	for _, i := range w.Indexes() {
		names = append(names, time.Weekday(i).String()[:3])
	}
	return strings.Join(names, ",")
}
