package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"go.yaml.in/yaml/v3"
)

// Record is one schedule definition as the backend (or a schedules file)
// delivers it:
//
//	{"id": 7, "type": "weekly", "time": [2, 30], "files": ["/etc"], "db": ["shop"], "days": 10}
//
// "day" is the period for daily schedules and the day of month for monthly
// ones; "days" is the weekday bitmask of weekly ones (bit 0 = Sunday).
type Record struct {
	ID    ID       `json:"id,omitempty"   yaml:"id,omitempty"`
	Type  string   `json:"type"           yaml:"type"`
	Time  []int    `json:"time"           yaml:"time"`
	Files []string `json:"files,omitempty" yaml:"files,omitempty"`
	DB    []string `json:"db,omitempty"   yaml:"db,omitempty"`
	Day   *int     `json:"day,omitempty"  yaml:"day,omitempty"`
	Days  *int     `json:"days,omitempty" yaml:"days,omitempty"`
}

// ToDefinition validates the record shape and converts it. Every failure
// wraps domain.ErrInvalidRule.
func (r Record) ToDefinition() (domain.Definition, error) {
	if len(r.Time) != 2 {
		return domain.Definition{}, fmt.Errorf("%w: time must be [hour, minute], got %v", domain.ErrInvalidRule, r.Time)
	}

	var rule domain.Rule
	switch domain.Kind(r.Type) {
	case domain.KindDaily:
		if r.Day == nil {
			return domain.Definition{}, fmt.Errorf("%w: daily schedule needs day", domain.ErrInvalidRule)
		}
		rule = domain.DailyRule{PeriodDays: *r.Day}
	case domain.KindWeekly:
		if r.Days == nil {
			return domain.Definition{}, fmt.Errorf("%w: weekly schedule needs days", domain.ErrInvalidRule)
		}
		days, err := domain.WeekdaysFromMask(*r.Days)
		if err != nil {
			return domain.Definition{}, err
		}
		rule = domain.WeeklyRule{Days: days}
	case domain.KindMonthly:
		if r.Day == nil {
			return domain.Definition{}, fmt.Errorf("%w: monthly schedule needs day", domain.ErrInvalidRule)
		}
		rule = domain.MonthlyRule{DayOfMonth: *r.Day}
	default:
		return domain.Definition{}, fmt.Errorf("%w: unknown schedule type %q", domain.ErrInvalidRule, r.Type)
	}

	return domain.Definition{
		ID:        string(r.ID),
		Time:      domain.TimeOfDay{Hour: r.Time[0], Minute: r.Time[1]},
		Files:     r.Files,
		Databases: r.DB,
		Rule:      rule,
	}, nil
}

// FromSchedule renders s back into its wire form.
func FromSchedule(s *domain.Schedule) Record {
	r := Record{
		ID:    ID(s.ID),
		Type:  string(s.Kind()),
		Time:  []int{s.Time.Hour, s.Time.Minute},
		Files: s.Files,
		DB:    s.Databases,
	}
	switch rule := s.Rule().(type) {
	case domain.DailyRule:
		r.Day = &rule.PeriodDays
	case domain.WeeklyRule:
		mask := rule.Days.Mask()
		r.Days = &mask
	case domain.MonthlyRule:
		r.Day = &rule.DayOfMonth
	}
	return r
}

// ID is an opaque schedule identifier. The backend sends integers; schedules
// files may use any string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("schedule id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON keeps numeric ids numeric on the way back.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("schedule id: expected scalar at line %d", node.Line)
	}
	*id = ID(node.Value)
	return nil
}
