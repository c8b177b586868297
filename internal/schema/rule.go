// Package schema defines the canonical records for Argus: organizations,
// cameras, anomaly rules and the alerts the detection pipeline emits.
// Every top-level record is scoped to exactly one organization.
package schema

import (
	"time"
)

// Criticality is the ordinal severity assigned to a rule and inherited by the
// alerts it produces.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// IsValid checks if the criticality is a valid value.
func (c Criticality) IsValid() bool {
	switch c {
	case CriticalityLow, CriticalityMedium, CriticalityHigh, CriticalityCritical:
		return true
	}
	return false
}

// Weekday is a day-of-week value in a rule's active schedule.
type Weekday string

const (
	Sunday    Weekday = "sun"
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
)

// AllWeekdays is the fixed 7-value weekday domain.
var AllWeekdays = []Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// IsValid checks if the weekday is within the 7-value domain.
func (w Weekday) IsValid() bool {
	switch w {
	case Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday:
		return true
	}
	return false
}

// TimeOfDay is a wall-clock time in "HH:MM" 24-hour format. Rules store their
// active window as a pair of these; windows crossing midnight are legitimate,
// so no ordering between start and end is implied.
type TimeOfDay string

// IsValid checks if the value parses as a 24-hour HH:MM time.
func (t TimeOfDay) IsValid() bool {
	_, err := time.Parse("15:04", string(t))
	return err == nil
}

// RuleStatus is the lifecycle status of a rule.
type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "active"
	RuleStatusInactive RuleStatus = "inactive"
)

// IsValid checks if the rule status is a valid value.
func (s RuleStatus) IsValid() bool {
	return s == RuleStatusActive || s == RuleStatusInactive
}

// AnomalyRule is a scheduled detection configuration bound to a set of
// cameras within its owning organization.
type AnomalyRule struct {
	ID             int64       `json:"id"`
	OrganizationID int64       `json:"organization_id"`
	Title          string      `json:"title" validate:"required,max=256"`
	Description    string      `json:"description" validate:"required,max=4096"`
	Criticality    Criticality `json:"criticality" validate:"required,oneof=low medium high critical"`
	ModelName      string      `json:"model_name" validate:"required,max=256"`
	StartTime      TimeOfDay   `json:"start_time" validate:"required,time_of_day"`
	EndTime        TimeOfDay   `json:"end_time" validate:"required,time_of_day"`
	DaysOfWeek     []Weekday   `json:"days_of_week"`
	Status         RuleStatus  `json:"status"`
	Cameras        []Camera    `json:"cameras,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// IsActiveAt reports whether the rule's schedule covers the given instant.
// Windows where end < start wrap past midnight.
func (r *AnomalyRule) IsActiveAt(at time.Time) bool {
	if r.Status != RuleStatusActive {
		return false
	}

	day := weekdayFromTime(at.Weekday())
	inDay := false
	for _, d := range r.DaysOfWeek {
		if d == day {
			inDay = true
			break
		}
	}
	if !inDay {
		return false
	}

	start, err := time.Parse("15:04", string(r.StartTime))
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", string(r.EndTime))
	if err != nil {
		return false
	}

	minutes := at.Hour()*60 + at.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	if startMin <= endMin {
		return minutes >= startMin && minutes <= endMin
	}
	// Overnight window
	return minutes >= startMin || minutes <= endMin
}

func weekdayFromTime(d time.Weekday) Weekday {
	switch d {
	case time.Sunday:
		return Sunday
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	default:
		return Saturday
	}
}
