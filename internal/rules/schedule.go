package rules

import (
	apperr "argus-vms/internal/errors"
	"argus-vms/internal/schema"
)

// ValidateSchedule checks a rule's temporal fields: every weekday must come
// from the fixed 7-value domain and both window bounds must be well-formed
// times of day. Start/end ordering is deliberately not enforced; windows
// crossing midnight are a legitimate schedule.
func ValidateSchedule(days []schema.Weekday, start, end schema.TimeOfDay, allowEmptyDays bool) error {
	if len(days) == 0 && !allowEmptyDays {
		return apperr.InvalidInput("days_of_week must not be empty")
	}

	for _, d := range days {
		if !d.IsValid() {
			return apperr.InvalidInput("invalid request: unknown weekday %q", string(d))
		}
	}

	if !start.IsValid() {
		return apperr.InvalidInput("invalid request: start_time %q is not a valid HH:MM time", string(start))
	}
	if !end.IsValid() {
		return apperr.InvalidInput("invalid request: end_time %q is not a valid HH:MM time", string(end))
	}

	return nil
}

// NormalizeDays removes duplicate weekdays while preserving first-seen order.
// Duplicate weekdays are tolerated on input since they do not change the
// schedule's meaning.
func NormalizeDays(days []schema.Weekday) []schema.Weekday {
	seen := make(map[schema.Weekday]bool, len(days))
	out := make([]schema.Weekday, 0, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
