package schedule

import (
	"fmt"
	"time"
)

// Pattern names how an availability date repeats.
type Pattern string

const (
	PatternNone    Pattern = "none"
	PatternDaily   Pattern = "daily"
	PatternWeekly  Pattern = "weekly"
	PatternMonthly Pattern = "monthly"
)

// ParsePattern validates a recurrence pattern string. Empty means none.
func ParsePattern(s string) (Pattern, error) {
	switch Pattern(s) {
	case "", PatternNone:
		return PatternNone, nil
	case PatternDaily, PatternWeekly, PatternMonthly:
		return Pattern(s), nil
	default:
		return "", fmt.Errorf("schedule: unknown recurrence pattern %q", s)
	}
}

// ExpandRecurrence lists the occurrence dates of pattern from start through
// end inclusive. Daily steps one day, weekly seven, monthly one calendar
// month keeping the start's day-of-month and skipping months that do not
// have it (no clamping to the month end). PatternNone yields just the start.
func ExpandRecurrence(start, end DateOnly, pattern Pattern) ([]DateOnly, error) {
	if !start.IsValid() {
		return nil, fmt.Errorf("schedule: invalid start date %s", start)
	}
	if pattern == PatternNone {
		return []DateOnly{start}, nil
	}
	if !end.IsValid() {
		return nil, fmt.Errorf("schedule: invalid end date %s", end)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("schedule: recurrence end %s before start %s", end, start)
	}

	var step int
	switch pattern {
	case PatternDaily:
		step = 1
	case PatternWeekly:
		step = 7
	case PatternMonthly:
		return expandMonthly(start, end), nil
	default:
		return nil, fmt.Errorf("schedule: unknown recurrence pattern %q", pattern)
	}

	var dates []DateOnly
	for d := start; !end.Before(d); d = d.AddDays(step) {
		dates = append(dates, d)
	}
	return dates, nil
}

func expandMonthly(start, end DateOnly) []DateOnly {
	var dates []DateOnly
	for i := 0; ; i++ {
		year, month := addMonths(start.Year, start.Month, i)
		// once even the 1st of the month is past the end we are done
		if end.Before(DateOnly{Year: year, Month: month, Day: 1}) {
			break
		}
		d := DateOnly{Year: year, Month: month, Day: start.Day}
		if !d.IsValid() {
			continue // month has no such day, occurrence skipped
		}
		if !end.Before(d) {
			dates = append(dates, d)
		}
	}
	return dates
}

func addMonths(year int, month time.Month, n int) (int, time.Month) {
	m := int(month) - 1 + n
	return year + m/12, time.Month(m%12 + 1)
}
