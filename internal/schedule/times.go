// Package schedule is the pure time and recurrence engine behind
// availability publishing. It has no storage or transport dependencies;
// everything here is deterministic and unit-testable.
package schedule

import (
	"encoding/json"
	"fmt"
	"time"
)

// WallClock is a local time of day with minute precision.
type WallClock struct {
	Hour   int
	Minute int
}

// ParseWallClock parses strict 24h "HH:MM".
func ParseWallClock(s string) (WallClock, error) {
	var w WallClock
	if len(s) != 5 || s[2] != ':' {
		return w, fmt.Errorf("schedule: invalid time %q, want HH:MM", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%02d:%02d", &h, &m); err != nil {
		return w, fmt.Errorf("schedule: invalid time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return w, fmt.Errorf("schedule: time %q out of range", s)
	}
	return WallClock{Hour: h, Minute: m}, nil
}

// MinutesOfDay converts minutes-since-midnight into a WallClock.
func MinutesOfDay(total int) WallClock {
	return WallClock{Hour: total / 60, Minute: total % 60}
}

func (w WallClock) Minutes() int { return w.Hour*60 + w.Minute }

func (w WallClock) String() string { return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute) }

func (w WallClock) Before(o WallClock) bool { return w.Minutes() < o.Minutes() }

// MarshalJSON renders the time as "HH:MM".
func (w WallClock) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.String() + `"`), nil
}

// UnmarshalJSON accepts strict 24h "HH:MM".
func (w *WallClock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("schedule: time must be a string: %w", err)
	}
	parsed, err := ParseWallClock(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// DateOnly is a calendar date with no time or zone attached.
type DateOnly struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (DateOnly, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return DateOnly{}, fmt.Errorf("schedule: invalid date %q: %w", s, err)
	}
	return DateOnly{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// DateOf extracts the calendar date of t in t's location.
func DateOf(t time.Time) DateOnly {
	return DateOnly{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d DateOnly) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalJSON renders the date as "YYYY-MM-DD".
func (d DateOnly) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts "YYYY-MM-DD".
func (d *DateOnly) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("schedule: date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsZero reports whether the date is the zero value, useful for optional
// request fields.
func (d DateOnly) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// AddDays returns the date n days later, normalized across month and year
// boundaries.
func (d DateOnly) AddDays(n int) DateOnly {
	t := time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC)
	return DateOf(t)
}

func (d DateOnly) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

func (d DateOnly) Before(o DateOnly) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d DateOnly) Equal(o DateOnly) bool {
	return d.Year == o.Year && d.Month == o.Month && d.Day == o.Day
}

// IsValid reports whether the day exists in the month (rejects Feb 30 and
// friends).
func (d DateOnly) IsValid() bool {
	if d.Day < 1 || d.Month < time.January || d.Month > time.December {
		return false
	}
	return d.Day <= daysInMonth(d.Year, d.Month)
}

func daysInMonth(year int, month time.Month) int {
	// day 0 of the next month normalizes to the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
