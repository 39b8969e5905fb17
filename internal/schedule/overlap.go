package schedule

import "time"

// Span is a half-open UTC interval [Start, End).
type Span struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the two half-open intervals intersect. Spans
// that merely touch (one ends exactly when the other starts) do not
// overlap.
func (s Span) Overlaps(o Span) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Contains reports whether t falls inside the span.
func (s Span) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Duration returns the span length.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}
