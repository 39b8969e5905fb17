package schedule

import (
	"fmt"
	"time"
)

// ResolveLocal converts a local date and wall-clock time in loc to a UTC
// instant with a fixed DST policy: a wall time skipped by a spring-forward
// gap resolves to the first valid instant after the gap, and a wall time
// repeated by a fall-back overlap resolves to the earlier instant. The
// policy is deterministic regardless of how time.Date breaks ties.
func ResolveLocal(d DateOnly, w WallClock, loc *time.Location) (time.Time, error) {
	if loc == nil {
		return time.Time{}, fmt.Errorf("schedule: nil location")
	}
	if !d.IsValid() {
		return time.Time{}, fmt.Errorf("schedule: invalid date %s", d)
	}

	guess := time.Date(d.Year, d.Month, d.Day, w.Hour, w.Minute, 0, 0, loc)
	if rendersAs(guess, d, w) {
		// The wall time exists. Probe the offsets in force a day on either
		// side; if an alternative offset also renders this wall time we are
		// in a fall-back overlap and the earlier instant wins.
		earliest := guess
		wall := wallAsUTC(d, w)
		for _, off := range nearbyOffsets(guess, loc) {
			cand := wall.Add(-time.Duration(off) * time.Second)
			if rendersAs(cand.In(loc), d, w) && cand.Before(earliest) {
				earliest = cand
			}
		}
		return earliest.UTC(), nil
	}

	// The wall time falls inside a gap. Interpreting it with the offsets on
	// either side of the transition gives one instant before and one after;
	// binary-search the boundary between them, which is the first valid
	// instant after the gap.
	wall := wallAsUTC(d, w)
	offs := nearbyOffsets(guess, loc)
	lo := wall.Add(-time.Duration(offs[0]) * time.Second)
	hi := lo
	for _, off := range offs[1:] {
		cand := wall.Add(-time.Duration(off) * time.Second)
		if cand.Before(lo) {
			lo = cand
		}
		if cand.After(hi) {
			hi = cand
		}
	}
	if !lo.Before(hi) {
		// no distinct offsets found; trust the runtime's normalization
		return guess.UTC(), nil
	}
	_, loOff := lo.In(loc).Zone()
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2).Truncate(time.Second)
		if _, off := mid.In(loc).Zone(); off == loOff {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi.UTC(), nil
}

// rendersAs reports whether t shows the given date and wall clock.
func rendersAs(t time.Time, d DateOnly, w WallClock) bool {
	return t.Year() == d.Year && t.Month() == d.Month && t.Day() == d.Day &&
		t.Hour() == w.Hour && t.Minute() == w.Minute
}

// wallAsUTC treats the local wall time as if it were UTC, giving a fixed
// point to apply candidate offsets to.
func wallAsUTC(d DateOnly, w WallClock) time.Time {
	return time.Date(d.Year, d.Month, d.Day, w.Hour, w.Minute, 0, 0, time.UTC)
}

// nearbyOffsets collects the distinct zone offsets in force within a day of
// t. Around a DST transition this yields both sides.
func nearbyOffsets(t time.Time, loc *time.Location) []int {
	seen := make(map[int]struct{}, 3)
	var offs []int
	for _, probe := range []time.Time{t.Add(-24 * time.Hour), t, t.Add(24 * time.Hour)} {
		_, off := probe.In(loc).Zone()
		if _, ok := seen[off]; ok {
			continue
		}
		seen[off] = struct{}{}
		offs = append(offs, off)
	}
	return offs
}
