package schedule

import (
	"testing"
	"time"
)

func nyc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestResolveLocalPlainTime(t *testing.T) {
	loc := nyc(t)
	// 2030-03-04 is EST (UTC-5)
	got, err := ResolveLocal(DateOnly{2030, time.March, 4}, WallClock{9, 0}, loc)
	if err != nil {
		t.Fatalf("ResolveLocal: %v", err)
	}
	want := time.Date(2030, time.March, 4, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}

	// one week later DST is in force (UTC-4)
	got, err = ResolveLocal(DateOnly{2030, time.March, 11}, WallClock{9, 0}, loc)
	if err != nil {
		t.Fatalf("ResolveLocal: %v", err)
	}
	want = time.Date(2030, time.March, 11, 13, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestResolveLocalSpringForwardGap(t *testing.T) {
	loc := nyc(t)
	// 02:30 does not exist on 2030-03-10 in New York; the clock jumps from
	// 02:00 EST to 03:00 EDT. Expect the first valid instant after the gap.
	got, err := ResolveLocal(DateOnly{2030, time.March, 10}, WallClock{2, 30}, loc)
	if err != nil {
		t.Fatalf("ResolveLocal: %v", err)
	}
	want := time.Date(2030, time.March, 10, 7, 0, 0, 0, time.UTC) // 03:00 EDT
	if !got.Equal(want) {
		t.Fatalf("gap resolution: got %s, want %s", got, want)
	}
}

func TestResolveLocalFallBackOverlap(t *testing.T) {
	loc := nyc(t)
	// 01:30 occurs twice on 2030-11-03 in New York. Expect the earlier
	// (EDT, UTC-4) instant.
	got, err := ResolveLocal(DateOnly{2030, time.November, 3}, WallClock{1, 30}, loc)
	if err != nil {
		t.Fatalf("ResolveLocal: %v", err)
	}
	want := time.Date(2030, time.November, 3, 5, 30, 0, 0, time.UTC) // 01:30 EDT
	if !got.Equal(want) {
		t.Fatalf("overlap resolution: got %s, want %s", got, want)
	}
}

func TestResolveLocalUTC(t *testing.T) {
	got, err := ResolveLocal(DateOnly{2030, time.June, 1}, WallClock{8, 15}, time.UTC)
	if err != nil {
		t.Fatalf("ResolveLocal: %v", err)
	}
	want := time.Date(2030, time.June, 1, 8, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestResolveLocalSameWallClockIsStable(t *testing.T) {
	loc := nyc(t)
	d := DateOnly{2030, time.March, 11}
	w := WallClock{9, 0}
	first, err := ResolveLocal(d, w, loc)
	if err != nil {
		t.Fatalf("ResolveLocal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := ResolveLocal(d, w, loc)
		if err != nil {
			t.Fatalf("ResolveLocal: %v", err)
		}
		if !again.Equal(first) {
			t.Fatalf("resolution not deterministic: %s vs %s", again, first)
		}
	}
}

func TestResolveLocalRejectsBadInput(t *testing.T) {
	if _, err := ResolveLocal(DateOnly{2030, time.February, 30}, WallClock{9, 0}, time.UTC); err == nil {
		t.Fatal("expected error for invalid date")
	}
	if _, err := ResolveLocal(DateOnly{2030, time.June, 1}, WallClock{9, 0}, nil); err == nil {
		t.Fatal("expected error for nil location")
	}
}
