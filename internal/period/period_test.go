package period

import (
	"testing"
	"time"
)

func TestStartBeforeAnchorHourFallsBackAWeek(t *testing.T) {
	now := time.Date(2024, time.January, 10, 11, 59, 59, 0, time.UTC) // Wednesday
	want := time.Date(2024, time.January, 3, 12, 0, 0, 0, time.UTC)
	if got := Start(now); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestStartAfterAnchorHourUsesSameDay(t *testing.T) {
	now := time.Date(2024, time.January, 10, 12, 0, 1, 0, time.UTC)
	want := time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)
	if got := Start(now); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestStartExactlyAtAnchor(t *testing.T) {
	now := time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)
	if got := Start(now); !got.Equal(now) {
		t.Fatalf("anchor instant should start its own period, got %s", got)
	}
}

func TestStartAcrossWeek(t *testing.T) {
	want := time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)
	cases := []time.Time{
		time.Date(2024, time.January, 11, 0, 0, 0, 0, time.UTC),  // Thursday
		time.Date(2024, time.January, 14, 23, 0, 0, 0, time.UTC), // Sunday
		time.Date(2024, time.January, 17, 11, 0, 0, 0, time.UTC), // next Wednesday morning
	}
	for _, now := range cases {
		if got := Start(now); !got.Equal(want) {
			t.Fatalf("now=%s: expected %s, got %s", now, want, got)
		}
	}
}

func TestStartConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	// 2024-01-10 19:30 +08:00 is 11:30 UTC on Wednesday.
	now := time.Date(2024, time.January, 10, 19, 30, 0, 0, loc)
	want := time.Date(2024, time.January, 3, 12, 0, 0, 0, time.UTC)
	if got := Start(now); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestEnd(t *testing.T) {
	now := time.Date(2024, time.January, 12, 8, 0, 0, 0, time.UTC)
	want := time.Date(2024, time.January, 17, 12, 0, 0, 0, time.UTC)
	if got := Default.End(now); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestParseWeekday(t *testing.T) {
	if d, err := ParseWeekday("Wed"); err != nil || d != time.Wednesday {
		t.Fatalf("expected wednesday, got %v %v", d, err)
	}
	if d, err := ParseWeekday("sunday"); err != nil || d != time.Sunday {
		t.Fatalf("expected sunday, got %v %v", d, err)
	}
	if _, err := ParseWeekday("someday"); err == nil {
		t.Fatal("unknown weekday should fail")
	}
}
