package simclock

import (
	"errors"
	"testing"
	"time"
)

func TestCurrentDateBeforeInitialize(t *testing.T) {
	c := New(time.Minute)
	if _, err := c.CurrentDate(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestCurrentDateScalesElapsedTime(t *testing.T) {
	c := New(time.Minute)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.Initialize(start)

	cases := []struct {
		elapsed time.Duration
		want    time.Time
	}{
		{0, SimStartDate},
		{59 * time.Second, SimStartDate},
		{time.Minute, SimStartDate.AddDate(0, 0, 1)},
		{3*time.Minute + 30*time.Second, SimStartDate.AddDate(0, 0, 3)},
	}
	for _, tc := range cases {
		c.now = func() time.Time { return start.Add(tc.elapsed) }
		got, err := c.CurrentDate()
		if err != nil {
			t.Fatalf("elapsed=%v: %v", tc.elapsed, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("elapsed=%v: expected %v, got %v", tc.elapsed, tc.want, got)
		}
	}
}

func TestDayBounds(t *testing.T) {
	d := time.Date(2050, 1, 5, 13, 45, 0, 0, time.UTC)
	start, end := DayBounds(d)
	if start.Hour() != 0 || start.Day() != 5 {
		t.Fatalf("bad start %v", start)
	}
	if !end.After(start) || end.Day() != 5 {
		t.Fatalf("bad end %v", end)
	}
}
