package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBuildDailySpec(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"08:00", "0 0 8 * * *", false},
		{"23:59", "0 59 23 * * *", false},
		{" 7:05 ", "0 5 7 * * *", false},
		{"24:00", "", true},
		{"12:60", "", true},
		{"noon", "", true},
		{"1:2:3", "", true},
	}
	for _, tc := range cases {
		got, err := buildDailySpec(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("buildDailySpec(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("buildDailySpec(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestScheduler_Register(t *testing.T) {
	s := NewSchedulerService(time.UTC, discardLogger())
	noop := func(context.Context) error { return nil }

	if _, err := s.ScheduleInterval(0, "bad", time.Second, noop); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if _, err := s.ScheduleDaily("25:00", "bad", time.Second, noop); err == nil {
		t.Fatalf("expected error for bad time")
	}
	if _, err := s.ScheduleDaily("08:00", "daily", time.Second, noop); err != nil {
		t.Fatalf("daily: %v", err)
	}
	if _, err := s.ScheduleInterval(5*time.Hour, "interval", time.Second, noop); err != nil {
		t.Fatalf("interval: %v", err)
	}
	if s.Entries() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Entries())
	}
	s.Start()
	s.Stop()
}

func TestScheduler_WrapRecoversAndBoundsContext(t *testing.T) {
	s := NewSchedulerService(time.UTC, discardLogger())

	s.wrap("panics", time.Second, func(context.Context) error { panic("boom") })()

	var deadlineSet bool
	s.wrap("bounded", time.Minute, func(ctx context.Context) error {
		_, deadlineSet = ctx.Deadline()
		return errors.New("logged, not returned")
	})()
	if !deadlineSet {
		t.Fatalf("expected job context to carry a deadline")
	}
}
