package backoff_test

import (
	"testing"
	"time"

	"github.com/oxlane/spool/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Minute, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Minute}, // base * 2^0
		{2, 2 * time.Minute}, // base * 2^1
		{3, 4 * time.Minute}, // base * 2^2
		{4, 8 * time.Minute}, // base * 2^3
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Minute, time.Hour)

	if got := e.Delay(10); got != time.Hour {
		t.Errorf("Delay(10) = %v, want %v (capped at Max)", got, time.Hour)
	}
	if got := e.Delay(30); got != time.Hour {
		t.Errorf("Delay(30) = %v, want %v (capped at Max)", got, time.Hour)
	}
}

func TestExponentialWithJitter_StaysWithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	for attempt := 1; attempt <= 10; attempt++ {
		ceiling := time.Duration(1<<uint(attempt-1)) * time.Second
		if ceiling > time.Minute {
			ceiling = time.Minute
		}
		for range 50 {
			got := e.Delay(attempt)
			if got < 0 || got > ceiling {
				t.Fatalf("Delay(%d) = %v, want in [0, %v]", attempt, got, ceiling)
			}
		}
	}
}

func TestDefaultStrategy_MatchesRetryPolicy(t *testing.T) {
	s := backoff.DefaultStrategy()

	if got := s.Delay(1); got != time.Minute {
		t.Errorf("Delay(1) = %v, want 1m", got)
	}
	if got := s.Delay(2); got != 2*time.Minute {
		t.Errorf("Delay(2) = %v, want 2m", got)
	}
}
