package smartglass

import (
	"testing"
	"time"
)

func TestBackoffNext(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 5 * time.Second, Multiplier: 1.5, MaxAttempts: 10}

	tests := []struct {
		name    string
		attempt int
		prev    time.Duration
		want    time.Duration
	}{
		{"first attempt", 1, 0, time.Second},
		{"grows by multiplier", 2, time.Second, 1500 * time.Millisecond},
		{"keeps growing", 3, 1500 * time.Millisecond, 2250 * time.Millisecond},
		{"capped", 6, 4 * time.Second, 5 * time.Second},
		{"at cap", 7, 5 * time.Second, 5 * time.Second},
		{"prev above cap", 8, time.Minute, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Next(tt.attempt, tt.prev); got != tt.want {
				t.Errorf("Next(%d, %s) = %s, want %s", tt.attempt, tt.prev, got, tt.want)
			}
		})
	}
}

func TestBackoffIsMonotonic(t *testing.T) {
	b := DefaultBackoff()
	var prev time.Duration
	for attempt := 1; attempt <= 20; attempt++ {
		next := b.Next(attempt, prev)
		if next < prev {
			t.Fatalf("attempt %d: delay %s shorter than previous %s", attempt, next, prev)
		}
		if next > b.Max {
			t.Fatalf("attempt %d: delay %s above cap %s", attempt, next, b.Max)
		}
		prev = next
	}
	if prev != b.Max {
		t.Errorf("final delay = %s, want cap %s", prev, b.Max)
	}
}

func TestBackoffIsPure(t *testing.T) {
	b := DefaultBackoff()
	for range 3 {
		if got := b.Next(4, 2*time.Second); got != 3*time.Second {
			t.Fatalf("Next(4, 2s) = %s, want 3s", got)
		}
	}
}

func TestBackoffDefaultsAndExhaustion(t *testing.T) {
	var zero Backoff
	if got := zero.Next(1, 0); got != defaultBackoffInitial {
		t.Errorf("zero policy first delay = %s, want %s", got, defaultBackoffInitial)
	}
	b := Backoff{MaxAttempts: 2}
	if b.Exhausted(1) {
		t.Error("Exhausted(1) = true with budget 2")
	}
	if !b.Exhausted(2) {
		t.Error("Exhausted(2) = false with budget 2")
	}
}
