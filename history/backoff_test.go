package history

import (
	"testing"
	"time"
)

func TestLinearBackOffGrowth(t *testing.T) {
	b := newLinearBackOff(time.Second, 4*time.Second)
	if d := b.currentDelay(); d != time.Second {
		t.Fatalf("fresh backoff should sit at the base interval, got %v", d)
	}
	expected := []time.Duration{2 * time.Second, 3 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, want := range expected {
		if got := b.NextBackOff(); got != want {
			t.Fatalf("failure %d: expected %v, got %v", i+1, want, got)
		}
	}
}

func TestLinearBackOffReset(t *testing.T) {
	b := newLinearBackOff(time.Second, time.Minute)
	b.NextBackOff()
	b.NextBackOff()
	b.Reset()
	if d := b.currentDelay(); d != time.Second {
		t.Fatalf("reset should return to the base interval, got %v", d)
	}
	if got := b.NextBackOff(); got != 2*time.Second {
		t.Fatalf("growth after reset should restart, got %v", got)
	}
}

func TestLinearBackOffNeverGrowsAtCap(t *testing.T) {
	b := newLinearBackOff(time.Second, time.Second)
	for i := 0; i < 5; i++ {
		if got := b.NextBackOff(); got != time.Second {
			t.Fatalf("delay should never grow past the cap, got %v", got)
		}
	}
}

func TestLinearBackOffZeroInterval(t *testing.T) {
	b := newLinearBackOff(0, time.Minute)
	for i := 0; i < 3; i++ {
		if got := b.NextBackOff(); got != 0 {
			t.Fatalf("zero interval should never sleep, got %v", got)
		}
	}
}
