package monoclock

import (
	"testing"
	"time"
)

func TestSystem_NonDecreasing(t *testing.T) {
	var c System

	first, err := c.Now()
	if err != nil {
		t.Fatalf("Now() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := c.Now()
	if err != nil {
		t.Fatalf("Now() error = %v", err)
	}

	if second < first {
		t.Fatalf("Now() went backwards: %d then %d", first, second)
	}
	if second-first < 5 {
		t.Fatalf("Now() advanced %dms across a 5ms sleep, want >= 5", second-first)
	}
}
