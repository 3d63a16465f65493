package realclock

import (
	"testing"
	"time"
)

func TestClock_TimerFires(t *testing.T) {
	c := New()
	start := c.Now()

	tm := c.NewTimer(10 * time.Millisecond)
	select {
	case <-tm.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if got := c.Since(start); got < 10*time.Millisecond {
		t.Errorf("Since() = %v, want at least 10ms", got)
	}
}

func TestClock_TimerStop(t *testing.T) {
	tm := New().NewTimer(time.Hour)
	if !tm.Stop() {
		t.Error("Stop() on a pending timer = false, want true")
	}
}
