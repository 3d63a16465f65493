package fakeclock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fired(t *testing.T, ch <-chan time.Time) bool {
	t.Helper()
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestClock_AdvanceMovesNowAndSince(t *testing.T) {
	c := New(epoch)
	c.Advance(90 * time.Second)

	if got := c.Now(); !got.Equal(epoch.Add(90 * time.Second)) {
		t.Errorf("Now() = %v", got)
	}
	if got := c.Since(epoch); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}
}

func TestClock_TimerFiresAtDeadline(t *testing.T) {
	c := New(epoch)
	tm := c.NewTimer(2 * time.Second)

	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	c.Advance(time.Second)
	if fired(t, tm.C()) {
		t.Fatal("timer fired a second early")
	}

	c.Advance(time.Second)
	if !fired(t, tm.C()) {
		t.Fatal("timer did not fire at its deadline")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() after firing = %d, want 0", c.Pending())
	}
	if tm.Stop() {
		t.Error("Stop() after firing = true, want false")
	}
}

func TestClock_StoppedTimerNeverFires(t *testing.T) {
	c := New(epoch)
	tm := c.NewTimer(time.Second)

	if !tm.Stop() {
		t.Fatal("Stop() on a pending timer = false")
	}
	c.Advance(time.Minute)
	if fired(t, tm.C()) {
		t.Error("stopped timer fired")
	}
}

func TestClock_ZeroTimerFiresImmediately(t *testing.T) {
	c := New(epoch)
	if !fired(t, c.NewTimer(0).C()) {
		t.Error("NewTimer(0) did not fire")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestClock_BlockUntil(t *testing.T) {
	c := New(epoch)

	if c.BlockUntil(1, 10*time.Millisecond) {
		t.Fatal("BlockUntil reported a timer that does not exist")
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.NewTimer(time.Second)
	}()

	if !c.BlockUntil(1, time.Second) {
		t.Fatal("BlockUntil did not observe the pending timer")
	}
}
