// Package ports defines interfaces for external dependencies (Ports and Adapters pattern).
package ports

import "time"

// Clock is the time source for settle waits, read windows and run timing.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration

	// NewTimer starts a one-shot timer that fires once after d.
	NewTimer(d time.Duration) Timer
}

// Timer is a one-shot timer. Stop releases it if it has not fired.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}
