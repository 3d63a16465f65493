// Package realclock implements ports.Clock on the time package.
package realclock

import (
	"time"

	"github.com/acolita/sshsmoke/internal/ports"
)

// Clock is the wall clock.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

func (c *Clock) Now() time.Time { return time.Now() }

func (c *Clock) Since(t time.Time) time.Duration { return time.Since(t) }

// NewTimer wraps time.NewTimer.
func (c *Clock) NewTimer(d time.Duration) ports.Timer {
	return timer{time.NewTimer(d)}
}

type timer struct{ t *time.Timer }

func (t timer) C() <-chan time.Time { return t.t.C }
func (t timer) Stop() bool          { return t.t.Stop() }

var _ ports.Clock = (*Clock)(nil)
