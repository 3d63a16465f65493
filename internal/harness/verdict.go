package harness

import (
	"time"

	"github.com/acolita/sshsmoke/internal/inspect"
	"github.com/acolita/sshsmoke/internal/session"
)

// Check names, in report order.
const (
	CheckConnection = "connection"
	CheckSteps      = "steps"
	CheckTUI        = "tui_rendering"
	CheckCleanExit  = "clean_exit"
)

// Check is one asserted property of a run.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Verdict is the outcome of one run. The runner builds it once and never
// touches it again.
type Verdict struct {
	Scenario string
	Passed   bool
	Checks   []Check

	// Err is the first error of the run, one of the session error types.
	Err error

	// FailedStep names the step that was executing when Err occurred.
	FailedStep string

	// Pid is the client process id, 0 if it never started.
	Pid int

	Output   []byte
	Findings []inspect.Finding
	Close    session.CloseOutcome
	Duration time.Duration

	// Recording is the transcript path, if one was written.
	Recording string
}

// Check returns the named check.
func (v *Verdict) Check(name string) (Check, bool) {
	for _, c := range v.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// ErrKind returns the taxonomy name of Err, or "" when the run had no error.
func (v *Verdict) ErrKind() string {
	return session.Kind(v.Err)
}

func (v *Verdict) add(name string, ok bool, detail string) {
	v.Checks = append(v.Checks, Check{Name: name, OK: ok, Detail: detail})
}

func (v *Verdict) seal() {
	v.Passed = v.Err == nil && len(v.Checks) > 0
	for _, c := range v.Checks {
		if !c.OK {
			v.Passed = false
		}
	}
}
