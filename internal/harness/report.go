package harness

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/acolita/sshsmoke/internal/script"
	"github.com/acolita/sshsmoke/internal/session"
)

const ruleWidth = 70

// Reporter prints human-readable status lines for a run. Colors are only
// used when the writer is a terminal.
type Reporter struct {
	mu   sync.Mutex
	w    io.Writer
	ok   lipgloss.Style
	fail lipgloss.Style
	head lipgloss.Style
}

// NewReporter creates a reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	r := lipgloss.NewRenderer(w)
	return &Reporter{
		w:    w,
		ok:   r.NewStyle().Foreground(lipgloss.Color("2")),
		fail: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		head: r.NewStyle().Bold(true),
	}
}

func (r *Reporter) printf(format string, args ...any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

func (r *Reporter) mark(ok bool) string {
	if ok {
		return r.ok.Render("✓")
	}
	return r.fail.Render("✗")
}

func (r *Reporter) status(ok bool, format string, args ...any) {
	if r == nil {
		return
	}
	r.printf("%s %s\n", r.mark(ok), fmt.Sprintf(format, args...))
}

// Begin prints the run banner.
func (r *Reporter) Begin(sc Scenario) {
	if r == nil {
		return
	}
	rule := strings.Repeat("=", ruleWidth)
	r.printf("%s\n%s\n%s\n", rule,
		r.head.Render(fmt.Sprintf("SSH LOGIN SMOKE TEST: %s (%s@%s)", sc.Name, sc.Target.User, sc.Target.Addr())),
		rule)
}

// Connected reports a successful spawn.
func (r *Reporter) Connected(s *session.Session) {
	r.status(true, "connection: spawned %s (pid %d)", s.Argv()[0], s.Pid())
}

// ConnectFailed reports a failed spawn.
func (r *Reporter) ConnectFailed(err error) {
	r.status(false, "connection: %v", err)
}

// Step reports one scripted write.
func (r *Reporter) Step(i, total int, st script.Step, err error) {
	if err != nil {
		r.status(false, "step %d/%d %s: %v", i+1, total, st.Name, err)
		return
	}
	r.status(true, "step %d/%d %s: sent %s", i+1, total, st.Name, st.Display())
}

// Captured reports the capture buffer.
func (r *Reporter) Captured(n int, preview string, err error) {
	if err != nil {
		r.status(false, "capture: %v", err)
		return
	}
	if preview == "" {
		r.status(true, "capture: %d bytes", n)
		return
	}
	r.status(true, "capture: %d bytes %q", n, preview)
}

// Quit reports the quit payload.
func (r *Reporter) Quit(payload string, err error) {
	if err != nil {
		r.status(false, "quit: %v", err)
		return
	}
	r.status(true, "quit: sent %q", payload)
}

// Cleanup reports how the process ended.
func (r *Reporter) Cleanup(out session.CloseOutcome, err error) {
	switch {
	case err != nil:
		r.status(false, "cleanup: %v", err)
	case out.Killed:
		r.status(false, "cleanup: killed after grace period (%s)", round(out.Elapsed))
	default:
		r.status(true, "cleanup: exited in %s (exit code %d)", round(out.Elapsed), out.ExitCode)
	}
}

// End prints every check and the final verdict line.
func (r *Reporter) End(v *Verdict) {
	if r == nil {
		return
	}
	rule := strings.Repeat("=", ruleWidth)
	r.printf("%s\n", rule)
	for _, c := range v.Checks {
		r.status(c.OK, "%s: %s", c.Name, c.Detail)
	}
	if v.Err != nil {
		where := ""
		if v.FailedStep != "" {
			where = fmt.Sprintf(" at step %s", v.FailedStep)
		}
		r.printf("%s%s: %v\n", v.ErrKind(), where, v.Err)
	}
	if v.Recording != "" {
		r.printf("recording: %s\n", v.Recording)
	}
	if v.Passed {
		r.printf("%s %s (%s)\n", r.ok.Render("PASS"), v.Scenario, round(v.Duration))
	} else {
		r.printf("%s %s (%s)\n", r.fail.Render("FAIL"), v.Scenario, round(v.Duration))
	}
}

// Summary prints the tally of a multi-scenario run.
func (r *Reporter) Summary(verdicts []*Verdict) {
	if r == nil || len(verdicts) < 2 {
		return
	}
	failed := 0
	for _, v := range verdicts {
		if !v.Passed {
			failed++
		}
	}
	r.printf("\n%d scenarios, %d passed, %d failed\n", len(verdicts), len(verdicts)-failed, failed)
}

func round(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(10 * time.Millisecond)
}
