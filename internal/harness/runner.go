package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/acolita/sshsmoke/internal/adapters/realclock"
	"github.com/acolita/sshsmoke/internal/adapters/realfs"
	"github.com/acolita/sshsmoke/internal/inspect"
	"github.com/acolita/sshsmoke/internal/ports"
	"github.com/acolita/sshsmoke/internal/recording"
	"github.com/acolita/sshsmoke/internal/session"
)

const previewLen = 60

// Runner executes scenarios one at a time.
type Runner struct {
	clock       ports.Clock
	fs          ports.FileSystem
	reporter    *Reporter
	sessionOpts []session.Option
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the clock used for settle waits and timing.
func WithClock(c ports.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithFileSystem sets the filesystem used for recordings.
func WithFileSystem(fs ports.FileSystem) Option {
	return func(r *Runner) {
		r.fs = fs
	}
}

// WithReporter sets where status lines go. Without one the run is silent.
func WithReporter(rep *Reporter) Option {
	return func(r *Runner) {
		r.reporter = rep
	}
}

// WithSessionOptions appends options to every session the runner starts.
func WithSessionOptions(opts ...session.Option) Option {
	return func(r *Runner) {
		r.sessionOpts = append(r.sessionOpts, opts...)
	}
}

// NewRunner creates a runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		clock: realclock.New(),
		fs:    realfs.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the mutable state of one scenario execution.
type run struct {
	sc       Scenario
	sess     *session.Session
	rec      *recording.Recorder
	rep      *Reporter
	captured []byte
	sent     int
	capDone  bool
	err      error
	verdict  *Verdict
}

// Run executes sc and returns its verdict. Errors never escape: every
// failure becomes a failing verdict, and the client process is always
// closed and reaped before Run returns.
func (r *Runner) Run(ctx context.Context, sc Scenario) *Verdict {
	sc.applyDefaults()
	start := r.clock.Now()
	v := &Verdict{Scenario: sc.Name}

	if sc.Overall > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sc.Overall)
		defer cancel()
	}

	r.reporter.Begin(sc)
	logger := slog.With(slog.String("scenario", sc.Name))

	st := &run{sc: sc, rep: r.reporter, verdict: v}
	st.rec = r.startRecording(sc, logger)
	if st.rec != nil {
		defer st.rec.Close()
		v.Recording = st.rec.Path()
	}

	opts := []session.Option{
		session.WithClock(r.clock),
		session.WithReadTimeout(sc.ReadTimeout),
		session.WithPreflight(sc.ConnectTimeout),
		session.WithQuit([]byte(sc.Script.Quit), sc.Script.QuitDelay),
	}
	opts = append(opts, r.sessionOpts...)

	sess, err := session.Start(ctx, sc.Target, opts...)
	if err != nil {
		logger.Error("spawn failed", slog.String("error", err.Error()))
		r.reporter.ConnectFailed(err)
		v.Err = err
		v.add(CheckConnection, false, err.Error())
		v.Duration = r.clock.Since(start)
		v.seal()
		r.reporter.End(v)
		return v
	}
	// Close is idempotent; the deferred call covers panics and any early
	// return added later.
	defer sess.Close(sc.Grace)

	st.sess = sess
	v.Pid = sess.Pid()
	r.reporter.Connected(sess)
	v.add(CheckConnection, true, fmt.Sprintf("spawned %s (pid %d)", sess.Argv()[0], sess.Pid()))

	if err := st.exercise(ctx); err != nil {
		logger.Error("run aborted",
			slog.String("step", v.FailedStep),
			slog.String("kind", session.Kind(err)),
			slog.String("error", err.Error()),
		)
		st.err = err
		v.Err = err
	}

	closeErr := sess.Close(sc.Grace)
	v.Close = sess.CloseOutcome()
	r.reporter.Cleanup(v.Close, closeErr)
	if v.Err == nil && v.Close.Killed {
		// A client that outlives the grace period hung somewhere the
		// script did not wait on.
		v.Err = &session.TimeoutError{Op: "close", After: sc.Grace, Err: context.DeadlineExceeded}
	}
	if stderr := sess.Stderr(); len(stderr) > 0 {
		logger.Debug("client stderr", slog.String("tail", inspect.Preview(stderr, 200)))
	}

	v.Output = st.captured
	st.judge(closeErr)
	v.Duration = r.clock.Since(start)
	v.seal()

	logger.Info("scenario finished",
		slog.Bool("passed", v.Passed),
		slog.Duration("duration", v.Duration),
	)
	r.reporter.End(v)
	return v
}

func (r *Runner) startRecording(sc Scenario, logger *slog.Logger) *recording.Recorder {
	if sc.RecordDir == "" {
		return nil
	}
	rec, err := recording.NewRecorder(sc.RecordDir, sc.Name, 80, 24, r.fs, r.clock)
	if err != nil {
		// A transcript is a debugging aid; the run goes ahead without it.
		logger.Warn("recording disabled", slog.String("error", err.Error()))
		return nil
	}
	return rec
}

// exercise replays the script: settle, steps, capture, quit. It stops at
// the first error.
func (st *run) exercise(ctx context.Context) error {
	sc := st.sc
	steps := sc.Script.Steps

	if err := st.sess.AwaitSettle(ctx, sc.Script.InitialDelay); err != nil {
		st.verdict.FailedStep = "initial settle"
		return err
	}

	for i, step := range steps {
		st.verdict.FailedStep = step.Name
		st.marker(step.Name)

		payload := step.Bytes()
		err := st.sess.SendStep(payload)
		st.recordInput(payload, step.Secret)
		st.rep.Step(i, len(steps), step, err)
		if err != nil {
			return err
		}
		st.sent++

		if step.CompiledExpect != nil {
			out, err := st.sess.WaitFor(ctx, step.CompiledExpect, sc.Script.ExpectTimeoutFor(step))
			st.keep(out)
			if err != nil {
				return fmt.Errorf("waiting for %q: %w", step.Expect, err)
			}
			continue
		}
		if err := st.sess.AwaitSettle(ctx, step.Delay); err != nil {
			return err
		}
	}

	st.verdict.FailedStep = "capture"
	out, err := st.sess.CaptureOutput(ctx, sc.CaptureBytes)
	st.keep(out)
	st.capDone = err == nil
	st.rep.Captured(len(st.captured), inspect.Preview(st.captured, previewLen), err)
	if err != nil {
		return err
	}

	st.verdict.FailedStep = "quit"
	st.marker("quit")
	err = st.sess.Quit(ctx)
	st.recordInput([]byte(sc.Script.Quit), false)
	st.rep.Quit(sc.Script.Quit, err)
	if err != nil {
		return err
	}

	st.verdict.FailedStep = ""
	return nil
}

// keep appends read bytes to the capture buffer up to its cap.
func (st *run) keep(out []byte) {
	if len(out) == 0 {
		return
	}
	if st.rec != nil {
		_ = st.rec.RecordOutput(out)
	}
	if room := st.sc.CaptureBytes - len(st.captured); room > 0 {
		if len(out) > room {
			out = out[:room]
		}
		st.captured = append(st.captured, out...)
	}
}

func (st *run) marker(label string) {
	if st.rec != nil {
		_ = st.rec.RecordMarker(label)
	}
}

func (st *run) recordInput(payload []byte, secret bool) {
	if st.rec == nil {
		return
	}
	if secret {
		_ = st.rec.RecordMaskedInput(len(payload))
		return
	}
	_ = st.rec.RecordInput(payload)
}

// judge adds the steps, rendering and exit checks.
func (st *run) judge(closeErr error) {
	v := st.verdict
	total := len(st.sc.Script.Steps)

	early := ""
	if st.sess.ExitedEarly() {
		early = fmt.Sprintf(" (UnexpectedTermination: client exited with code %d before quit)", v.Close.ExitCode)
	}
	switch {
	case st.err == nil:
		v.add(CheckSteps, true, fmt.Sprintf("%d/%d steps sent, quit sent", st.sent, total))
	case v.FailedStep != "":
		v.add(CheckSteps, false, fmt.Sprintf("%d/%d steps sent, failed at %s: %v%s", st.sent, total, v.FailedStep, st.err, early))
	default:
		v.add(CheckSteps, false, st.err.Error()+early)
	}

	v.Findings = inspect.Find(st.captured, st.sc.Markers)
	switch {
	case inspect.HasAnyMarker(st.captured, st.sc.Markers):
		v.add(CheckTUI, true, describeFindings(v.Findings))
	case !st.capDone && len(st.captured) == 0:
		v.add(CheckTUI, false, "no output captured")
	default:
		v.add(CheckTUI, false, fmt.Sprintf("no control sequences in %d bytes", len(st.captured)))
	}

	out := v.Close
	switch {
	case closeErr != nil:
		v.add(CheckCleanExit, false, closeErr.Error())
	case out.Killed:
		v.add(CheckCleanExit, false, fmt.Sprintf("killed after %s grace", st.sc.Grace))
	default:
		v.add(CheckCleanExit, true, fmt.Sprintf("exited in %s (exit code %d)", round(out.Elapsed), out.ExitCode))
	}
}

func describeFindings(findings []inspect.Finding) string {
	parts := make([]string, len(findings))
	for i, f := range findings {
		parts[i] = fmt.Sprintf("%s at byte %d", f.Marker.Name, f.Offset)
	}
	return "found " + strings.Join(parts, ", ")
}
