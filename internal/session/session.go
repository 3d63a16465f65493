// Package session drives one external remote-shell client process: spawn,
// timed input writes, bounded output capture, quit and guaranteed cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/acolita/sshsmoke/internal/adapters/realclock"
	"github.com/acolita/sshsmoke/internal/ports"
	localpty "github.com/acolita/sshsmoke/internal/pty"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateQuitRequested
	StateTerminating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateQuitRequested:
		return "quit_requested"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Defaults used when no option overrides them.
const (
	DefaultReadTimeout      = 500 * time.Millisecond
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPreflightTimeout = 3 * time.Second
	DefaultGrace            = 2 * time.Second
	DefaultCaptureBytes     = 4096

	stderrLimit = 8192
	waitDelay   = 500 * time.Millisecond
)

// CloseOutcome describes how the process ended.
type CloseOutcome struct {
	Graceful bool          // exited within the grace period
	Killed   bool          // SIGKILL was needed
	ExitCode int           // -1 when terminated by a signal
	Elapsed  time.Duration // time spent in Close
	WaitErr  error         // error from reaping, if any
}

type readResult struct {
	data []byte
	err  error
}

// Session owns one client process and its three byte streams. Methods other
// than State, Close and CloseOutcome must be called from a single goroutine.
type Session struct {
	argv   []string
	target Target

	cmd    *exec.Cmd
	in     *os.File
	out    *os.File
	term   *localpty.Terminal
	stderr *tailBuffer

	clock            ports.Clock
	readTimeout      time.Duration
	writeTimeout     time.Duration
	preflightTimeout time.Duration
	ptyOpts          localpty.Options
	quitPayload      []byte
	quitDelay        time.Duration

	mu          sync.Mutex
	state       State
	exited      chan struct{}
	waitErr     error
	exitedEarly bool

	// single-flow read state
	pending  chan readResult
	leftover []byte
	eof      bool

	closeOnce sync.Once
	closeErr  error
	outcome   CloseOutcome
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for settle waits and read windows.
func WithClock(c ports.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithReadTimeout sets the capture window for CaptureOutput.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.readTimeout = d
	}
}

// WithWriteTimeout bounds each write to the input stream.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.writeTimeout = d
	}
}

// WithPreflight sets the TCP reachability probe timeout. Zero disables it.
func WithPreflight(d time.Duration) Option {
	return func(s *Session) {
		s.preflightTimeout = d
	}
}

// WithQuit sets the payload written by Quit and the settle time before
// SIGTERM.
func WithQuit(payload []byte, delay time.Duration) Option {
	return func(s *Session) {
		s.quitPayload = payload
		s.quitDelay = delay
	}
}

// WithPTYOptions sets the terminal geometry used when Target.TTY is set.
func WithPTYOptions(opts localpty.Options) Option {
	return func(s *Session) {
		s.ptyOpts = opts
	}
}

// WithCommand replaces the client command line built from the Target.
// Target validation and the preflight probe are skipped.
func WithCommand(argv ...string) Option {
	return func(s *Session) {
		s.argv = argv
	}
}

// Start spawns the client for target. It fails with *SpawnError when the
// target is invalid, unreachable, or the binary cannot be launched.
func Start(ctx context.Context, target Target, opts ...Option) (*Session, error) {
	s := &Session{
		target:           target,
		clock:            realclock.New(),
		readTimeout:      DefaultReadTimeout,
		writeTimeout:     DefaultWriteTimeout,
		preflightTimeout: DefaultPreflightTimeout,
		ptyOpts:          localpty.DefaultOptions(),
		quitPayload:      []byte("q"),
		quitDelay:        time.Second,
		stderr:           newTailBuffer(stderrLimit),
		exited:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if len(s.argv) == 0 {
		s.argv = target.Argv()
		if err := target.Validate(); err != nil {
			return nil, &SpawnError{Argv: s.argv, Err: err}
		}
		if err := s.preflight(ctx); err != nil {
			return nil, &SpawnError{Argv: s.argv, Err: err}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, ctxTimeout("start", 0, err)
	}

	if err := s.spawn(); err != nil {
		return nil, &SpawnError{Argv: s.argv, Err: err}
	}

	go s.reap()

	slog.Info("session started",
		slog.Int("pid", s.cmd.Process.Pid),
		slog.String("argv", quoteArgv(s.argv)),
		slog.Bool("tty", target.TTY),
	)
	return s, nil
}

// preflight checks that the target accepts TCP connections so a refused
// port surfaces as a spawn failure rather than a silent client exit.
func (s *Session) preflight(ctx context.Context) error {
	if s.preflightTimeout <= 0 {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, s.preflightTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", s.target.Addr())
	if err != nil {
		return fmt.Errorf("preflight %s: %w", s.target.Addr(), err)
	}
	return conn.Close()
}

func (s *Session) spawn() error {
	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	cmd.WaitDelay = waitDelay

	if s.target.TTY {
		term, err := localpty.Start(cmd, s.ptyOpts)
		if err != nil {
			return err
		}
		s.term = term
		s.in = term.File()
		s.out = term.File()
		s.cmd = cmd
		s.setState(StateRunning)
		return nil
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = s.stderr
	// Own process group so Close can signal helpers the client forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
		return err
	}

	// The child holds its own copies.
	inR.Close()
	outW.Close()

	s.cmd = cmd
	s.in = inW
	s.out = outR
	s.setState(StateRunning)
	return nil
}

// reap waits for the process and records how it ended.
func (s *Session) reap() {
	err := s.cmd.Wait()

	s.mu.Lock()
	s.waitErr = err
	if s.state == StateRunning {
		s.exitedEarly = true
	}
	s.mu.Unlock()
	close(s.exited)

	slog.Debug("session process exited",
		slog.Int("pid", s.cmd.Process.Pid),
		slog.Int("exit_code", s.cmd.ProcessState.ExitCode()),
	)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Pid returns the client's process id.
func (s *Session) Pid() int {
	return s.cmd.Process.Pid
}

// Argv returns the command line that was spawned.
func (s *Session) Argv() []string {
	return append([]string(nil), s.argv...)
}

// Exited is closed once the process has been reaped.
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// ExitedEarly reports whether the process exited before Quit was issued.
func (s *Session) ExitedEarly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitedEarly
}

// Stderr returns the tail of the client's error stream.
func (s *Session) Stderr() []byte {
	return s.stderr.Bytes()
}

func (s *Session) hasExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// AwaitSettle blocks for d so the remote side can present its next prompt.
// It returns a *TimeoutError if ctx ends first.
func (s *Session) AwaitSettle(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return ctxTimeout("settle", d, err)
	}
	if d <= 0 {
		return nil
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return ctxTimeout("settle", d, ctx.Err())
	}
}

// SendStep writes payload to the client's input stream. Each call is one
// unbuffered write. It fails with *WriteError if the session is not running
// or the process is gone.
func (s *Session) SendStep(payload []byte) error {
	if st := s.State(); st != StateRunning {
		return &WriteError{Len: len(payload), Err: fmt.Errorf("session is %s", st)}
	}
	return s.write(payload)
}

func (s *Session) write(payload []byte) error {
	if s.hasExited() {
		return &WriteError{Len: len(payload), Err: ErrUnexpectedTermination}
	}

	if s.writeTimeout > 0 {
		// Not every descriptor supports deadlines (some PTYs); the write is
		// then unbounded.
		_ = s.in.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}

	n, err := s.in.Write(payload)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return &WriteError{Len: len(payload), Written: n, Err: ctxTimeout("write", s.writeTimeout, context.DeadlineExceeded)}
		case errors.Is(err, syscall.EPIPE), errors.Is(err, os.ErrClosed), s.hasExited():
			return &WriteError{Len: len(payload), Written: n, Err: fmt.Errorf("%w: %w", ErrUnexpectedTermination, err)}
		default:
			return &WriteError{Len: len(payload), Written: n, Err: err}
		}
	}
	if n < len(payload) {
		return &WriteError{Len: len(payload), Written: n, Err: io.ErrShortWrite}
	}

	slog.Debug("wrote step", slog.Int("bytes", n))
	return nil
}

// CaptureOutput performs one bounded read of up to max bytes. It collects
// whatever arrives within the read timeout and returns an empty slice, not
// an error, when nothing is available.
func (s *Session) CaptureOutput(ctx context.Context, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultCaptureBytes
	}
	window := s.clock.NewTimer(s.readTimeout)
	defer window.Stop()

	var buf []byte
	for len(buf) < max {
		chunk, timedOut, err := s.readChunk(ctx, max-len(buf), window.C())
		buf = append(buf, chunk...)
		if err != nil {
			return buf, err
		}
		if timedOut || s.eof {
			break
		}
	}

	slog.Debug("captured output",
		slog.Int("bytes", len(buf)),
		slog.Int("max", max),
	)
	return buf, nil
}

// WaitFor reads output until pattern matches the bytes consumed so far or
// timeout elapses. The consumed bytes are returned in both cases.
func (s *Session) WaitFor(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) ([]byte, error) {
	deadline := s.clock.NewTimer(timeout)
	defer deadline.Stop()

	var buf []byte
	for {
		if pattern.Match(buf) {
			return buf, nil
		}
		if s.eof && len(s.leftover) == 0 {
			return buf, fmt.Errorf("waiting for %q: %w", pattern.String(), ErrUnexpectedTermination)
		}
		chunk, timedOut, err := s.readChunk(ctx, DefaultCaptureBytes, deadline.C())
		buf = append(buf, chunk...)
		if err != nil {
			return buf, err
		}
		if timedOut {
			if pattern.Match(buf) {
				return buf, nil
			}
			return buf, ctxTimeout(fmt.Sprintf("expect %q", pattern.String()), timeout, context.DeadlineExceeded)
		}
	}
}

// readChunk returns at most max bytes from one read of the output stream.
// A read still outstanding when window fires is kept for the next call.
func (s *Session) readChunk(ctx context.Context, max int, window <-chan time.Time) ([]byte, bool, error) {
	if len(s.leftover) > 0 {
		return s.takeLeftover(max), false, nil
	}
	if s.eof {
		return nil, false, nil
	}

	if s.pending == nil {
		ch := make(chan readResult, 1)
		out := s.out
		go func() {
			b := make([]byte, DefaultCaptureBytes)
			n, err := out.Read(b)
			ch <- readResult{data: b[:n], err: err}
		}()
		s.pending = ch
	}

	select {
	case r := <-s.pending:
		s.pending = nil
		if r.err != nil {
			// EOF on a pipe, EIO on a PTY whose child has gone, or the
			// descriptor was closed: no more output either way.
			s.eof = true
		}
		s.leftover = r.data
		return s.takeLeftover(max), false, nil
	case <-window:
		return nil, true, nil
	case <-ctx.Done():
		return nil, false, ctxTimeout("read", s.readTimeout, ctx.Err())
	}
}

func (s *Session) takeLeftover(max int) []byte {
	n := len(s.leftover)
	if n > max {
		n = max
	}
	chunk := s.leftover[:n:n]
	s.leftover = s.leftover[n:]
	if len(s.leftover) == 0 {
		s.leftover = nil
	}
	return chunk
}

// Quit writes the quit payload, waits the quit delay, then asks the process
// to terminate with SIGTERM.
func (s *Session) Quit(ctx context.Context) error {
	if st := s.State(); st != StateRunning {
		return &WriteError{Len: len(s.quitPayload), Err: fmt.Errorf("session is %s", st)}
	}
	// The client may hang up as soon as the payload lands; mark the quit
	// first so that exit is not taken for an early termination.
	s.setState(StateQuitRequested)
	if err := s.write(s.quitPayload); err != nil {
		return err
	}
	slog.Debug("quit requested", slog.Int("pid", s.Pid()))

	if err := s.AwaitSettle(ctx, s.quitDelay); err != nil {
		return err
	}
	s.signal(syscall.SIGTERM)
	return nil
}

// Close terminates the process: SIGTERM, wait up to grace, then SIGKILL and
// reap unconditionally. All descriptors are released. Close is idempotent
// and safe to call from any goroutine.
func (s *Session) Close(grace time.Duration) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(grace)
	})
	return s.closeErr
}

func (s *Session) close(grace time.Duration) error {
	start := s.clock.Now()
	s.setState(StateTerminating)

	// EOF on stdin is often enough for the client to hang up by itself.
	if s.term == nil {
		_ = s.in.Close()
	}

	if !s.hasExited() {
		s.signal(syscall.SIGTERM)
	}

	var outcome CloseOutcome
	timer := s.clock.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.exited:
		outcome.Graceful = true
	case <-timer.C():
		slog.Warn("session did not exit within grace period, killing",
			slog.Int("pid", s.Pid()),
			slog.Duration("grace", grace),
		)
		s.signal(syscall.SIGKILL)
		outcome.Killed = true
		<-s.exited
	}

	var errs []error
	if s.term != nil {
		if err := s.term.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.out.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("close stdout: %w", err))
	}

	s.mu.Lock()
	outcome.WaitErr = s.waitErr
	s.mu.Unlock()
	outcome.ExitCode = s.cmd.ProcessState.ExitCode()
	outcome.Elapsed = s.clock.Since(start)

	s.mu.Lock()
	s.outcome = outcome
	s.state = StateClosed
	s.mu.Unlock()

	slog.Info("session closed",
		slog.Int("pid", s.Pid()),
		slog.Bool("graceful", outcome.Graceful),
		slog.Bool("killed", outcome.Killed),
		slog.Int("exit_code", outcome.ExitCode),
		slog.Duration("elapsed", outcome.Elapsed),
	)

	return errors.Join(errs...)
}

// CloseOutcome returns how the process ended. It is the zero value until
// Close has completed.
func (s *Session) CloseOutcome() CloseOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// signal delivers sig to the client's process group, falling back to the
// process itself.
func (s *Session) signal(sig syscall.Signal) {
	pid := s.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err == nil {
		return
	}
	if err := s.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("signal failed",
			slog.Int("pid", pid),
			slog.String("signal", sig.String()),
			slog.String("error", err.Error()),
		)
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf...)
}
