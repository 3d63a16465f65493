// Package pty runs a command attached to a pseudo-terminal instead of plain pipes.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Options configures PTY allocation.
type Options struct {
	Term string // Terminal type (default: xterm-256color)
	Rows uint16 // Terminal rows (default: 24)
	Cols uint16 // Terminal columns (default: 80)
}

// DefaultOptions returns the terminal geometry used for remote logins.
func DefaultOptions() Options {
	return Options{
		Term: "xterm-256color",
		Rows: 24,
		Cols: 80,
	}
}

// Terminal is the controller side of a PTY whose follower end is the
// command's stdin, stdout and stderr.
type Terminal struct {
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// Start starts cmd with a new PTY. cmd must not have been started and its
// Stdin/Stdout/Stderr must be unset.
func Start(cmd *exec.Cmd, opts Options) (*Terminal, error) {
	if opts.Term == "" {
		opts.Term = "xterm-256color"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}

	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("TERM=%s", opts.Term))

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: opts.Rows,
		Cols: opts.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	return &Terminal{file: ptmx}, nil
}

// Read reads command output.
func (t *Terminal) Read(b []byte) (int, error) {
	return t.file.Read(b)
}

// Write writes command input.
func (t *Terminal) Write(b []byte) (int, error) {
	return t.file.Write(b)
}

// File returns the controller file.
func (t *Terminal) File() *os.File {
	return t.file
}

// Close closes the controller side. It is safe to call more than once.
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.file.Close(); err != nil {
		return fmt.Errorf("close pty: %w", err)
	}
	return nil
}
