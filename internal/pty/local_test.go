package pty

import (
	"os/exec"
	"strings"
	"testing"
	"time"
)

// readUntil reads from the terminal until want appears or the timeout expires.
func readUntil(term *Terminal, want string, timeout time.Duration) (string, bool) {
	ch := make(chan []byte, 64)
	go func() {
		defer close(ch)
		buf := make([]byte, 1024)
		for {
			n, err := term.Read(buf)
			if n > 0 {
				ch <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				return
			}
		}
	}()

	var sb strings.Builder
	deadline := time.After(timeout)
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				return sb.String(), strings.Contains(sb.String(), want)
			}
			sb.Write(b)
			if strings.Contains(sb.String(), want) {
				return sb.String(), true
			}
		case <-deadline:
			return sb.String(), false
		}
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.Term != "xterm-256color" || opts.Rows != 24 || opts.Cols != 80 {
		t.Errorf("DefaultOptions() = %+v", opts)
	}
}

func TestStart_EchoesInput(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	cmd := exec.Command("cat")
	term, err := Start(cmd, Options{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		term.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	if _, err := term.Write([]byte("ping\r")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out, ok := readUntil(term, "ping", 2*time.Second)
	if !ok {
		t.Fatalf("expected echoed input, got %q", out)
	}
}

func TestStart_SetsTerm(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "echo TERM=$TERM")
	term, err := Start(cmd, Options{Term: "vt100"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer term.Close()

	out, ok := readUntil(term, "TERM=vt100", 2*time.Second)
	_ = cmd.Wait()
	if !ok {
		t.Fatalf("expected TERM=vt100 in output, got %q", out)
	}
}

func TestStart_MissingBinary(t *testing.T) {
	cmd := exec.Command("/nonexistent/definitely-not-here")

	if _, err := Start(cmd, Options{}); err == nil {
		t.Fatal("Start() expected error for missing binary")
	}
}

func TestClose_Idempotent(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 5")
	term, err := Start(cmd, Options{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	if err := term.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := term.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
