package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultClient is the remote-shell client binary.
const DefaultClient = "ssh"

// Target describes the remote endpoint and how the client reaches it.
type Target struct {
	Host string
	Port int
	User string

	// Client is the remote-shell binary (default: ssh).
	Client string

	// Options are extra "-o" client options, e.g. "RequestTTY=force".
	Options []string

	// TTY attaches the client to a local pseudo-terminal instead of pipes.
	TTY bool
}

// Validate checks the endpoint fields.
func (t Target) Validate() error {
	if t.Host == "" {
		return errors.New("host is required")
	}
	if strings.HasPrefix(t.Host, "-") {
		return fmt.Errorf("invalid host %q", t.Host)
	}
	if t.User == "" {
		return errors.New("user is required")
	}
	if strings.HasPrefix(t.User, "-") || strings.Contains(t.User, "@") {
		return fmt.Errorf("invalid user %q", t.User)
	}
	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("invalid port %d", t.Port)
	}
	return nil
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Argv builds the client command line. Host key verification is disabled:
// the harness only ever talks to test servers.
func (t Target) Argv() []string {
	client := t.Client
	if client == "" {
		client = DefaultClient
	}

	argv := []string{
		client,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
	}
	for _, opt := range t.Options {
		argv = append(argv, "-o", opt)
	}
	return append(argv, "-p", strconv.Itoa(t.Port), t.User+"@"+t.Host)
}
