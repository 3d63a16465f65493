package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeFlags_Options(t *testing.T) {
	tests := []struct {
		name    string
		flags   serveFlags
		want    int
		wantErr string
	}{
		{"defaults", serveFlags{listen: "127.0.0.1:0", users: []string{"bbs"}, maxTries: 3}, 3, ""},
		{"any user", serveFlags{listen: "127.0.0.1:0", users: []string{""}, maxTries: 3}, 2, ""},
		{"everything", serveFlags{
			listen: "127.0.0.1:0", users: []string{"bbs", "guest"}, logins: []string{"sysop:pw", "x:"},
			plain: true, ignoreQuit: true, maxTries: 1,
		}, 8, ""},
		{"bad login", serveFlags{listen: "127.0.0.1:0", logins: []string{"nopass"}, maxTries: 3}, 0, "invalid --login"},
		{"empty login name", serveFlags{listen: "127.0.0.1:0", logins: []string{":pw"}, maxTries: 3}, 0, "invalid --login"},
		{"zero tries", serveFlags{listen: "127.0.0.1:0", maxTries: 0}, 0, "--max-tries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.flags.options()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, opts, tt.want)
		})
	}
}

func TestServe_AcceptsUntilCanceled(t *testing.T) {
	f := serveFlags{listen: "127.0.0.1:0", users: []string{"bbs"}, maxTries: 3}
	opts, err := f.options()
	require.NoError(t, err)

	var out lockedBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, &out, opts) }()

	var addr string
	require.Eventually(t, func() bool {
		line := out.String()
		if !strings.HasPrefix(line, "mock BBS listening on ") {
			return false
		}
		addr = strings.TrimSpace(strings.TrimPrefix(line, "mock BBS listening on "))
		return true
	}, 5*time.Second, 10*time.Millisecond)

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "bbs",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)
	client.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "listener should be closed")
}

func TestServe_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	f := serveFlags{listen: ln.Addr().String(), maxTries: 3}
	opts, err := f.options()
	require.NoError(t, err)

	err = serve(context.Background(), &bytes.Buffer{}, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestRootCmd_RejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
