package harness

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acolita/sshsmoke/internal/script"
	"github.com/acolita/sshsmoke/internal/session"
	"github.com/acolita/sshsmoke/internal/testing/mockssh"
)

func startBoard(t *testing.T, opts ...mockssh.Option) *mockssh.Server {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping ssh end-to-end test in short mode")
	}
	if _, err := exec.LookPath(session.DefaultClient); err != nil {
		t.Skip("ssh client not installed")
	}

	srv, err := mockssh.New(append([]mockssh.Option{mockssh.WithUser("bbs")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func boardScenario(t *testing.T, srv *mockssh.Server, password string) Scenario {
	t.Helper()
	s := &script.Script{
		Name: "login",
		Steps: []script.Step{
			{Name: "username", Payload: "admin\r", Expect: `Password: `},
			{Name: "password", Payload: password + "\r", Secret: true, Expect: `Main Menu|Login incorrect`},
		},
		Quit:          "q",
		QuitDelay:     200 * time.Millisecond,
		ExpectTimeout: 10 * time.Second,
	}
	s.Steps[0].Timeout = 10 * time.Second
	require.NoError(t, s.Validate())

	return Scenario{
		Name: "bbs",
		Target: session.Target{
			Host:    srv.Host(),
			Port:    srv.Port(),
			User:    "bbs",
			Options: []string{"BatchMode=yes", "LogLevel=ERROR", "ConnectTimeout=5"},
		},
		Script:         s,
		ReadTimeout:    300 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		Grace:          2 * time.Second,
		Overall:        30 * time.Second,
	}
}

func TestE2E_LoginAgainstMockBoard(t *testing.T) {
	srv := startBoard(t)

	var out bytes.Buffer
	v := NewRunner(WithReporter(NewReporter(&out))).Run(context.Background(), boardScenario(t, srv, "admin123"))

	require.True(t, v.Passed, "report:\n%s", out.String())
	assert.Contains(t, string(v.Output), "Main Menu")
	assert.Contains(t, string(v.Output), "\x1b[7m")
	assert.False(t, v.Close.Killed)
	assert.True(t, reaped(v.Pid))

	assert.Equal(t, 1, srv.Connections())
	assert.Equal(t, 1, srv.Logins())
	assert.Zero(t, srv.FailedLogins())
	assert.Eventually(t, func() bool { return srv.Quits() == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.NotContains(t, out.String(), "admin123")
}

func TestE2E_WrongPasswordStillRendersButBoardCountsFailure(t *testing.T) {
	srv := startBoard(t)

	v := NewRunner().Run(context.Background(), boardScenario(t, srv, "hunter2"))

	// The login prompt is itself drawn with control sequences, so a
	// rejected login does not fail the rendering check on its own.
	requireCheck(t, v, CheckTUI, true)
	assert.Zero(t, srv.Logins())
	assert.Equal(t, 1, srv.FailedLogins())
	assert.True(t, reaped(v.Pid))
}

func TestE2E_PlainBoardFailsRendering(t *testing.T) {
	srv := startBoard(t, mockssh.WithoutANSI())

	v := NewRunner().Run(context.Background(), boardScenario(t, srv, "admin123"))

	require.False(t, v.Passed)
	requireCheck(t, v, CheckSteps, true)
	requireCheck(t, v, CheckTUI, false)
}

func TestE2E_BoardIgnoringQuitIsStillReaped(t *testing.T) {
	srv := startBoard(t, mockssh.WithIgnoreQuit())

	v := NewRunner().Run(context.Background(), boardScenario(t, srv, "admin123"))

	// SIGTERM ends the client even though the board never hangs up.
	requireCheck(t, v, CheckCleanExit, true)
	assert.Zero(t, srv.Quits())
	assert.True(t, reaped(v.Pid))
}

func TestE2E_UserRejected(t *testing.T) {
	srv := startBoard(t)
	sc := boardScenario(t, srv, "admin123")
	sc.Target.User = "guest"

	v := NewRunner().Run(context.Background(), sc)

	require.False(t, v.Passed)
	require.Error(t, v.Err)
	assert.Zero(t, srv.Logins())
	assert.True(t, reaped(v.Pid))
}
