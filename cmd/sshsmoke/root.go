package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acolita/sshsmoke/internal/adapters/realfs"
	"github.com/acolita/sshsmoke/internal/harness"
	"github.com/acolita/sshsmoke/internal/ports"
	"github.com/acolita/sshsmoke/internal/security"
)

// exitFunc is replaced in tests.
var exitFunc = os.Exit

// errScenarioFailed is returned when every scenario ran but at least one
// failed. The report already says why, so nothing more is printed.
var errScenarioFailed = errors.New("one or more scenarios failed")

// secretStore is the keyring surface the CLI needs.
type secretStore interface {
	StoreSecret(name string, payload []byte) error
	GetSecret(name string) ([]byte, error)
	DeleteSecret(name string) error
}

// deps are the process-level collaborators, swapped out in tests.
type deps struct {
	fs         ports.FileSystem
	secrets    func() secretStore
	prompt     func(name string) (string, error)
	runnerOpts []harness.Option
}

func defaultDeps() *deps {
	return &deps{
		fs:      realfs.New(),
		secrets: func() secretStore { return security.NewKeyringStore() },
		prompt:  promptSecret,
	}
}

func execute(root *cobra.Command, args []string) {
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errScenarioFailed) {
			_, _ = fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		}
		exitFunc(1)
	}
}

func newRootCmd(d *deps) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SSHSMOKE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "sshsmoke",
		Short: "Smoke-test an interactive SSH login end to end",
		Long: "Spawns an ssh client, replays a scripted login against the remote side, and checks that " +
			"the session renders a terminal UI and shuts down cleanly.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(v, d),
		newInitCmd(d),
		newSecretCmd(d),
		newVersionCmd(),
	)
	return root
}
