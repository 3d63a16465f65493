// mockbbs serves an emulated bulletin-board login over SSH for manual smoke
// test runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acolita/sshsmoke/internal/logging"
	"github.com/acolita/sshsmoke/internal/testing/mockssh"
)

var exitFunc = os.Exit

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		exitFunc(1)
	}
}

type serveFlags struct {
	listen     string
	users      []string
	logins     []string
	plain      bool
	ignoreQuit bool
	maxTries   int
	debug      bool
}

func newRootCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "mockbbs",
		Short: "Serve an emulated BBS login over SSH",
		Long: "Listens for SSH connections without authentication and presents a full-screen login, " +
			"menu and post view drawn with ANSI escape sequences.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := "info"
			if f.debug {
				level = "debug"
			}
			logging.Setup(level, true)

			opts, err := f.options()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd.OutOrStdout(), opts)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.listen, "listen", "127.0.0.1:2222", "Address to listen on")
	fl.StringArrayVar(&f.users, "user", []string{"bbs"}, "SSH user allowed to connect, repeatable (empty allows any)")
	fl.StringArrayVar(&f.logins, "login", nil, "Extra board account as NAME:PASSWORD, repeatable (admin:admin123 always exists)")
	fl.BoolVar(&f.plain, "plain", false, "Draw without escape sequences")
	fl.BoolVar(&f.ignoreQuit, "ignore-quit", false, "Ignore the q key so clients must be terminated")
	fl.IntVar(&f.maxTries, "max-tries", 3, "Failed logins before the board hangs up")
	fl.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	return cmd
}

func (f serveFlags) options() ([]mockssh.Option, error) {
	opts := []mockssh.Option{
		mockssh.WithListenAddr(f.listen),
		mockssh.WithMaxLoginAttempts(f.maxTries),
	}
	for _, u := range f.users {
		if u != "" {
			opts = append(opts, mockssh.WithUser(u))
		}
	}
	for _, l := range f.logins {
		name, pass, ok := strings.Cut(l, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --login %q, want NAME:PASSWORD", l)
		}
		opts = append(opts, mockssh.WithLogin(name, pass))
	}
	if f.plain {
		opts = append(opts, mockssh.WithoutANSI())
	}
	if f.ignoreQuit {
		opts = append(opts, mockssh.WithIgnoreQuit())
	}
	if f.maxTries < 1 {
		return nil, errors.New("--max-tries must be at least 1")
	}
	return opts, nil
}

// serve runs the board until ctx ends.
func serve(ctx context.Context, out io.Writer, opts []mockssh.Option) error {
	srv, err := mockssh.New(opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "mock BBS listening on %s\n", srv.Addr())

	<-ctx.Done()
	slog.Info("shutting down",
		slog.Int("connections", srv.Connections()),
		slog.Int("logins", srv.Logins()),
		slog.Int("failed_logins", srv.FailedLogins()),
		slog.Int("quits", srv.Quits()),
	)
	return srv.Close()
}
