package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acolita/sshsmoke/internal/config"
	"github.com/acolita/sshsmoke/internal/harness"
	"github.com/acolita/sshsmoke/internal/logging"
)

func newRunCmd(v *viper.Viper, d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one or more login scenarios",
		Long: "Runs every scenario matched by --config in order, or the built-in login scenario when no " +
			"file is given. Exits non-zero if any scenario fails.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			patterns, _ := cmd.Flags().GetStringArray("config")
			if len(patterns) == 0 {
				if env := v.GetString("config"); env != "" {
					patterns = filepath.SplitList(env)
				}
			}
			return runScenarios(ctx, cmd.OutOrStdout(), patterns, v, d)
		},
	}

	f := cmd.Flags()
	f.StringArray("config", nil, "Scenario file or glob, repeatable (default "+config.DefaultConfigPath()+")")
	f.String("host", "", "Override the target host")
	f.Int("port", 0, "Override the target port")
	f.String("user", "", "Override the target user")
	f.Duration("grace-kill", 0, "Override the SIGTERM to SIGKILL grace period")
	f.Duration("step-delay", 0, "Override every step's settle delay")
	f.Duration("overall-timeout", 0, "Override the bound on a whole scenario")
	f.Bool("tty", false, "Attach the client to a local pseudo-terminal")
	f.String("record", "", "Write an asciicast transcript of each run to `DIR`")
	f.Bool("watch", false, "Keep running and re-run a scenario whenever its file changes")
	f.Bool("debug", false, "Enable debug logging")

	for _, name := range []string{"host", "port", "user", "grace-kill", "step-delay", "overall-timeout", "tty", "record", "watch", "debug"} {
		_ = v.BindPFlag(name, f.Lookup(name))
	}
	_ = v.BindEnv("config")

	return cmd
}

func runScenarios(ctx context.Context, out io.Writer, patterns []string, v *viper.Viper, d *deps) error {
	paths := []string{config.DefaultConfigPath()}
	if len(patterns) > 0 {
		var err error
		if paths, err = config.Expand(patterns); err != nil {
			return err
		}
	} else if v.GetBool("watch") {
		return errors.New("--watch needs at least one --config file")
	}

	// Everything is loaded up front so a bad file fails before any client
	// is spawned.
	cfgs := make([]*config.Config, 0, len(paths))
	for _, p := range paths {
		cfg, err := loadScenario(p, v, d)
		if err != nil {
			return err
		}
		cfgs = append(cfgs, cfg)
	}
	logging.Setup(cfgs[0].Logging.Level, cfgs[0].Logging.Sanitize)

	reporter := harness.NewReporter(out)
	runner := harness.NewRunner(append([]harness.Option{
		harness.WithFileSystem(d.fs),
		harness.WithReporter(reporter),
	}, d.runnerOpts...)...)

	// The watcher starts before the first pass so edits made while it runs
	// are not missed.
	var changed <-chan string
	if v.GetBool("watch") {
		w, ch, err := watch(paths)
		if err != nil {
			return err
		}
		defer w.Close()
		changed = ch
	}

	var verdicts []*harness.Verdict
	for _, cfg := range cfgs {
		if ctx.Err() != nil {
			break
		}
		verdicts = append(verdicts, runner.Run(ctx, harness.FromConfig(cfg)))
	}
	reporter.Summary(verdicts)

	if changed != nil {
		passed := make(map[string]bool, len(cfgs))
		for i, verdict := range verdicts {
			passed[paths[i]] = verdict.Passed
		}
		rerunChanged(ctx, changed, runner, v, d, passed)
		for _, ok := range passed {
			if !ok {
				return errScenarioFailed
			}
		}
		return nil
	}

	if len(verdicts) < len(cfgs) {
		return context.Cause(ctx)
	}
	for _, verdict := range verdicts {
		if !verdict.Passed {
			return errScenarioFailed
		}
	}
	return nil
}

// loadScenario reads path, applies command line and environment overrides,
// validates the result and resolves every step payload.
func loadScenario(path string, v *viper.Viper, d *deps) (*config.Config, error) {
	cfg, err := config.Load(path, d.fs)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, v)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", cfg.Name(), err)
	}

	var secrets config.SecretSource
	if needsKeyring(cfg) {
		secrets = d.secrets()
	}
	if err := cfg.ResolvePayloads(d.fs, secrets); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", cfg.Name(), err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	if v.IsSet("host") {
		cfg.Target.Host = v.GetString("host")
	}
	if v.IsSet("port") {
		cfg.Target.Port = v.GetInt("port")
	}
	if v.IsSet("user") {
		cfg.Target.User = v.GetString("user")
	}
	if v.IsSet("tty") {
		cfg.Target.TTY = v.GetBool("tty")
	}
	if v.IsSet("grace-kill") {
		cfg.Timeouts.GraceKill = v.GetDuration("grace-kill")
	}
	if v.IsSet("step-delay") {
		cfg.Script.SetDelays(v.GetDuration("step-delay"))
	}
	if v.IsSet("overall-timeout") {
		cfg.Timeouts.Overall = v.GetDuration("overall-timeout")
	}
	if dir := v.GetString("record"); dir != "" {
		cfg.Recording = config.RecordingConfig{Enabled: true, Path: dir}
	}
	if v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}
}

func needsKeyring(cfg *config.Config) bool {
	for _, st := range cfg.Script.Steps {
		if st.Payload == "" && st.PayloadEnv == "" && st.PayloadKeyring != "" {
			return true
		}
	}
	return false
}

// watch reports the path of each scenario file that changes. A change that
// arrives while one is already queued is folded into it.
func watch(paths []string) (*config.Watcher, <-chan string, error) {
	changed := make(chan string, len(paths))
	w, err := config.NewWatcher(paths, func(cfg *config.Config) {
		select {
		case changed <- cfg.Path:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("watch scenarios: %w", err)
	}
	slog.Info("watching scenarios", slog.Int("files", len(paths)))
	return w, changed, nil
}

// rerunChanged runs a scenario again each time its file changes, until ctx
// ends. passed holds the latest result per path; a file that no longer
// loads counts as failing, and a run canceled by ctx is not recorded.
func rerunChanged(ctx context.Context, changed <-chan string, runner *harness.Runner, v *viper.Viper, d *deps, passed map[string]bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-changed:
			cfg, err := loadScenario(path, v, d)
			if err != nil {
				slog.Error("skipping changed scenario",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				passed[path] = false
				continue
			}
			verdict := runner.Run(ctx, harness.FromConfig(cfg))
			if errors.Is(verdict.Err, context.Canceled) {
				return
			}
			passed[path] = verdict.Passed
		}
	}
}
