// Package config handles scenario files for sshsmoke.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acolita/sshsmoke/internal/inspect"
	"github.com/acolita/sshsmoke/internal/ports"
	"github.com/acolita/sshsmoke/internal/script"
	"github.com/acolita/sshsmoke/internal/session"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default scenario file path:
// $XDG_CONFIG_HOME/sshsmoke/scenario.yaml or ~/.config/sshsmoke/scenario.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sshsmoke", "scenario.yaml")
}

// Config represents one scenario file.
type Config struct {
	Target    TargetConfig    `yaml:"target"`
	Script    script.Script   `yaml:"script"`
	Capture   CaptureConfig   `yaml:"capture"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Logging   LoggingConfig   `yaml:"logging"`
	Recording RecordingConfig `yaml:"recording"`

	// Path is the file the scenario was loaded from ("" for defaults).
	Path string `yaml:"-"`
}

// TargetConfig defines the remote endpoint and client invocation.
type TargetConfig struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	User    string   `yaml:"user"`
	Client  string   `yaml:"client"`            // client binary (default: ssh)
	TTY     bool     `yaml:"tty"`               // spawn under a local PTY
	Options []string `yaml:"options,omitempty"` // extra "-o" client options
}

// CaptureConfig defines the single output capture.
type CaptureConfig struct {
	MaxBytes    int           `yaml:"max_bytes"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Markers     []string      `yaml:"markers"` // byte sequences that indicate TUI rendering
}

// TimeoutsConfig defines cleanup and run bounds.
type TimeoutsConfig struct {
	GraceKill time.Duration `yaml:"grace_kill"` // SIGTERM to SIGKILL grace
	Connect   time.Duration `yaml:"connect"`    // preflight TCP dial (0 disables)
	Overall   time.Duration `yaml:"overall"`    // whole-run bound (0 disables)
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// RecordingConfig defines transcript recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"` // enable asciicast recording
	Path    string `yaml:"path"`    // directory to store recordings
}

// DefaultConfig returns the login scenario against the local test server.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Host:   "localhost",
			Port:   2222,
			User:   "bbs",
			Client: session.DefaultClient,
		},
		Script: *script.Default(),
		Capture: CaptureConfig{
			MaxBytes:    session.DefaultCaptureBytes,
			ReadTimeout: session.DefaultReadTimeout,
			Markers:     []string{"\x1b[", "\x1b("},
		},
		Timeouts: TimeoutsConfig{
			GraceKill: session.DefaultGrace,
			Connect:   session.DefaultPreflightTimeout,
			Overall:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
	}
}

// Load loads a scenario from a YAML file on top of DefaultConfig.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// No scenario file: run the built-in login scenario.
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.Path = path

	return cfg, nil
}

// Validate fills zero values with defaults and rejects invalid settings.
func (c *Config) Validate() error {
	if c.Target.Client == "" {
		c.Target.Client = session.DefaultClient
	}
	if err := c.Target.Session().Validate(); err != nil {
		return fmt.Errorf("target: %w", err)
	}

	if err := c.Script.Validate(); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	for i, st := range c.Script.Steps {
		if st.Payload == "" && st.PayloadEnv == "" && st.PayloadKeyring == "" {
			return fmt.Errorf("script: step %d (%s): no payload, payload_env or payload_keyring", i+1, st.Name)
		}
	}

	if c.Capture.MaxBytes < 0 || c.Capture.ReadTimeout < 0 {
		return errors.New("capture: max_bytes and read_timeout must not be negative")
	}
	if c.Capture.MaxBytes == 0 {
		c.Capture.MaxBytes = session.DefaultCaptureBytes
	}
	if c.Capture.ReadTimeout == 0 {
		c.Capture.ReadTimeout = session.DefaultReadTimeout
	}
	if len(inspect.ParseMarkers(c.Capture.Markers)) == 0 {
		c.Capture.Markers = []string{"\x1b[", "\x1b("}
	}

	if c.Timeouts.GraceKill < 0 || c.Timeouts.Connect < 0 || c.Timeouts.Overall < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.Timeouts.GraceKill == 0 {
		c.Timeouts.GraceKill = session.DefaultGrace
	}
	if c.Timeouts.Overall > 0 && c.Timeouts.Overall < c.Script.TotalDelay() {
		return fmt.Errorf("timeouts: overall %v is shorter than the script's delays (%v)",
			c.Timeouts.Overall, c.Script.TotalDelay())
	}

	if c.Recording.Enabled && c.Recording.Path == "" {
		return errors.New("recording: path is required when enabled")
	}

	return nil
}

// Name identifies the scenario in reports.
func (c *Config) Name() string {
	if c.Path != "" {
		return strings.TrimSuffix(filepath.Base(c.Path), filepath.Ext(c.Path))
	}
	if c.Script.Name != "" {
		return c.Script.Name
	}
	return "default"
}

// Session converts the target section into a session.Target.
func (t TargetConfig) Session() session.Target {
	return session.Target{
		Host:    t.Host,
		Port:    t.Port,
		User:    t.User,
		Client:  t.Client,
		Options: append([]string(nil), t.Options...),
		TTY:     t.TTY,
	}
}

// SecretSource looks up secret payloads by name.
type SecretSource interface {
	GetSecret(name string) ([]byte, error)
}

// ResolvePayloads fills every step payload from its source. A literal
// payload wins, then payload_env, then payload_keyring. Payloads resolved
// from the environment or the keyring are always treated as secret.
func (c *Config) ResolvePayloads(fsys ports.FileSystem, secrets SecretSource) error {
	for i := range c.Script.Steps {
		st := &c.Script.Steps[i]
		if st.Payload != "" {
			continue
		}

		switch {
		case st.PayloadEnv != "":
			v := fsys.Getenv(st.PayloadEnv)
			if v == "" {
				return fmt.Errorf("step %s: environment variable %s is empty", st.Name, st.PayloadEnv)
			}
			st.Payload = v
		case st.PayloadKeyring != "":
			if secrets == nil {
				return fmt.Errorf("step %s: keyring entry %q requested but no keyring is available", st.Name, st.PayloadKeyring)
			}
			b, err := secrets.GetSecret(st.PayloadKeyring)
			if err != nil {
				return fmt.Errorf("step %s: %w", st.Name, err)
			}
			st.Payload = string(b)
		default:
			continue
		}
		st.Secret = true
	}
	return nil
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		return writeFile(fsys[0], path, data)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func writeFile(fsys ports.FileSystem, path string, data []byte) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write config file: %w", err)
	}
	return f.Close()
}
