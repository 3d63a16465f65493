// Package script defines the fixed input sequence replayed against a session.
package script

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Step is one scripted write followed by a settle period.
type Step struct {
	// Name is a human-readable identifier used in status lines.
	Name string `yaml:"name"`

	// Payload is written verbatim to the client's input stream.
	Payload string `yaml:"payload"`

	// PayloadEnv names an environment variable holding the payload.
	PayloadEnv string `yaml:"payload_env,omitempty"`

	// PayloadKeyring names an OS keyring entry holding the payload.
	PayloadKeyring string `yaml:"payload_keyring,omitempty"`

	// Secret masks the payload in logs, recordings and reports.
	Secret bool `yaml:"secret,omitempty"`

	// Delay is how long to wait after the write before the next step.
	Delay time.Duration `yaml:"delay"`

	// Expect, when set, replaces the blind delay: output is polled until
	// this regex matches or Timeout elapses.
	Expect string `yaml:"expect,omitempty"`

	// CompiledExpect is the compiled Expect pattern (set by Compile).
	CompiledExpect *regexp.Regexp `yaml:"-"`

	// Timeout bounds the Expect wait (0 = Script.ExpectTimeout).
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Bytes returns the payload as raw bytes.
func (s Step) Bytes() []byte {
	return []byte(s.Payload)
}

// Display returns the payload as it may be shown to a human.
func (s Step) Display() string {
	if s.Secret {
		return mask(len(s.Payload))
	}
	return fmt.Sprintf("%q", s.Payload)
}

// Script is the ordered, branch-free sequence of steps for one session.
type Script struct {
	Name string `yaml:"name"`

	// InitialDelay is the settle time between spawn and the first write.
	InitialDelay time.Duration `yaml:"initial_delay"`

	Steps []Step `yaml:"steps"`

	// Quit is written after output has been captured.
	Quit string `yaml:"quit"`

	// QuitDelay is the settle time between the quit payload and SIGTERM.
	QuitDelay time.Duration `yaml:"quit_delay"`

	// ExpectTimeout is the default bound for steps that use Expect.
	ExpectTimeout time.Duration `yaml:"expect_timeout"`
}

// Default returns the login script: username, password, then "q".
func Default() *Script {
	s := &Script{
		Name:         "login",
		InitialDelay: 2 * time.Second,
		Steps: []Step{
			{Name: "username", Payload: "admin\r", Delay: 1 * time.Second},
			{Name: "password", Payload: "admin123\r", Secret: true, Delay: 2 * time.Second},
		},
		Quit:          "q",
		QuitDelay:     1 * time.Second,
		ExpectTimeout: 10 * time.Second,
	}
	_ = s.Compile()
	return s
}

// Compile compiles every step's Expect pattern.
func (s *Script) Compile() error {
	for i := range s.Steps {
		if s.Steps[i].Expect == "" {
			s.Steps[i].CompiledExpect = nil
			continue
		}
		re, err := regexp.Compile(s.Steps[i].Expect)
		if err != nil {
			return fmt.Errorf("step %d (%s): compile expect: %w", i+1, s.Steps[i].Name, err)
		}
		s.Steps[i].CompiledExpect = re
	}
	return nil
}

// Validate checks that the script is well formed: at least one step, a
// quit payload and no negative durations. Unnamed steps are given
// positional names.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return errors.New("script has no steps")
	}
	if s.Quit == "" {
		return errors.New("script quit payload must not be empty")
	}
	if s.InitialDelay < 0 || s.QuitDelay < 0 || s.ExpectTimeout < 0 {
		return errors.New("script delays must not be negative")
	}
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Name == "" {
			st.Name = fmt.Sprintf("step-%d", i+1)
		}
		if st.Delay < 0 || st.Timeout < 0 {
			return fmt.Errorf("step %d (%s): delays must not be negative", i+1, st.Name)
		}
	}
	return s.Compile()
}

// ExpectTimeoutFor returns the readiness bound for the given step.
func (s *Script) ExpectTimeoutFor(st Step) time.Duration {
	if st.Timeout > 0 {
		return st.Timeout
	}
	return s.ExpectTimeout
}

// SetDelays overrides every step's delay.
func (s *Script) SetDelays(d time.Duration) {
	for i := range s.Steps {
		s.Steps[i].Delay = d
	}
}

// TotalDelay is the minimum wall-clock time the script takes.
func (s *Script) TotalDelay() time.Duration {
	total := s.InitialDelay + s.QuitDelay
	for _, st := range s.Steps {
		total += st.Delay
	}
	return total
}

func mask(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '*'
	}
	return string(b)
}
