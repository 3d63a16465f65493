// Package harness replays a login script against one client session and
// turns what it observed into a pass/fail verdict.
package harness

import (
	"time"

	"github.com/acolita/sshsmoke/internal/config"
	"github.com/acolita/sshsmoke/internal/inspect"
	"github.com/acolita/sshsmoke/internal/script"
	"github.com/acolita/sshsmoke/internal/session"
)

// Scenario is everything one run needs.
type Scenario struct {
	Name   string
	Target session.Target
	Script *script.Script

	// Markers are the byte sequences that count as TUI rendering.
	Markers []inspect.Marker

	// CaptureBytes caps the capture buffer.
	CaptureBytes int
	ReadTimeout  time.Duration

	// ConnectTimeout bounds the preflight dial; 0 skips it.
	ConnectTimeout time.Duration

	// Grace is the SIGTERM to SIGKILL window used by Close.
	Grace time.Duration

	// Overall bounds the whole run; 0 means unbounded.
	Overall time.Duration

	// RecordDir enables an asciicast transcript when non-empty.
	RecordDir string
}

// DefaultScenario returns the built-in login scenario.
func DefaultScenario() Scenario {
	cfg := config.DefaultConfig()
	_ = cfg.Validate()
	return FromConfig(cfg)
}

// FromConfig builds a Scenario from a validated config.
func FromConfig(cfg *config.Config) Scenario {
	sc := Scenario{
		Name:           cfg.Name(),
		Target:         cfg.Target.Session(),
		Script:         &cfg.Script,
		Markers:        inspect.ParseMarkers(cfg.Capture.Markers),
		CaptureBytes:   cfg.Capture.MaxBytes,
		ReadTimeout:    cfg.Capture.ReadTimeout,
		ConnectTimeout: cfg.Timeouts.Connect,
		Grace:          cfg.Timeouts.GraceKill,
		Overall:        cfg.Timeouts.Overall,
	}
	if cfg.Recording.Enabled {
		sc.RecordDir = cfg.Recording.Path
	}
	return sc
}

func (sc *Scenario) applyDefaults() {
	if sc.Name == "" {
		sc.Name = "login"
	}
	if sc.Script == nil {
		sc.Script = script.Default()
	}
	if len(sc.Markers) == 0 {
		sc.Markers = inspect.DefaultMarkers()
	}
	if sc.CaptureBytes <= 0 {
		sc.CaptureBytes = session.DefaultCaptureBytes
	}
	if sc.ReadTimeout <= 0 {
		sc.ReadTimeout = session.DefaultReadTimeout
	}
	if sc.Grace <= 0 {
		sc.Grace = session.DefaultGrace
	}
}
