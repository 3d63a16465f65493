// Package recording writes smoke-test transcripts in asciicast v2 format so
// a failed run can be replayed with asciinema.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/acolita/sshsmoke/internal/ports"
)

// Recorder records session I/O in asciicast v2 format.
// See: https://docs.asciinema.org/manual/asciicast/v2/
type Recorder struct {
	mu        sync.Mutex
	file      ports.FileHandle
	startTime time.Time
	closed    bool
	clock     ports.Clock
}

// Header is the asciicast v2 header.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event [time, type, data].
type Event struct {
	Time float64 `json:"-"`
	Type string  `json:"-"`
	Data string  `json:"-"`
}

// MarshalJSON implements custom JSON marshaling for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Time, e.Type, e.Data})
}

// Event types.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventMarker = "m"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewRecorder creates dir if needed and opens a new transcript named after
// the scenario and the start time.
func NewRecorder(dir, name string, width, height int, fs ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	start := clock.Now()
	filename := fmt.Sprintf("%s_%s.cast", fileSafe(name), start.Format("20060102_150405.000"))
	fullPath := filepath.Join(dir, filename)

	file, err := fs.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	r := &Recorder{
		file:      file,
		startTime: start,
		clock:     clock,
	}

	header := Header{
		Version:   2,
		Width:     width,
		Height:    height,
		Timestamp: start.Unix(),
		Title:     name,
		Env: map[string]string{
			"TERM": "xterm-256color",
		},
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}

	if _, err := file.Write(append(headerJSON, '\n')); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return r, nil
}

// RecordOutput records bytes read from the client.
func (r *Recorder) RecordOutput(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return r.record(EventOutput, string(data))
}

// RecordInput records bytes written to the client.
// Use RecordMaskedInput for secret payloads.
func (r *Recorder) RecordInput(data []byte) error {
	return r.record(EventInput, string(data))
}

// RecordMaskedInput records an input of the given length as asterisks.
func (r *Recorder) RecordMaskedInput(length int) error {
	return r.record(EventInput, strings.Repeat("*", length))
}

// RecordMarker adds a named marker (asciinema shows these as chapters).
func (r *Recorder) RecordMarker(label string) error {
	return r.record(EventMarker, label)
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event := Event{
		Time: r.clock.Since(r.startTime).Seconds(),
		Type: eventType,
		Data: data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := r.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}

// Close closes the recording file. Later records are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	return r.file.Close()
}

// Path returns the path to the recording file.
func (r *Recorder) Path() string {
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

func fileSafe(name string) string {
	name = unsafeName.ReplaceAllString(name, "_")
	if name == "" {
		return "session"
	}
	return name
}
