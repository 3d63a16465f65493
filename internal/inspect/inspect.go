// Package inspect detects terminal control sequences in captured session output.
package inspect

import (
	"bytes"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Marker is a byte sequence whose presence in output is treated as evidence
// of interactive terminal rendering.
type Marker struct {
	Name string
	Seq  []byte
}

// Finding records the first occurrence of a marker in a buffer.
type Finding struct {
	Marker Marker
	Offset int
}

// DefaultMarkers returns the CSI prefix and the G0 charset designation prefix.
func DefaultMarkers() []Marker {
	return []Marker{
		{Name: "csi", Seq: []byte("\x1b[")},
		{Name: "charset", Seq: []byte("\x1b(")},
	}
}

// ParseMarkers builds markers from configured strings. Names are derived
// from the escaped form of each sequence.
func ParseMarkers(seqs []string) []Marker {
	markers := make([]Marker, 0, len(seqs))
	for _, s := range seqs {
		if s == "" {
			continue
		}
		markers = append(markers, Marker{Name: escape([]byte(s)), Seq: []byte(s)})
	}
	return markers
}

// HasAnyMarker reports whether any marker occurs contiguously in buf.
// Position, order and count are irrelevant; an empty buffer never matches.
func HasAnyMarker(buf []byte, markers []Marker) bool {
	if len(buf) == 0 {
		return false
	}
	for _, m := range markers {
		if len(m.Seq) > 0 && bytes.Contains(buf, m.Seq) {
			return true
		}
	}
	return false
}

// Find returns a finding for each marker present in buf, in marker order.
func Find(buf []byte, markers []Marker) []Finding {
	var found []Finding
	for _, m := range markers {
		if len(m.Seq) == 0 {
			continue
		}
		if idx := bytes.Index(buf, m.Seq); idx >= 0 {
			found = append(found, Finding{Marker: m, Offset: idx})
		}
	}
	return found
}

// Preview returns up to n printable runes of buf with escape sequences
// removed and whitespace collapsed.
func Preview(buf []byte, n int) string {
	text := strings.Join(strings.Fields(ansi.Strip(string(buf))), " ")
	runes := []rune(text)
	if n > 0 && len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return text
}

// escape renders control bytes as \xNN so marker names are printable.
func escape(b []byte) string {
	var sb strings.Builder
	const hex = "0123456789abcdef"
	for _, c := range b {
		if c < 0x20 || c == 0x7f {
			sb.WriteString(`\x`)
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0x0f])
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
