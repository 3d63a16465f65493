package inspect

import (
	"testing"
)

func TestHasAnyMarker(t *testing.T) {
	markers := DefaultMarkers()

	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"empty buffer", nil, false},
		{"plain text", []byte("Username: admin\r\n"), false},
		{"lone escape", []byte("abc\x1b"), false},
		{"csi at start", []byte("\x1b[2Jwelcome"), true},
		{"csi at end", []byte("welcome\x1b["), true},
		{"charset in middle", []byte("a\x1b(Bb"), true},
		{"overlapping markers", []byte("\x1b[\x1b("), true},
		{"escape bracket split by byte", []byte("\x1b \x5b"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasAnyMarker(tt.buf, markers); got != tt.want {
				t.Errorf("HasAnyMarker(%q) = %v, want %v", tt.buf, got, tt.want)
			}
		})
	}
}

func TestHasAnyMarker_OverlappingCustomMarkers(t *testing.T) {
	markers := []Marker{
		{Name: "a", Seq: []byte("xyz")},
		{Name: "b", Seq: []byte("yzw")},
	}

	if !HasAnyMarker([]byte("..xyzw.."), markers) {
		t.Error("overlapping markers should both be detectable")
	}
	if len(Find([]byte("..xyzw.."), markers)) != 2 {
		t.Error("Find should report both overlapping markers")
	}
}

func TestHasAnyMarker_EmptyMarkerNeverMatches(t *testing.T) {
	markers := []Marker{{Name: "empty", Seq: nil}}

	if HasAnyMarker([]byte("anything"), markers) {
		t.Error("an empty marker must not match")
	}
	if HasAnyMarker([]byte("anything"), nil) {
		t.Error("no markers must not match")
	}
}

func TestFind_Offsets(t *testing.T) {
	buf := []byte("hi\x1b(B\x1b[1;1H\x1b[2J")

	found := Find(buf, DefaultMarkers())
	if len(found) != 2 {
		t.Fatalf("Find() returned %d findings, want 2", len(found))
	}
	if found[0].Marker.Name != "csi" || found[0].Offset != 5 {
		t.Errorf("csi finding = %+v, want offset 5", found[0])
	}
	if found[1].Marker.Name != "charset" || found[1].Offset != 2 {
		t.Errorf("charset finding = %+v, want offset 2", found[1])
	}
}

func TestParseMarkers(t *testing.T) {
	markers := ParseMarkers([]string{"\x1b[", "", "\x1b]0;"})

	if len(markers) != 2 {
		t.Fatalf("ParseMarkers() returned %d markers, want 2", len(markers))
	}
	if markers[0].Name != `\x1b[` {
		t.Errorf("marker name = %q, want %q", markers[0].Name, `\x1b[`)
	}
	if !HasAnyMarker([]byte("title\x1b]0;bbs\x07"), markers) {
		t.Error("OSC marker should match")
	}
}

func TestPreview(t *testing.T) {
	buf := []byte("\x1b[2J\x1b[H\x1b[1mIRON BBS\x1b[0m\r\n\r\n  Username:  ")

	if got := Preview(buf, 0); got != "IRON BBS Username:" {
		t.Errorf("Preview() = %q", got)
	}
	if got := Preview(buf, 4); got != "IRON..." {
		t.Errorf("Preview(4) = %q", got)
	}
	if got := Preview(nil, 10); got != "" {
		t.Errorf("Preview(nil) = %q, want empty", got)
	}
}
