package fakefs

import (
	"errors"
	"io/fs"
	"os"
	"testing"
)

func TestFS_ReadFile(t *testing.T) {
	f := New().AddFile("/etc/sshsmoke/login.yaml", []byte("target: {}"))

	data, err := f.ReadFile("/etc/sshsmoke/login.yaml")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "target: {}" {
		t.Errorf("ReadFile() = %q", data)
	}

	if _, err := f.ReadFile("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile(missing) error = %v, want ErrNotExist", err)
	}
}

func TestFS_OpenFileCreateAndWrite(t *testing.T) {
	f := New()
	if err := f.MkdirAll("/rec/nested", 0700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	h, err := f.OpenFile("/rec/nested/a.cast", os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if _, err := h.Write([]byte("line\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := h.Write([]byte("late")); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Write after Close error = %v, want ErrClosed", err)
	}

	data, _ := f.ReadFile("/rec/nested/a.cast")
	if string(data) != "line\n" {
		t.Errorf("contents = %q, want %q", data, "line\n")
	}
	if h.Name() != "/rec/nested/a.cast" {
		t.Errorf("Name() = %q", h.Name())
	}
}

func TestFS_OpenFileExclusive(t *testing.T) {
	f := New().AddFile("/rec/a.cast", nil)

	_, err := f.OpenFile("/rec/a.cast", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if !errors.Is(err, fs.ErrExist) {
		t.Errorf("OpenFile(O_EXCL) error = %v, want ErrExist", err)
	}
}

func TestFS_OpenFileMissingDir(t *testing.T) {
	f := New()

	_, err := f.OpenFile("/nowhere/a.cast", os.O_CREATE|os.O_WRONLY, 0600)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("OpenFile(missing dir) error = %v, want ErrNotExist", err)
	}
}

func TestFS_Getenv(t *testing.T) {
	f := New().SetEnv("BBS_PASSWORD", "admin123")

	if got := f.Getenv("BBS_PASSWORD"); got != "admin123" {
		t.Errorf("Getenv() = %q", got)
	}
	if got := f.Getenv("UNSET"); got != "" {
		t.Errorf("Getenv(unset) = %q, want empty", got)
	}
}
