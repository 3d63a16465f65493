package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func mockKeyring(t *testing.T) *KeyringStore {
	t.Helper()
	keyring.MockInit()
	ks := NewKeyringStore()
	if !ks.IsEnabled() {
		t.Fatal("mock keyring should be enabled")
	}
	return ks
}

func TestKeyringStore_Unavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	ks := NewKeyringStore()

	if ks.IsEnabled() {
		t.Fatal("expected keyring to be disabled when the backend fails")
	}
	if _, err := ks.GetSecret("bbs-admin"); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("GetSecret() error = %v, want ErrKeyringUnavailable", err)
	}
	if err := ks.StoreSecret("bbs-admin", []byte("x")); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("StoreSecret() error = %v, want ErrKeyringUnavailable", err)
	}
	if err := ks.DeleteSecret("bbs-admin"); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("DeleteSecret() error = %v, want ErrKeyringUnavailable", err)
	}
}

func TestKeyringStore_RoundTrip(t *testing.T) {
	ks := mockKeyring(t)

	// Carriage returns must survive storage untouched.
	payload := []byte("admin123\r")
	if err := ks.StoreSecret("bbs-admin", payload); err != nil {
		t.Fatalf("StoreSecret() error = %v", err)
	}

	got, err := ks.GetSecret("bbs-admin")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if string(got) != "admin123\r" {
		t.Errorf("GetSecret() = %q, want %q", got, payload)
	}

	if err := ks.DeleteSecret("bbs-admin"); err != nil {
		t.Fatalf("DeleteSecret() error = %v", err)
	}
	if _, err := ks.GetSecret("bbs-admin"); err == nil {
		t.Error("GetSecret() after delete should fail")
	}
}

func TestKeyringStore_GetMissing(t *testing.T) {
	ks := mockKeyring(t)

	_, err := ks.GetSecret("nope")
	if err == nil {
		t.Fatal("GetSecret(missing) expected error")
	}
	if !strings.Contains(err.Error(), "secret set nope") {
		t.Errorf("error %q should tell the user how to store the secret", err)
	}
}

func TestKeyringStore_DeleteMissing(t *testing.T) {
	ks := mockKeyring(t)

	if err := ks.DeleteSecret("nope"); err != nil {
		t.Errorf("DeleteSecret(missing) error = %v, want nil", err)
	}
}

func TestKeyringStore_EmptyName(t *testing.T) {
	ks := mockKeyring(t)

	if err := ks.StoreSecret(" ", []byte("x")); err == nil {
		t.Error("StoreSecret(blank) expected error")
	}
	if _, err := ks.GetSecret(""); err == nil {
		t.Error("GetSecret(empty) expected error")
	}
}

func TestKeyringStore_SetEnabled(t *testing.T) {
	ks := mockKeyring(t)

	ks.SetEnabled(false)
	if ks.IsEnabled() {
		t.Fatal("SetEnabled(false) did not disable keyring")
	}
	if err := ks.StoreSecret("a", []byte("b")); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("StoreSecret() on disabled store error = %v", err)
	}
}
