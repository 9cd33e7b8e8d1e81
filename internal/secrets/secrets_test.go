package secrets

import (
	"path/filepath"
	"testing"

	"github.com/shellback/shellback/internal/database"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	if err := database.Init(dbPath); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
		database.DB = nil
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	setupTestDB(t)

	plain := "correct horse battery staple"
	tok, err := Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if tok == plain {
		t.Error("ciphertext equals plaintext")
	}

	got, err := Decrypt(tok)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != plain {
		t.Errorf("round trip = %q, want %q", got, plain)
	}
}

func TestKeyIsPersisted(t *testing.T) {
	setupTestDB(t)

	// First Encrypt generates the key as a side effect.
	if _, err := Encrypt("x"); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	keyStr, err := database.GetSetting("fernet_key")
	if err != nil {
		t.Fatalf("key not persisted: %v", err)
	}
	if keyStr == "" {
		t.Error("persisted key is empty")
	}

	// A second call must reuse the stored key, so an old token stays valid.
	tok, err := Encrypt("value")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	again, err := database.GetSetting("fernet_key")
	if err != nil {
		t.Fatal(err)
	}
	if again != keyStr {
		t.Error("key regenerated on second use")
	}
	if got, err := Decrypt(tok); err != nil || got != "value" {
		t.Errorf("Decrypt = %q, %v", got, err)
	}
}

func TestDecryptEmptyAndInvalid(t *testing.T) {
	setupTestDB(t)

	if got, err := Decrypt(""); err != nil || got != "" {
		t.Errorf("Decrypt(\"\") = %q, %v, want empty and nil", got, err)
	}
	if _, err := Decrypt("not-a-fernet-token"); err == nil {
		t.Error("Decrypt accepted a bogus token")
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"ab", "****"},
		{"abcd", "****"},
		{"secretvalue", "****alue"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
