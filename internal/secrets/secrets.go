// Package secrets encrypts stored credentials (SSH key passphrases) with a
// fernet key that is generated once and kept in the settings table.
package secrets

import (
	"fmt"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/shellback/shellback/internal/database"
)

const keySetting = "fernet_key"

func getKey() (*fernet.Key, error) {
	keyStr, err := database.GetSetting(keySetting)
	if err != nil {
		// First use: generate and persist a new key.
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate fernet key: %w", err)
		}
		if err := database.SetSetting(keySetting, k.Encode()); err != nil {
			return nil, fmt.Errorf("save fernet key: %w", err)
		}
		return &k, nil
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return key, nil
}

// Encrypt returns the fernet token for plaintext.
func Encrypt(plaintext string) (string, error) {
	key, err := getKey()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt reverses Encrypt. An empty ciphertext decrypts to the empty
// string; a token that fails verification is an error.
func Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	key, err := getKey()
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0*time.Second, []*fernet.Key{key})
	if msg == nil {
		return "", fmt.Errorf("decrypt: invalid token")
	}
	return string(msg), nil
}

// Mask hides all but the last four characters of a secret for display.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
