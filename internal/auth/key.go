package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Keys look like rw_live_7a9f3c_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b: a brand,
// an environment, a public lookup prefix and the secret.
const (
	keyBrand = "rw"

	KeyPrefixLen = 6
	KeySecretLen = 32
)

// Key environments.
const (
	EnvLive = "live"
	EnvTest = "test"
)

// ErrInvalidKeyFormat is returned for strings that cannot be API keys.
var ErrInvalidKeyFormat = errors.New("invalid API key format")

// Key is a plaintext API key split into its parts.
type Key struct {
	Env    string
	Prefix string
	Secret string
}

// String reassembles the plaintext key.
func (k Key) String() string {
	return strings.Join([]string{keyBrand, k.Env, k.Prefix, k.Secret}, "_")
}

// ParseKey splits a presented key and checks every part.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 4 || parts[0] != keyBrand {
		return Key{}, ErrInvalidKeyFormat
	}
	k := Key{Env: parts[1], Prefix: parts[2], Secret: parts[3]}
	if k.Env != EnvLive && k.Env != EnvTest {
		return Key{}, ErrInvalidKeyFormat
	}
	if !lowerHex(k.Prefix, KeyPrefixLen) || !lowerHex(k.Secret, KeySecretLen) {
		return Key{}, ErrInvalidKeyFormat
	}
	return k, nil
}

func lowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IssuedKey is a freshly minted key. Plaintext is shown to the caller once;
// only Hash and Prefix are stored.
type IssuedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// IssueKey mints a key for env, falling back to live for unknown values.
func IssueKey(env string) (*IssuedKey, error) {
	if env != EnvTest {
		env = EnvLive
	}

	prefix, err := randomHex(KeyPrefixLen / 2)
	if err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	secret, err := randomHex(KeySecretLen / 2)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	plaintext := Key{Env: env, Prefix: prefix, Secret: secret}.String()
	hash, err := DefaultParams.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &IssuedKey{Plaintext: plaintext, Hash: hash, Prefix: prefix}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
