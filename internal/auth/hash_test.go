package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap keeps the suite fast; the encoding is the same as DefaultParams.
var cheap = Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestParams_HashFormat(t *testing.T) {
	t.Parallel()

	encoded, err := DefaultParams.Hash("rw_live_abc123_secret")
	require.NoError(t, err)

	fields := strings.Split(encoded, "$")
	require.Len(t, fields, 6)
	assert.Equal(t, "argon2id", fields[1])
	assert.Equal(t, "v=19", fields[2])
	assert.Equal(t, "m=65536,t=3,p=4", fields[3])
}

func TestVerify(t *testing.T) {
	t.Parallel()

	encoded, err := cheap.Hash("correct horse")
	require.NoError(t, err)

	ok, err := Verify("correct horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("battery staple", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := cheap.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again, "salt must differ between hashes")
}

func TestVerify_RejectsMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		encoded string
		wantErr error
	}{
		{"empty", "", ErrInvalidHash},
		{"not phc", "not-a-hash", ErrInvalidHash},
		{"bcrypt", "$bcrypt$v=19$m=65536,t=3,p=4$salt$hash", ErrInvalidHash},
		{"truncated", "$argon2id$v=19$m=65536", ErrInvalidHash},
		{"bad params", "$argon2id$v=19$m=x,t=3,p=4$c2FsdA$aGFzaA", ErrInvalidHash},
		{"bad salt", "$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA", ErrInvalidHash},
		{"old version", "$argon2id$v=18$m=65536,t=3,p=4$c29tZXNhbHRoZXJl$c29tZWhhc2hoZXJl", ErrIncompatibleVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ok, err := Verify("secret", tt.encoded)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, ok)
		})
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := Fingerprint("rw_live_abc123_one")
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint("rw_live_abc123_one"))
	assert.NotEqual(t, a, Fingerprint("rw_live_abc123_two"))
	assert.Len(t, Fingerprint(""), 32)
}
