package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astronomiahub/hub/internal/auth"
)

// low memory cost for fast tests
func testHasher() *auth.Hasher {
	h := auth.NewHasher(1024)
	h.Iterations = 1
	return h
}

func TestHasher_HashAndVerify(t *testing.T) {
	t.Parallel()

	h := testHasher()
	encoded, err := h.Hash("s3cret-pass")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=2$"))
	assert.NotContains(t, encoded, "s3cret-pass")

	ok, err := h.Verify("s3cret-pass", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_SaltsDiffer(t *testing.T) {
	t.Parallel()

	h := testHasher()
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHasher_VerifyUsesStoredParameters(t *testing.T) {
	t.Parallel()

	encoded, err := testHasher().Hash("pw")
	require.NoError(t, err)

	ok, err := auth.NewHasher(2048).Verify("pw", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasher_Malformed(t *testing.T) {
	t.Parallel()

	for _, encoded := range []string{
		"",
		"plaintext",
		"$2a$12$abcdefghijklmnopqrstuv",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
	} {
		_, err := testHasher().Verify("pw", encoded)
		assert.ErrorIs(t, err, auth.ErrMalformedHash, encoded)
	}
}

func TestHasher_VerifyAbsentNeverMatches(t *testing.T) {
	t.Parallel()

	h := testHasher()
	for _, pw := range []string{"", "absent-account", "correct horse"} {
		assert.False(t, h.VerifyAbsent(pw), pw)
	}
}
