package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHasher_HashAndVerifyRoundTrip(t *testing.T) {
	hasher := NewPasswordHasher()

	encoded, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$")

	ok, err := hasher.Verify("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPasswordHasher_VerifyRejectsWrongPassword(t *testing.T) {
	hasher := NewPasswordHasher()

	encoded, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)

	ok, err := hasher.Verify("wrong password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHasher_HashIsSaltedPerCall(t *testing.T) {
	hasher := NewPasswordHasher()

	a, err := hasher.Hash("same password")
	require.NoError(t, err)
	b, err := hasher.Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "two hashes of the same password must differ because the salt is fresh per call")
}
