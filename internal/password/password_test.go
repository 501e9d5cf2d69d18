package password_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abdihakim148/beekeeper/internal/password"
)

func TestHashVerify(t *testing.T) {
	digest, err := password.Hash("correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, digest)
	require.NotContains(t, digest, "correct horse")

	ok, err := password.Verify("correct horse battery staple", digest)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = password.Verify("wrong password", digest)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashSaltsDiffer(t *testing.T) {
	first, err := password.Hash("SuperSecret123")
	require.NoError(t, err)
	second, err := password.Hash("SuperSecret123")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := password.Verify("secret", "not-a-digest")
	require.Error(t, err)
}

func TestArgon2SatisfiesPort(t *testing.T) {
	hasher := password.Argon2{}
	digest, err := hasher.Hash("SuperSecret123")
	require.NoError(t, err)

	ok, err := hasher.Verify("SuperSecret123", digest)
	require.NoError(t, err)
	require.True(t, ok)
}
