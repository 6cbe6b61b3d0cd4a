package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueValidateRoundTrip(t *testing.T) {
	t.Parallel()

	tok, err := Issue("secret", 42, "ada", time.Hour)
	require.NoError(t, err)

	id, name, err := Validate("secret", tok)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.Equal(t, "ada", name)

	_, _, err = Validate("other", tok)
	require.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	t.Parallel()

	tok, err := Issue("secret", 1, "ada", -time.Minute)
	require.NoError(t, err)

	_, _, err = Validate("secret", tok)
	require.Error(t, err)
}

func TestParseIdentityWithoutSecret(t *testing.T) {
	t.Parallel()

	tok, err := Issue("secret", 9, "bob", time.Hour)
	require.NoError(t, err)

	ident, err := ParseIdentity(tok)
	require.NoError(t, err)
	require.Equal(t, int64(9), ident.UserID)
	require.Equal(t, tok, ident.Token)
	require.False(t, ident.Empty())

	_, err = ParseIdentity("not-a-token")
	require.Error(t, err)

	require.True(t, Identity{}.Empty())
}
