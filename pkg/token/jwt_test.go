package token

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("u1", "alice", true)
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, "alice", claims.Login)
	require.True(t, claims.Admin)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("secret", 1)
	other := NewJWTManager("other", 1)
	tok, err := other.GenerateToken("u1", "alice", false)
	require.NoError(t, err)

	_, err = m.VerifyToken(tok)
	require.True(t, errors.Is(err, errors.Unauthorized))

	expired := NewJWTManager("secret", -1)
	tok, err = expired.GenerateToken("u1", "alice", false)
	require.NoError(t, err)
	_, err = m.VerifyToken(tok)
	require.True(t, errors.Is(err, errors.Unauthorized))

	_, err = m.VerifyToken("not-a-token")
	require.True(t, errors.Is(err, errors.Unauthorized))
}
