package authproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	m := NewManager("secret", time.Hour)
	token, err := m.Generate("u1", "bob", "admin")
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, "bob", claims.Username)
	require.Equal(t, "admin", claims.Role)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m := NewManager("secret", time.Hour)
	token, err := m.Generate("u1", "bob", "admin")
	require.NoError(t, err)

	other := NewManager("different", time.Hour)
	_, err = other.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := NewManager("secret", -time.Hour)
	token, err := m.Generate("u1", "bob", "admin")
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.Error(t, err)
}

func TestAcceptConnectionRequiredGatesMissingToken(t *testing.T) {
	m := NewManager("secret", time.Hour)
	p := NewProcessor(m, true)

	require.False(t, p.AcceptConnection(nil, map[string]string{}, nil))

	token, err := m.Generate("u1", "bob", "admin")
	require.NoError(t, err)
	out := map[string]string{}
	require.True(t, p.AcceptConnection(nil, map[string]string{"token": token}, out))
	require.Equal(t, "bob", out["username"])
	require.Equal(t, "admin", out["role"])
}

func TestAcceptConnectionOptionalAllowsMissingButRejectsBadToken(t *testing.T) {
	m := NewManager("secret", time.Hour)
	p := NewProcessor(m, false)

	require.True(t, p.AcceptConnection(nil, map[string]string{}, nil))
	require.False(t, p.AcceptConnection(nil, map[string]string{"token": "garbage"}, nil))
}
