package session

import (
	"errors"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManagerWithSecret("flowmarket", testSecret)
	require.NoError(t, err)

	raw, err := m.Issue(Identity{UserID: "42", Email: "ada@example.com", Name: "Ada"}, time.Hour)
	require.NoError(t, err)

	id, err := m.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "42", id.UserID)
	require.Equal(t, "ada@example.com", id.Email)
	require.Equal(t, "Ada", id.Name)
}

func TestVerifyRejects(t *testing.T) {
	m, err := NewManagerWithSecret("flowmarket", testSecret)
	require.NoError(t, err)

	_, err = m.Verify("")
	require.True(t, errors.Is(err, ErrMissingToken))

	_, err = m.Verify("not-a-token")
	require.True(t, errors.Is(err, ErrInvalidToken))

	other, err := NewManagerWithSecret("flowmarket", "ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	forged, err := other.Issue(Identity{UserID: "42"}, time.Hour)
	require.NoError(t, err)
	_, err = m.Verify(forged)
	require.True(t, errors.Is(err, ErrInvalidToken))

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := m.Issue(Identity{UserID: "42"}, time.Hour)
	require.NoError(t, err)
	m.now = time.Now
	_, err = m.Verify(expired)
	require.True(t, errors.Is(err, ErrInvalidToken))

	foreign, err := NewManagerWithSecret("someone-else", testSecret)
	require.NoError(t, err)
	wrongIssuer, err := foreign.Issue(Identity{UserID: "42"}, time.Hour)
	require.NoError(t, err)
	_, err = m.Verify(wrongIssuer)
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestShortSecret(t *testing.T) {
	_, err := NewManagerWithSecret("flowmarket", "short")
	require.Error(t, err)
}

func TestVerifyRequiresExpiry(t *testing.T) {
	m, err := NewManagerWithSecret("flowmarket", testSecret)
	require.NoError(t, err)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(testSecret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	forever, err := jwt.Signed(signer).Claims(jwt.Claims{
		Issuer:   "flowmarket",
		Subject:  "42",
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}).Serialize()
	require.NoError(t, err)

	_, err = m.Verify(forever)
	require.True(t, errors.Is(err, ErrInvalidToken))
	require.Contains(t, err.Error(), "missing expiry")
}
