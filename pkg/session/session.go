// Package session verifies the HS256 session tokens minted by the identity
// provider in front of the marketplace.
package session

import (
	"errors"
	"fmt"
	"time"

	"flowmarket/pkg/config"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/fx"
)

var Module = fx.Module("session", fx.Provide(NewManager))

const leeway = 30 * time.Second

var (
	ErrMissingToken = errors.New("session: missing token")
	ErrInvalidToken = errors.New("session: invalid token")
)

// Identity is the caller as asserted by a verified token.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

type profileClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type Manager struct {
	issuer string
	secret []byte
	now    func() time.Time
}

func NewManager(cfg *config.Config) (*Manager, error) {
	return NewManagerWithSecret(cfg.Session.Issuer, cfg.Session.Secret)
}

func NewManagerWithSecret(issuer, secret string) (*Manager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	return &Manager{issuer: issuer, secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for id. Used by tooling and tests; production tokens
// come from the identity provider with the same secret.
func (m *Manager) Issue(id Identity, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: m.secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}

	now := m.now()
	std := jwt.Claims{
		Issuer:   m.issuer,
		Subject:  id.UserID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}

	return jwt.Signed(signer).Claims(std).Claims(profileClaims{Email: id.Email, Name: id.Name}).Serialize()
}

// Verify checks signature, issuer and expiry and returns the identity.
// Tokens without an expiry are rejected.
func (m *Manager) Verify(raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var std jwt.Claims
	var profile profileClaims
	if err := tok.Claims(m.secret, &std, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if std.Expiry == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Issuer: m.issuer, Time: m.now()}, leeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if std.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Identity{UserID: std.Subject, Email: profile.Email, Name: profile.Name}, nil
}
