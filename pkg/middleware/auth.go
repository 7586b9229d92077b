package middleware

import (
	"context"
	"errors"
	"strings"

	"flowmarket/pkg/access"
	"flowmarket/pkg/errutil"
	"flowmarket/pkg/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "flowmarket.principal"

// TokenVerifier turns a bearer token into a verified identity.
type TokenVerifier interface {
	Verify(raw string) (*session.Identity, error)
}

// PrincipalResolver loads the caller's current roles, provisioning the
// account on first sight.
type PrincipalResolver interface {
	Resolve(ctx context.Context, id session.Identity) (*access.Principal, error)
}

type Auth struct {
	verifier TokenVerifier
	resolver PrincipalResolver
}

func NewAuth(verifier TokenVerifier, resolver PrincipalResolver) *Auth {
	return &Auth{verifier: verifier, resolver: resolver}
}

// Authenticate requires a valid session token.
func (a *Auth) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.attach(c); err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		if _, ok := PrincipalFrom(c); !ok {
			_ = c.Error(errutil.Unauthorized("authentication required", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

// OptionalAuth attaches the caller when a token is present and valid, and
// otherwise continues anonymously.
func (a *Auth) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.attach(c); err != nil {
			zap.L().Debug("ignoring invalid optional credentials", zap.Error(err))
		}
		c.Next()
	}
}

func (a *Auth) attach(c *gin.Context) error {
	raw, err := bearerToken(c)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}

	id, err := a.verifier.Verify(raw)
	if err != nil {
		return errutil.Unauthorized("invalid or expired session", err)
	}

	p, err := a.resolver.Resolve(c.Request.Context(), *id)
	if err != nil {
		if _, ok := errutil.As(err); ok {
			return err
		}
		return errutil.Internal("failed to resolve caller", err)
	}

	c.Set(principalKey, p)
	c.Request = c.Request.WithContext(access.WithPrincipal(c.Request.Context(), p))
	return nil
}

// RequireAnyRole answers 403 when the authenticated caller holds none of roles.
// Must run after Authenticate.
func RequireAnyRole(roles ...access.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			_ = c.Error(errutil.Unauthorized("authentication required", nil))
			c.Abort()
			return
		}
		if !access.HasAnyRole(p.Roles, roles) {
			_ = c.Error(errutil.Forbidden("insufficient role", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func PrincipalFrom(c *gin.Context) (*access.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*access.Principal)
	return p, ok && p != nil
}

var errMalformedAuthorization = errors.New("malformed authorization header")

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", nil
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errutil.Unauthorized("invalid authorization header", errMalformedAuthorization)
	}
	return parts[1], nil
}
