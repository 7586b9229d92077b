// Package access evaluates role based authorization. Every function is pure
// and total: nil and empty role sets are valid inputs.
package access

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleDeveloper Role = "DEVELOPER"
	RoleBuyer     Role = "BUYER"
)

var knownRoles = map[Role]struct{}{
	RoleAdmin:     {},
	RoleDeveloper: {},
	RoleBuyer:     {},
}

func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

func HasRole(roles []Role, required Role) bool {
	for _, r := range roles {
		if r == required {
			return true
		}
	}
	return false
}

// HasAnyRole is false for an empty required list.
func HasAnyRole(roles []Role, required []Role) bool {
	for _, r := range required {
		if HasRole(roles, r) {
			return true
		}
	}
	return false
}

// HasAllRoles is vacuously true for an empty required list.
func HasAllRoles(roles []Role, required []Role) bool {
	for _, r := range required {
		if !HasRole(roles, r) {
			return false
		}
	}
	return true
}

func IsAdmin(roles []Role) bool {
	return HasRole(roles, RoleAdmin)
}

func IsDeveloper(roles []Role) bool {
	return HasRole(roles, RoleDeveloper)
}

func IsBuyer(roles []Role) bool {
	return HasRole(roles, RoleBuyer)
}

// CanModify grants the owner of a resource, or an admin, write access.
func CanModify(callerID, ownerID string, roles []Role) bool {
	if callerID != "" && callerID == ownerID {
		return true
	}
	return IsAdmin(roles)
}

// ParseRoles normalises and validates raw role names, dropping duplicates.
func ParseRoles(raw []string) ([]Role, error) {
	out := make([]Role, 0, len(raw))
	for _, s := range raw {
		r := Role(strings.ToUpper(strings.TrimSpace(s)))
		if !r.Valid() {
			return nil, fmt.Errorf("unknown role %q", s)
		}
		if !HasRole(out, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Strings converts roles for storage.
func Strings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// FromStrings converts stored role names, skipping unknown values.
func FromStrings(raw []string) []Role {
	out := make([]Role, 0, len(raw))
	for _, s := range raw {
		if r := Role(s); r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// Principal is an authenticated caller with the roles currently on record.
type Principal struct {
	UserID string
	Email  string
	Name   string
	Roles  []Role
}

func (p *Principal) IsAdmin() bool {
	return p != nil && IsAdmin(p.Roles)
}

// CanModify applies the ownership-or-admin rule for this caller.
func (p *Principal) CanModify(ownerID string) bool {
	return p != nil && CanModify(p.UserID, ownerID, p.Roles)
}

type principalCtxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*Principal)
	return p, ok && p != nil
}
