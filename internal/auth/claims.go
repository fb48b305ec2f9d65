package auth

import (
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators embedded in every signed credential. The
// authorization layer accepts only TokenTypeAccess; an MFA temp token is
// useless everywhere except the step-up endpoints.
const (
	TokenTypeAccess  = "access"
	TokenTypeMfaTemp = "mfa_temp"
)

// AccessClaims is the decoded payload of an access token. It carries
// everything authorization needs so the fast path runs without I/O.
// A claims value is a point-in-time snapshot: role or permission changes
// made after issuance surface only on the next login or refresh.
type AccessClaims struct {
	Email       string    `json:"email"`
	SchoolID    *string   `json:"school_id,omitempty"`
	Role        RoleLevel `json:"role"`
	RoleIDs     []string  `json:"role_ids"`
	Permissions []string  `json:"permissions"`
	TokenType   string    `json:"token_type"`
	jwt.RegisteredClaims
}

// HasPermission reports exact membership of a permission name.
func (c *AccessClaims) HasPermission(name string) bool {
	for _, p := range c.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether at least one of the names is held.
func (c *AccessClaims) HasAnyPermission(names ...string) bool {
	for _, n := range names {
		if c.HasPermission(n) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of the names is held.
func (c *AccessClaims) HasAllPermissions(names ...string) bool {
	for _, n := range names {
		if !c.HasPermission(n) {
			return false
		}
	}
	return true
}

// HasRole reports membership of a role id.
func (c *AccessClaims) HasRole(roleID string) bool {
	for _, id := range c.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Level returns the coarse hierarchy level for ordinal comparisons.
func (c *AccessClaims) Level() RoleLevel { return c.Role }

// IsSystemAdmin is a convenience for the highest privilege check.
func (c *AccessClaims) IsSystemAdmin() bool { return c.Role == RoleSystemAdmin }

// TempClaims is the decoded payload of an MFA step-up temp token. It
// identifies the half-authenticated user and nothing more: no roles, no
// permissions, no school scope.
type TempClaims struct {
	Email      string `json:"email"`
	MfaPending bool   `json:"mfa_pending"`
	TokenType  string `json:"token_type"`
	jwt.RegisteredClaims
}

func dedupePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
