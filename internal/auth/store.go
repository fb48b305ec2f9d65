package auth

import (
	"context"
	"time"
)

// Store describes persistence required by the auth subsystem. Implementations
// must map driver errors onto the package sentinels (ErrNotFound, ErrConflict)
// so services can branch with errors.Is.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	RefreshTokens() RefreshTokenStore
	RecoveryCodes() RecoveryCodeStore
}

// UserStore reads accounts and mutates their MFA state. Account creation and
// deletion belong to the user-management service, not this subsystem.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	SetMfaSecret(ctx context.Context, userID, secret string) error
	EnableMfa(ctx context.Context, userID string) error
	// DisableMfa clears the enabled flag and the stored secret.
	DisableMfa(ctx context.Context, userID string) error
}

// RoleStore manages roles, their permission sets, and user assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	List(ctx context.Context, filter RoleFilter) ([]Role, error)
	Update(ctx context.Context, id string, upd RoleUpdate) (*Role, error)
	// Delete removes the role and cascades its permission links and user
	// assignments.
	Delete(ctx context.Context, id string) error

	SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)

	Assign(ctx context.Context, assignment UserRoleAssignment) error
	Unassign(ctx context.Context, userID, roleID string) error
	AssignmentsForUser(ctx context.Context, userID string) ([]UserRoleAssignment, error)
}

// PermissionStore reads the seeded catalog and resolves effective grants.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context, category string) ([]Permission, error)
	Find(ctx context.Context, id string) (*Permission, error)
	// NamesForUser returns the deduplicated union of permission names across
	// all roles held by the user.
	NamesForUser(ctx context.Context, userID string) ([]string, error)
}

// RefreshTokenStore manages the refresh chain.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	// Rotate atomically validates the old token and replaces it: the lookup,
	// the not-revoked/not-expired checks, the revocation, and the insert of
	// the replacement all happen in one transaction. On success it returns
	// the newly inserted row. Failures map to ErrTokenInvalid (unknown),
	// ErrTokenRevoked, or ErrTokenExpired; of two concurrent rotations of
	// the same token exactly one succeeds.
	Rotate(ctx context.Context, oldToken, newToken string, expiresAt, now time.Time) (*RefreshToken, error)
	// RevokeAllForUser marks every active token revoked. Idempotent.
	RevokeAllForUser(ctx context.Context, userID string) error
}

// RecoveryCodeStore manages hashed single-use MFA fallback codes.
type RecoveryCodeStore interface {
	// Replace deletes any outstanding codes and stores a fresh hashed batch.
	Replace(ctx context.Context, userID string, codeHashes []string) error
	// Consume walks the user's unused codes under a row lock, calling verify
	// on each hash; the first match is marked used inside the same
	// transaction and true is returned. Two concurrent submissions of the
	// same code cannot both succeed.
	Consume(ctx context.Context, userID string, verify func(codeHash string) bool, now time.Time) (bool, error)
	DeleteForUser(ctx context.Context, userID string) error
}
