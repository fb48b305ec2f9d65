package auth

import "time"

// RoleLevel is the coarse privilege level carried on every user account.
// It is independent of the fine-grained RBAC roles: hierarchy checks use
// the level, permission checks use the named grants.
type RoleLevel string

const (
	RoleStudent     RoleLevel = "student"
	RoleTeacher     RoleLevel = "teacher"
	RoleAdmin       RoleLevel = "admin"
	RoleSystemAdmin RoleLevel = "system_admin"
)

var roleRank = map[RoleLevel]int{
	RoleStudent:     0,
	RoleTeacher:     1,
	RoleAdmin:       2,
	RoleSystemAdmin: 3,
}

// Valid reports whether the level is one of the known values.
func (l RoleLevel) Valid() bool {
	_, ok := roleRank[l]
	return ok
}

// AtLeast reports whether the level satisfies a requirement for min.
// A higher level always satisfies a lower one.
func (l RoleLevel) AtLeast(min RoleLevel) bool {
	lr, ok := roleRank[l]
	if !ok {
		return false
	}
	mr, ok := roleRank[min]
	if !ok {
		return false
	}
	return lr >= mr
}

// User is an account able to authenticate. The password hash never leaves
// this package.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         RoleLevel `json:"role"`
	SchoolID     *string   `json:"school_id,omitempty"`
	MfaEnabled   bool      `json:"mfa_enabled"`
	MfaSecret    *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the public view of a user returned by the login endpoints.
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:         u.ID,
		Email:      u.Email,
		Role:       u.Role,
		SchoolID:   u.SchoolID,
		MfaEnabled: u.MfaEnabled,
	}
}

// UserProfile is the wire shape of the "user" field in login responses.
type UserProfile struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Role       RoleLevel `json:"role"`
	SchoolID   *string   `json:"school_id,omitempty"`
	MfaEnabled bool      `json:"mfa_enabled"`
}

// Permission is an immutable catalog entry named resource:action.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role bundles permissions. System roles carry no school reference;
// school-scoped roles reference exactly one school.
type Role struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SchoolID     *string   `json:"school_id,omitempty"`
	IsSystemRole bool      `json:"is_system_role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleWithPermissions is a role plus its resolved permission list.
type RoleWithPermissions struct {
	Role
	Permissions []Permission `json:"permissions"`
}

// UserRoleAssignment links a user to a role and records who granted it.
type UserRoleAssignment struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RefreshToken is one link of a refresh chain. Rows are never deleted;
// rotation, logout, and expiry only flip the revoked flag.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// RecoveryCode is a single-use MFA fallback code, stored only as a hash.
type RecoveryCode struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	CodeHash  string     `json:"-"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// RoleFilter narrows role listings.
type RoleFilter struct {
	SchoolID     *string
	IsSystemRole *bool
}

// RoleUpdate carries partial role mutations; nil fields are left untouched.
type RoleUpdate struct {
	Name        *string
	Description *string
}
