package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"maktab.org/internal/ids"
)

const (
	maxRoleNameLen        = 100
	maxRoleDescriptionLen = 500
)

// RBACService manages roles, permission sets, and role assignments. Every
// mutating operation is checked against the acting principal's claims, so
// school administrators can only touch roles inside their own school.
type RBACService struct {
	store Store
	now   func() time.Time
}

// RBACOption configures RBACService behavior.
type RBACOption func(*RBACService)

// WithRBACClock overrides the time source.
func WithRBACClock(fn func() time.Time) RBACOption {
	return func(r *RBACService) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRBACService constructs an RBACService.
func NewRBACService(store Store, opts ...RBACOption) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &RBACService{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateRoleInput is the payload for role creation.
type CreateRoleInput struct {
	Name          string
	Description   string
	SchoolID      *string
	IsSystemRole  bool
	PermissionIDs []string
}

// ListPermissions returns the catalog, optionally filtered by category.
func (r *RBACService) ListPermissions(ctx context.Context, category string) ([]Permission, error) {
	return r.store.Permissions().List(ctx, strings.TrimSpace(category))
}

// GetPermission fetches a single catalog entry by id.
func (r *RBACService) GetPermission(ctx context.Context, id string) (*Permission, error) {
	return r.store.Permissions().Find(ctx, id)
}

// CreateRole creates a role scoped per the actor. Only system administrators
// may create system roles or roles for arbitrary schools; anyone else gets
// the role pinned to their own school regardless of the requested scope.
func (r *RBACService) CreateRole(ctx context.Context, actor *AccessClaims, in CreateRoleInput) (*RoleWithPermissions, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxRoleNameLen {
		return nil, fmt.Errorf("%w: role name must be 1-%d characters", ErrInvalidInput, maxRoleNameLen)
	}
	if len(in.Description) > maxRoleDescriptionLen {
		return nil, fmt.Errorf("%w: role description too long", ErrInvalidInput)
	}

	role := &Role{
		ID:           ids.New(),
		Name:         name,
		Description:  strings.TrimSpace(in.Description),
		SchoolID:     in.SchoolID,
		IsSystemRole: in.IsSystemRole,
	}
	if !actor.IsSystemAdmin() {
		if actor.SchoolID == nil {
			return nil, ErrPermissionDenied
		}
		role.IsSystemRole = false
		role.SchoolID = actor.SchoolID
	}
	if role.IsSystemRole {
		role.SchoolID = nil
	} else if role.SchoolID == nil {
		return nil, fmt.Errorf("%w: school_id is required for school-scoped roles", ErrInvalidInput)
	}

	now := r.now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	if err := r.store.Roles().Create(ctx, role); err != nil {
		return nil, err
	}
	if len(in.PermissionIDs) > 0 {
		if err := r.setPermissions(ctx, role.ID, in.PermissionIDs); err != nil {
			return nil, err
		}
	}
	return r.withPermissions(ctx, role)
}

// GetRole fetches a role with its permission set, enforcing scope.
func (r *RBACService) GetRole(ctx context.Context, actor *AccessClaims, roleID string) (*RoleWithPermissions, error) {
	role, err := r.visibleRole(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	return r.withPermissions(ctx, role)
}

// ListRoles returns roles visible to the actor. System administrators see
// everything the filter allows; everyone else sees system roles plus the
// roles of their own school.
func (r *RBACService) ListRoles(ctx context.Context, actor *AccessClaims, filter RoleFilter) ([]Role, error) {
	if !actor.IsSystemAdmin() {
		if actor.SchoolID == nil {
			return nil, fmt.Errorf("%w: a school scope is required to list roles", ErrInvalidInput)
		}
		filter.SchoolID = actor.SchoolID
	}
	roles, err := r.store.Roles().List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// UpdateRole renames or re-describes a role. System roles are only mutable
// by system administrators.
func (r *RBACService) UpdateRole(ctx context.Context, actor *AccessClaims, roleID string, upd RoleUpdate) (*RoleWithPermissions, error) {
	if _, err := r.mutableRole(ctx, actor, roleID); err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" || len(name) > maxRoleNameLen {
			return nil, fmt.Errorf("%w: role name must be 1-%d characters", ErrInvalidInput, maxRoleNameLen)
		}
		upd.Name = &name
	}
	if upd.Description != nil && len(*upd.Description) > maxRoleDescriptionLen {
		return nil, fmt.Errorf("%w: role description too long", ErrInvalidInput)
	}
	updated, err := r.store.Roles().Update(ctx, roleID, upd)
	if err != nil {
		return nil, err
	}
	return r.withPermissions(ctx, updated)
}

// DeleteRole removes a role. Permission links and user assignments cascade,
// so holders lose the grants on their next claims rebuild.
func (r *RBACService) DeleteRole(ctx context.Context, actor *AccessClaims, roleID string) error {
	if _, err := r.mutableRole(ctx, actor, roleID); err != nil {
		return err
	}
	return r.store.Roles().Delete(ctx, roleID)
}

// SetRolePermissions replaces the role's permission set wholesale.
func (r *RBACService) SetRolePermissions(ctx context.Context, actor *AccessClaims, roleID string, permissionIDs []string) (*RoleWithPermissions, error) {
	role, err := r.mutableRole(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	if err := r.setPermissions(ctx, roleID, permissionIDs); err != nil {
		return nil, err
	}
	return r.withPermissions(ctx, role)
}

// AssignRole grants a role to a user, recording the actor as grantor.
// System roles can only be granted by system administrators, and school
// roles only to users of the role's school. Assigning an already-held role
// is reported as a conflict by the store.
func (r *RBACService) AssignRole(ctx context.Context, actor *AccessClaims, userID, roleID string) error {
	role, err := r.visibleRole(ctx, actor, roleID)
	if err != nil {
		return err
	}
	target, err := r.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if role.IsSystemRole && !actor.IsSystemAdmin() {
		return ErrPermissionDenied
	}
	if !role.IsSystemRole && !sameSchool(role.SchoolID, target.SchoolID) {
		return fmt.Errorf("%w: school roles can only be assigned to users of that school", ErrInvalidInput)
	}
	return r.store.Roles().Assign(ctx, UserRoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: actor.Subject,
		CreatedAt:  r.now().UTC(),
	})
}

// UnassignRole revokes a role from a user. School administrators may only
// revoke school roles, and only from users of their own school. The user's
// outstanding access tokens keep the stale grant until expiry; only new
// tokens reflect it.
func (r *RBACService) UnassignRole(ctx context.Context, actor *AccessClaims, userID, roleID string) error {
	role, err := r.visibleRole(ctx, actor, roleID)
	if err != nil {
		return err
	}
	target, err := r.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if !actor.IsSystemAdmin() {
		if !sameSchool(actor.SchoolID, target.SchoolID) {
			return ErrPermissionDenied
		}
		if role.IsSystemRole {
			return ErrPermissionDenied
		}
	}
	return r.store.Roles().Unassign(ctx, userID, roleID)
}

func sameSchool(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// RolesForUser lists the roles currently assigned to a user.
func (r *RBACService) RolesForUser(ctx context.Context, userID string) ([]Role, error) {
	assignments, err := r.store.Roles().AssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(assignments))
	for _, a := range assignments {
		role, err := r.store.Roles().Find(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, nil
}

func (r *RBACService) setPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	seen := make(map[string]struct{}, len(permissionIDs))
	unique := make([]string, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("%w: empty permission id", ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, err := r.store.Permissions().Find(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, id)
			}
			return err
		}
		unique = append(unique, id)
	}
	return r.store.Roles().SetPermissions(ctx, roleID, unique)
}

// visibleRole loads a role the actor may read: any role for system admins,
// system roles and own-school roles for everyone else.
func (r *RBACService) visibleRole(ctx context.Context, actor *AccessClaims, roleID string) (*Role, error) {
	role, err := r.store.Roles().Find(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if actor.IsSystemAdmin() || role.IsSystemRole {
		return role, nil
	}
	if actor.SchoolID != nil && role.SchoolID != nil && *actor.SchoolID == *role.SchoolID {
		return role, nil
	}
	// Report roles outside the actor's scope as absent rather than forbidden
	// so listings and lookups cannot probe other schools.
	return nil, ErrNotFound
}

// mutableRole loads a role the actor may modify. System roles require a
// system administrator.
func (r *RBACService) mutableRole(ctx context.Context, actor *AccessClaims, roleID string) (*Role, error) {
	role, err := r.visibleRole(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystemRole && !actor.IsSystemAdmin() {
		return nil, ErrPermissionDenied
	}
	return role, nil
}

func (r *RBACService) withPermissions(ctx context.Context, role *Role) (*RoleWithPermissions, error) {
	perms, err := r.store.Roles().PermissionsForRole(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	return &RoleWithPermissions{Role: *role, Permissions: perms}, nil
}
