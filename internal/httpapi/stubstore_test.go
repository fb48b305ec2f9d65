package httpapi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"maktab.org/internal/auth"
)

// stubStore is a minimal in-memory auth.Store backing the handler tests.
type stubStore struct {
	mu sync.Mutex

	users       map[string]*auth.User
	roles       map[string]*auth.Role
	rolePerms   map[string][]string
	permissions map[string]*auth.Permission
	assignments []auth.UserRoleAssignment
	tokens      map[string]*auth.RefreshToken
	recovery    map[string][]*auth.RecoveryCode

	seq int
}

func newStubStore() *stubStore {
	return &stubStore{
		users:       map[string]*auth.User{},
		roles:       map[string]*auth.Role{},
		rolePerms:   map[string][]string{},
		permissions: map[string]*auth.Permission{},
		tokens:      map[string]*auth.RefreshToken{},
		recovery:    map[string][]*auth.RecoveryCode{},
	}
}

func (s *stubStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *stubStore) seedUser(email, password string, role auth.RoleLevel, schoolID *string) *auth.User {
	hash, err := auth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &auth.User{
		ID:           s.nextID("user"),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		SchoolID:     schoolID,
	}
	s.users[u.ID] = u
	return u
}

func (s *stubStore) seedRole(name string, schoolID *string, system bool, permNames ...string) *auth.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &auth.Role{ID: s.nextID("role"), Name: name, SchoolID: schoolID, IsSystemRole: system}
	s.roles[r.ID] = r
	var permIDs []string
	for _, pn := range permNames {
		var id string
		for pid, p := range s.permissions {
			if p.Name == pn {
				id = pid
				break
			}
		}
		if id == "" {
			id = s.nextID("perm")
			s.permissions[id] = &auth.Permission{ID: id, Name: pn, Category: "test"}
		}
		permIDs = append(permIDs, id)
	}
	s.rolePerms[r.ID] = permIDs
	return r
}

func (s *stubStore) seedAssignment(userID, roleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, auth.UserRoleAssignment{UserID: userID, RoleID: roleID})
}

func (s *stubStore) Users() auth.UserStore                 { return (*stubUsers)(s) }
func (s *stubStore) Roles() auth.RoleStore                 { return (*stubRoles)(s) }
func (s *stubStore) Permissions() auth.PermissionStore     { return (*stubPerms)(s) }
func (s *stubStore) RefreshTokens() auth.RefreshTokenStore { return (*stubTokens)(s) }
func (s *stubStore) RecoveryCodes() auth.RecoveryCodeStore { return (*stubRecovery)(s) }

type stubUsers stubStore

func (s *stubUsers) Find(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *stubUsers) SetMfaSecret(_ context.Context, userID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.MfaSecret = &secret
	return nil
}

func (s *stubUsers) EnableMfa(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.MfaEnabled = true
	return nil
}

func (s *stubUsers) DisableMfa(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.MfaEnabled = false
	u.MfaSecret = nil
	return nil
}

type stubRoles stubStore

func (s *stubRoles) Create(_ context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (s *stubRoles) Find(_ context.Context, id string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *stubRoles) List(_ context.Context, filter auth.RoleFilter) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Role
	for _, r := range s.roles {
		if filter.SchoolID != nil && !r.IsSystemRole {
			if r.SchoolID == nil || *r.SchoolID != *filter.SchoolID {
				continue
			}
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *stubRoles) Update(_ context.Context, id string, upd auth.RoleUpdate) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	cp := *r
	return &cp, nil
}

func (s *stubRoles) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.roles, id)
	delete(s.rolePerms, id)
	kept := s.assignments[:0]
	for _, a := range s.assignments {
		if a.RoleID != id {
			kept = append(kept, a)
		}
	}
	s.assignments = kept
	return nil
}

func (s *stubRoles) SetPermissions(_ context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	s.rolePerms[roleID] = append([]string(nil), permissionIDs...)
	return nil
}

func (s *stubRoles) PermissionsForRole(_ context.Context, roleID string) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Permission
	for _, pid := range s.rolePerms[roleID] {
		if p, ok := s.permissions[pid]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubRoles) Assign(_ context.Context, assignment auth.UserRoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.UserID == assignment.UserID && a.RoleID == assignment.RoleID {
			return auth.ErrConflict
		}
	}
	s.assignments = append(s.assignments, assignment)
	return nil
}

func (s *stubRoles) Unassign(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			s.assignments = append(s.assignments[:i], s.assignments[i+1:]...)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s *stubRoles) AssignmentsForUser(_ context.Context, userID string) ([]auth.UserRoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.UserRoleAssignment
	for _, a := range s.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type stubPerms stubStore

func (s *stubPerms) Ensure(_ context.Context, perms []auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		found := false
		for _, existing := range s.permissions {
			if existing.Name == p.Name {
				existing.Description = p.Description
				existing.Category = p.Category
				found = true
				break
			}
		}
		if !found {
			id := (*stubStore)(s).nextID("perm")
			cp := p
			cp.ID = id
			s.permissions[id] = &cp
		}
	}
	return nil
}

func (s *stubPerms) List(_ context.Context, category string) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Permission
	for _, p := range s.permissions {
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *stubPerms) Find(_ context.Context, id string) (*auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubPerms) NamesForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, a := range s.assignments {
		if a.UserID != userID {
			continue
		}
		for _, pid := range s.rolePerms[a.RoleID] {
			p, ok := s.permissions[pid]
			if !ok {
				continue
			}
			if _, dup := seen[p.Name]; dup {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, p.Name)
		}
	}
	return out, nil
}

type stubTokens stubStore

func (s *stubTokens) Create(_ context.Context, tok *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[tok.Token] = &cp
	return nil
}

func (s *stubTokens) Rotate(_ context.Context, oldToken, newToken string, expiresAt, now time.Time) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.tokens[oldToken]
	if !ok {
		return nil, auth.ErrTokenInvalid
	}
	if old.Revoked {
		return nil, auth.ErrTokenRevoked
	}
	if !old.ExpiresAt.After(now) {
		return nil, auth.ErrTokenExpired
	}
	old.Revoked = true
	next := &auth.RefreshToken{
		ID:        (*stubStore)(s).nextID("rt"),
		UserID:    old.UserID,
		Token:     newToken,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	s.tokens[newToken] = next
	cp := *next
	return &cp, nil
}

func (s *stubTokens) RevokeAllForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

type stubRecovery stubStore

func (s *stubRecovery) Replace(_ context.Context, userID string, codeHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]*auth.RecoveryCode, len(codeHashes))
	for i, h := range codeHashes {
		codes[i] = &auth.RecoveryCode{ID: (*stubStore)(s).nextID("rc"), UserID: userID, CodeHash: h}
	}
	s.recovery[userID] = codes
	return nil
}

func (s *stubRecovery) Consume(_ context.Context, userID string, verify func(codeHash string) bool, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.recovery[userID] {
		if c.Used {
			continue
		}
		if verify(c.CodeHash) {
			c.Used = true
			at := now
			c.UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRecovery) DeleteForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recovery, userID)
	return nil
}

func strPtr(s string) *string { return &s }
