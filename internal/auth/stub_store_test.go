package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the service tests. Rotate and
// Consume are serialized by the mutex, matching the transactional guarantees
// the postgres implementation supplies with row locks.
type memStore struct {
	mu sync.Mutex

	users       map[string]*User
	roles       map[string]*Role
	rolePerms   map[string][]string
	permissions map[string]*Permission
	assignments []UserRoleAssignment
	tokens      map[string]*RefreshToken
	recovery    map[string][]*RecoveryCode

	seq int
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]*User{},
		roles:       map[string]*Role{},
		rolePerms:   map[string][]string{},
		permissions: map[string]*Permission{},
		tokens:      map[string]*RefreshToken{},
		recovery:    map[string][]*RecoveryCode{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addUser(email, password string, role RoleLevel, schoolID *string) *User {
	hash, err := HashPassword(password)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &User{
		ID:           m.nextID("user"),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		SchoolID:     schoolID,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.users[u.ID] = u
	return u
}

func (m *memStore) addRole(name string, schoolID *string, system bool, permNames ...string) *Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &Role{ID: m.nextID("role"), Name: name, SchoolID: schoolID, IsSystemRole: system}
	m.roles[r.ID] = r
	ids := make([]string, 0, len(permNames))
	for _, name := range permNames {
		var found string
		for id, p := range m.permissions {
			if p.Name == name {
				found = id
				break
			}
		}
		if found == "" {
			found = m.nextID("perm")
			m.permissions[found] = &Permission{ID: found, Name: name, Category: "test"}
		}
		ids = append(ids, found)
	}
	m.rolePerms[r.ID] = ids
	return r
}

func (m *memStore) assign(userID, roleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, UserRoleAssignment{UserID: userID, RoleID: roleID})
}

func (m *memStore) Users() UserStore                 { return (*memUsers)(m) }
func (m *memStore) Roles() RoleStore                 { return (*memRoles)(m) }
func (m *memStore) Permissions() PermissionStore     { return (*memPerms)(m) }
func (m *memStore) RefreshTokens() RefreshTokenStore { return (*memTokens)(m) }
func (m *memStore) RecoveryCodes() RecoveryCodeStore { return (*memRecovery)(m) }

type memUsers memStore

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) SetMfaSecret(_ context.Context, userID, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.MfaSecret = &secret
	return nil
}

func (m *memUsers) EnableMfa(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.MfaEnabled = true
	return nil
}

func (m *memUsers) DisableMfa(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.MfaEnabled = false
	u.MfaSecret = nil
	return nil
}

type memRoles memStore

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name && existing.IsSystemRole == role.IsSystemRole &&
			equalPtr(existing.SchoolID, role.SchoolID) {
			return ErrConflict
		}
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) List(_ context.Context, filter RoleFilter) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for _, r := range m.roles {
		if filter.IsSystemRole != nil && r.IsSystemRole != *filter.IsSystemRole {
			continue
		}
		if filter.SchoolID != nil && !r.IsSystemRole && !equalPtr(r.SchoolID, filter.SchoolID) {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (m *memRoles) Update(_ context.Context, id string, upd RoleUpdate) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
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

func (m *memRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePerms, id)
	kept := m.assignments[:0]
	for _, a := range m.assignments {
		if a.RoleID != id {
			kept = append(kept, a)
		}
	}
	m.assignments = kept
	return nil
}

func (m *memRoles) SetPermissions(_ context.Context, roleID string, permissionIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	m.rolePerms[roleID] = append([]string(nil), permissionIDs...)
	return nil
}

func (m *memRoles) PermissionsForRole(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, id := range m.rolePerms[roleID] {
		if p, ok := m.permissions[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memRoles) Assign(_ context.Context, assignment UserRoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.UserID == assignment.UserID && a.RoleID == assignment.RoleID {
			return ErrConflict
		}
	}
	m.assignments = append(m.assignments, assignment)
	return nil
}

func (m *memRoles) Unassign(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			m.assignments = append(m.assignments[:i], m.assignments[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRoles) AssignmentsForUser(_ context.Context, userID string) ([]UserRoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UserRoleAssignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memPerms memStore

func (m *memPerms) Ensure(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		exists := false
		for _, existing := range m.permissions {
			if existing.Name == p.Name {
				exists = true
				break
			}
		}
		if !exists {
			id := (*memStore)(m).nextID("perm")
			cp := p
			cp.ID = id
			m.permissions[id] = &cp
		}
	}
	return nil
}

func (m *memPerms) List(_ context.Context, category string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, p := range m.permissions {
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *memPerms) Find(_ context.Context, id string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.permissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPerms) NamesForUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, a := range m.assignments {
		if a.UserID != userID {
			continue
		}
		for _, pid := range m.rolePerms[a.RoleID] {
			p, ok := m.permissions[pid]
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

type memTokens memStore

func (m *memTokens) Create(_ context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.tokens[tok.Token]; dup {
		return ErrConflict
	}
	cp := *tok
	m.tokens[tok.Token] = &cp
	return nil
}

func (m *memTokens) Rotate(_ context.Context, oldToken, newToken string, expiresAt, now time.Time) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldToken]
	if !ok {
		return nil, ErrTokenInvalid
	}
	if old.Revoked {
		return nil, ErrTokenRevoked
	}
	if !old.ExpiresAt.After(now) {
		return nil, ErrTokenExpired
	}
	old.Revoked = true
	next := &RefreshToken{
		ID:        (*memStore)(m).nextID("rt"),
		UserID:    old.UserID,
		Token:     newToken,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	m.tokens[newToken] = next
	cp := *next
	return &cp, nil
}

func (m *memTokens) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

type memRecovery memStore

func (m *memRecovery) Replace(_ context.Context, userID string, codeHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]*RecoveryCode, len(codeHashes))
	for i, h := range codeHashes {
		codes[i] = &RecoveryCode{ID: (*memStore)(m).nextID("rc"), UserID: userID, CodeHash: h}
	}
	m.recovery[userID] = codes
	return nil
}

func (m *memRecovery) Consume(_ context.Context, userID string, verify func(codeHash string) bool, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.recovery[userID] {
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

func (m *memRecovery) DeleteForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recovery, userID)
	return nil
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtr(s string) *string { return &s }
