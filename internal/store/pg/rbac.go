package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"maktab.org/internal/auth"
	"maktab.org/internal/ids"
)

type roleStore struct {
	db *sql.DB
}

const roleColumns = `id, name, description, school_id, is_system_role, created_at, updated_at`

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, description, school_id, is_system_role, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $6)
	`, role.ID, role.Name, role.Description, nullIfNil(role.SchoolID), role.IsSystemRole, role.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where id = $1
	`, id)
	return scanRole(row)
}

func (s *roleStore) List(ctx context.Context, filter auth.RoleFilter) ([]auth.Role, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if filter.SchoolID != nil {
		where = append(where, fmt.Sprintf("(school_id = $%d or is_system_role)", idx))
		args = append(args, *filter.SchoolID)
		idx++
	}
	if filter.IsSystemRole != nil {
		where = append(where, fmt.Sprintf("is_system_role = $%d", idx))
		args = append(args, *filter.IsSystemRole)
		idx++
	}
	query := `select ` + roleColumns + ` from roles`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *roleStore) Update(ctx context.Context, id string, upd auth.RoleUpdate) (*auth.Role, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", idx))
		args = append(args, *upd.Description)
		idx++
	}
	if len(setClauses) == 0 {
		return s.Find(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		update roles
		set %s
		where id = $%d
		returning %s
	`, strings.Join(setClauses, ", "), idx, roleColumns), args...)
	role, err := scanRole(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, auth.ErrConflict
		}
		return nil, err
	}
	return role, nil
}

// Delete relies on on-delete-cascade for role_permissions and user_roles.
func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *roleStore) SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from roles where id = $1)`, roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return auth.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, pid); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return auth.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *roleStore) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.description, p.category, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *roleStore) Assign(ctx context.Context, assignment auth.UserRoleAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, assigned_by, created_at)
		values ($1, $2, $3, $4)
	`, assignment.UserID, assignment.RoleID, nullIfEmpty(assignment.AssignedBy), assignment.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *roleStore) Unassign(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *roleStore) AssignmentsForUser(ctx context.Context, userID string) ([]auth.UserRoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, coalesce(assigned_by, ''), created_at
		from user_roles
		where user_id = $1
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.UserRoleAssignment
	for rows.Next() {
		var a auth.UserRoleAssignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.AssignedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type permissionStore struct {
	db *sql.DB
}

func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, name, description, category)
			values ($1, $2, $3, $4)
			on conflict (name) do update
			set description = excluded.description, category = excluded.category
		`, id, p.Name, p.Description, p.Category); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *permissionStore) List(ctx context.Context, category string) ([]auth.Permission, error) {
	query := `
		select id, name, description, category, created_at
		from permissions
	`
	var args []any
	if category != "" {
		query += ` where category = $1`
		args = append(args, category)
	}
	query += ` order by name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *permissionStore) Find(ctx context.Context, id string) (*auth.Permission, error) {
	var p auth.Permission
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, category, created_at
		from permissions
		where id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// NamesForUser is the effective-grant query: the distinct union of
// permission names across every role the user holds.
func (s *permissionStore) NamesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.name
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		join user_roles ur on ur.role_id = rp.role_id
		where ur.user_id = $1
		order by p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

func scanRole(row rowScanner) (*auth.Role, error) {
	var (
		r      auth.Role
		school sql.NullString
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &school, &r.IsSystemRole, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.SchoolID = ptrIfValid(school)
	return &r, nil
}

func collectPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	var result []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
