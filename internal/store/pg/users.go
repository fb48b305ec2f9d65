package pg

import (
	"context"
	"database/sql"
	"errors"

	"maktab.org/internal/auth"
)

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, password_hash, role, school_id, mfa_enabled, mfa_secret, created_at, updated_at`

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where lower(email) = lower($1)
	`, email)
	return scanUser(row)
}

func (s *userStore) SetMfaSecret(ctx context.Context, userID, secret string) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set mfa_secret = $2, updated_at = now()
		where id = $1
	`, userID, secret)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) EnableMfa(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set mfa_enabled = true, updated_at = now()
		where id = $1 and mfa_secret is not null
	`, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) DisableMfa(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set mfa_enabled = false, mfa_secret = null, updated_at = now()
		where id = $1
	`, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u      auth.User
		school sql.NullString
		secret sql.NullString
		role   string
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &school, &u.MfaEnabled, &secret, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = auth.RoleLevel(role)
	u.SchoolID = ptrIfValid(school)
	u.MfaSecret = ptrIfValid(secret)
	return &u, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
