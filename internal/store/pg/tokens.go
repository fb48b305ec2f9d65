package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"maktab.org/internal/auth"
	"maktab.org/internal/ids"
)

type refreshTokenStore struct {
	db *sql.DB
}

func (s *refreshTokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token, expires_at, revoked, created_at)
		values ($1, $2, $3, $4, false, now())
	`, tok.ID, tok.UserID, tok.Token, tok.ExpiresAt)
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

// Rotate performs the whole exchange inside one transaction. The select
// takes a row lock on the old token, so of two concurrent rotations one
// blocks until the other commits and then sees the revoked flag.
func (s *refreshTokenStore) Rotate(ctx context.Context, oldToken, newToken string, expiresAt, now time.Time) (*auth.RefreshToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		oldID     string
		userID    string
		oldExpiry time.Time
		revoked   bool
	)
	err = tx.QueryRowContext(ctx, `
		select id, user_id, expires_at, revoked
		from refresh_tokens
		where token = $1
		for update
	`, oldToken).Scan(&oldID, &userID, &oldExpiry, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, auth.ErrTokenRevoked
	}
	if !oldExpiry.After(now) {
		return nil, auth.ErrTokenExpired
	}

	if _, err := tx.ExecContext(ctx, `
		update refresh_tokens
		set revoked = true
		where id = $1
	`, oldID); err != nil {
		return nil, err
	}

	next := &auth.RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		Token:     newToken,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token, expires_at, revoked, created_at)
		values ($1, $2, $3, $4, false, $5)
	`, next.ID, next.UserID, next.Token, next.ExpiresAt, next.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, auth.ErrConflict
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked = true
		where user_id = $1 and not revoked
	`, userID)
	return err
}
