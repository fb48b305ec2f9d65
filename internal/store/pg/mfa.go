package pg

import (
	"context"
	"database/sql"
	"time"

	"maktab.org/internal/auth"
	"maktab.org/internal/ids"
)

type recoveryCodeStore struct {
	db *sql.DB
}

func (s *recoveryCodeStore) Replace(ctx context.Context, userID string, codeHashes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from mfa_recovery_codes where user_id = $1`, userID); err != nil {
		return err
	}
	for _, hash := range codeHashes {
		if _, err := tx.ExecContext(ctx, `
			insert into mfa_recovery_codes (id, user_id, code_hash, used, created_at)
			values ($1, $2, $3, false, now())
		`, ids.New(), userID, hash); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return auth.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

// Consume locks the user's unused codes, runs the verify callback over each
// hash, and marks the first match used before committing. The row locks mean
// two concurrent submissions of the same code serialize; the second finds it
// already used.
func (s *recoveryCodeStore) Consume(ctx context.Context, userID string, verify func(codeHash string) bool, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		select id, code_hash
		from mfa_recovery_codes
		where user_id = $1 and not used
		order by created_at
		for update
	`, userID)
	if err != nil {
		return false, err
	}

	var matchedID string
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			rows.Close()
			return false, err
		}
		if matchedID == "" && verify(hash) {
			matchedID = id
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return false, err
	}
	rows.Close()

	if matchedID == "" {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `
		update mfa_recovery_codes
		set used = true, used_at = $2
		where id = $1
	`, matchedID, now); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *recoveryCodeStore) DeleteForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from mfa_recovery_codes where user_id = $1`, userID)
	return err
}
