package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daybook-io/daybook-auth/internal/domain/models"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// SessionRecordRepository persists the session records that link refresh
// rotation ids to revocable server-side state. refresh_rotation_id carries a
// unique constraint; a collision there means two refresh flows raced and
// exactly one may win.
type SessionRecordRepository struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewSessionRecordRepository creates a repository over the shared pool.
func NewSessionRecordRepository(db *DBConnection, log logger.Logger) *SessionRecordRepository {
	return &SessionRecordRepository{pool: db.Pool(), log: log.WithComponent("session-records")}
}

// Migrate creates the backing table. Safe to run repeatedly.
func (r *SessionRecordRepository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS auth_session_records (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL,
			refresh_rotation_id TEXT NOT NULL UNIQUE,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			revoked_at          TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_auth_session_records_user_id
			ON auth_session_records (user_id);
	`)
	return err
}

// Create inserts a new session record.
func (r *SessionRecordRepository) Create(ctx context.Context, rec *models.SessionRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auth_session_records (id, user_id, refresh_rotation_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, rec.ID, rec.UserID, rec.RefreshRotationID, rec.CreatedAt)
	if isUniqueViolation(err) {
		return errors.ErrRotationConflict
	}
	return err
}

// GetByRotationID loads the record holding the given refresh rotation id.
func (r *SessionRecordRepository) GetByRotationID(ctx context.Context, rotationID string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, refresh_rotation_id, created_at, revoked_at
		FROM auth_session_records
		WHERE refresh_rotation_id = $1
	`, rotationID).Scan(&rec.ID, &rec.UserID, &rec.RefreshRotationID, &rec.CreatedAt, &rec.RevokedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("load session record: %w", err)
	}
	return &rec, nil
}

// RotateRotationID swaps the rotation id in a compare-and-set update: the
// write only lands if the record still holds the expected old id and is not
// revoked. A raced or revoked record reports ErrRotationConflict.
func (r *SessionRecordRepository) RotateRotationID(ctx context.Context, recordID, oldRotationID, newRotationID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE auth_session_records
		SET refresh_rotation_id = $1
		WHERE id = $2 AND refresh_rotation_id = $3 AND revoked_at IS NULL
	`, newRotationID, recordID, oldRotationID)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrRotationConflict
		}
		return fmt.Errorf("rotate rotation id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrRotationConflict
	}
	return nil
}

// Revoke marks a single record revoked.
func (r *SessionRecordRepository) Revoke(ctx context.Context, recordID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE auth_session_records
		SET revoked_at = $1
		WHERE id = $2 AND revoked_at IS NULL
	`, time.Now().UTC(), recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// RevokeAllForUser marks every live record for the user revoked and returns
// how many were affected.
func (r *SessionRecordRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE auth_session_records
		SET revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL
	`, time.Now().UTC(), userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes records created before the cutoff. Returns the
// number of rows removed; intended for a periodic janitor.
func (r *SessionRecordRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM auth_session_records WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}
