package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"drops-miner-backend/internal/repository"
)

// HashRepository persists resolved persisted-query hashes.
type HashRepository struct {
	db *sqlx.DB
}

func NewHashRepository(db *sqlx.DB) *HashRepository {
	return &HashRepository{db: db}
}

func (r *HashRepository) Get(ctx context.Context, operation string) (string, error) {
	var hash string
	err := r.db.GetContext(ctx, &hash,
		`SELECT hash FROM operation_hashes WHERE operation = ?`, operation)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (r *HashRepository) Put(ctx context.Context, operation, hash string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO operation_hashes (operation, hash, resolved_at) VALUES (?, ?, ?)
		 ON CONFLICT(operation) DO UPDATE SET hash = excluded.hash, resolved_at = excluded.resolved_at`,
		operation, hash, time.Now().UTC())
	return err
}

func (r *HashRepository) Delete(ctx context.Context, operation string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM operation_hashes WHERE operation = ?`, operation)
	return err
}

func (r *HashRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM operation_hashes WHERE resolved_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ repository.HashCache = (*HashRepository)(nil)
