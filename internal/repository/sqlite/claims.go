package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"drops-miner-backend/internal/repository"
)

// ClaimRepository records claimed rewards.
type ClaimRepository struct {
	db *sqlx.DB
}

func NewClaimRepository(db *sqlx.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

func (r *ClaimRepository) Record(ctx context.Context, rec repository.ClaimRecord) error {
	if rec.ClaimedAt.IsZero() {
		rec.ClaimedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO claims (platform, campaign_id, reward_id, reward_name, game_name, claimed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Platform, rec.CampaignID, rec.RewardID, rec.RewardName, rec.GameName, rec.ClaimedAt.UTC())
	return err
}

func (r *ClaimRepository) Recent(ctx context.Context, limit int) ([]repository.ClaimRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	recs := []repository.ClaimRecord{}
	err := r.db.SelectContext(ctx, &recs,
		`SELECT id, platform, campaign_id, reward_id, reward_name, game_name, claimed_at
		 FROM claims ORDER BY claimed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *ClaimRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM claims WHERE claimed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ repository.ClaimLog = (*ClaimRepository)(nil)
