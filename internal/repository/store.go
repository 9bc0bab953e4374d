// Package repository defines the local persistence contracts: the
// persisted-query hash cache and the claim history log.
package repository

import (
	"context"
	"time"
)

// OperationHash is a cached persisted-query identifier for a GraphQL
// operation.
type OperationHash struct {
	Operation  string    `db:"operation"`
	Hash       string    `db:"hash"`
	ResolvedAt time.Time `db:"resolved_at"`
}

// HashCache stores resolved persisted-query hashes across restarts so the
// broker can skip the capture dance for known operations.
type HashCache interface {
	// Get returns the cached hash for operation, or "" when absent.
	Get(ctx context.Context, operation string) (string, error)
	Put(ctx context.Context, operation, hash string) error
	Delete(ctx context.Context, operation string) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClaimRecord is one successfully claimed reward.
type ClaimRecord struct {
	ID         int64     `db:"id"`
	Platform   string    `db:"platform"`
	CampaignID string    `db:"campaign_id"`
	RewardID   string    `db:"reward_id"`
	RewardName string    `db:"reward_name"`
	GameName   string    `db:"game_name"`
	ClaimedAt  time.Time `db:"claimed_at"`
}

// ClaimLog records claimed rewards for the status API.
type ClaimLog interface {
	Record(ctx context.Context, rec ClaimRecord) error
	Recent(ctx context.Context, limit int) ([]ClaimRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
