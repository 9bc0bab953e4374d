package service

import (
	"context"

	"drops-miner-backend/internal/features/campaign/models"
)

// Provider lists the active campaigns of one platform, with per-reward
// progress already merged in where the platform exposes it.
type Provider interface {
	Platform() models.Platform
	Active(ctx context.Context) ([]models.Campaign, error)
}
