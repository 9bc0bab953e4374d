package service

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"drops-miner-backend/internal/repository"
)

const (
	hashPruneInterval  = 12 * time.Hour
	hashRetention      = 7 * 24 * time.Hour
	claimPruneInterval = 24 * time.Hour
	claimRetention     = 90 * 24 * time.Hour
)

// Maintenance prunes stale persisted rows on a fixed schedule. Resolved
// operation hashes rotate with client deploys, so anything older than a
// week is assumed stale.
type Maintenance struct {
	scheduler gocron.Scheduler
	hashes    repository.HashCache
	claims    repository.ClaimLog
	log       zerolog.Logger
}

func NewMaintenance(hashes repository.HashCache, claims repository.ClaimLog, log zerolog.Logger) (*Maintenance, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Maintenance{
		scheduler: sched,
		hashes:    hashes,
		claims:    claims,
		log:       log,
	}, nil
}

func (m *Maintenance) Start() error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(hashPruneInterval),
		gocron.NewTask(m.pruneHashes),
	)
	if err != nil {
		return err
	}
	_, err = m.scheduler.NewJob(
		gocron.DurationJob(claimPruneInterval),
		gocron.NewTask(m.pruneClaims),
	)
	if err != nil {
		return err
	}
	m.scheduler.Start()
	return nil
}

func (m *Maintenance) Stop() error {
	return m.scheduler.Shutdown()
}

func (m *Maintenance) pruneHashes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := m.hashes.DeleteBefore(ctx, time.Now().Add(-hashRetention))
	if err != nil {
		m.log.Warn().Err(err).Msg("hash prune failed")
		return
	}
	if n > 0 {
		m.log.Info().Int64("deleted", n).Msg("stale operation hashes pruned")
	}
}

func (m *Maintenance) pruneClaims() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := m.claims.DeleteBefore(ctx, time.Now().Add(-claimRetention))
	if err != nil {
		m.log.Warn().Err(err).Msg("claim prune failed")
		return
	}
	if n > 0 {
		m.log.Info().Int64("deleted", n).Msg("old claim records pruned")
	}
}
