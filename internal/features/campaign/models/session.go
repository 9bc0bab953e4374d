package models

import (
	"time"

	"github.com/google/uuid"
)

// WatchSession tracks the live counters for the campaign a platform is
// currently watching. At most one exists per platform; the scheduler
// replaces it on every re-evaluation.
type WatchSession struct {
	ID             string    `json:"id"`
	CampaignID     string    `json:"campaign_id"`
	Platform       Platform  `json:"platform"`
	SelectedURL    string    `json:"selected_url"`
	WatchedSeconds int64     `json:"watched_seconds"`
	StartedAt      time.Time `json:"started_at"`
}

// NewWatchSession starts a session for the given campaign. The watched
// counter resumes from the server-known progress rather than zero.
func NewWatchSession(c Campaign, selectedURL string) WatchSession {
	return WatchSession{
		ID:             uuid.New().String(),
		CampaignID:     c.ID,
		Platform:       c.Platform,
		SelectedURL:    selectedURL,
		WatchedSeconds: c.AccumulatedSeconds(),
		StartedAt:      time.Now(),
	}
}
