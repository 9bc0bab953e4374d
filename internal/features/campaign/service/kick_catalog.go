package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"drops-miner-backend/internal/features/campaign/models"
	"drops-miner-backend/internal/platform/kick"
)

// KickFeed is the slice of the kick client the catalog needs.
type KickFeed interface {
	FetchCampaigns(ctx context.Context) ([]kick.FeedCampaign, error)
	FetchProgress(ctx context.Context) (map[string]map[string]kick.RewardProgress, error)
}

// KickCatalog builds the campaign list from the public feed and merges
// watch progress from the authenticated drops page.
type KickCatalog struct {
	feed KickFeed
	log  zerolog.Logger
}

func NewKickCatalog(feed KickFeed, log zerolog.Logger) *KickCatalog {
	return &KickCatalog{feed: feed, log: log}
}

func (c *KickCatalog) Platform() models.Platform {
	return models.PlatformKick
}

func (c *KickCatalog) Active(ctx context.Context) ([]models.Campaign, error) {
	raw, err := c.feed.FetchCampaigns(ctx)
	if err != nil {
		return nil, err
	}

	campaigns := make([]models.Campaign, 0, len(raw))
	for _, fc := range raw {
		if fc.Status != "active" {
			continue
		}
		if len(fc.Rewards) == 0 {
			c.log.Debug().Str("campaign_id", fc.ID).Msg("skipping campaign without rewards")
			continue
		}
		campaigns = append(campaigns, buildKickCampaign(fc))
	}

	// Progress lives behind the session; a miss degrades to feed-only data.
	progress, err := c.feed.FetchProgress(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("progress capture failed, using feed data only")
	} else {
		mergeKickProgress(campaigns, progress)
	}

	models.SortByGameName(campaigns)
	return campaigns, nil
}

func buildKickCampaign(fc kick.FeedCampaign) models.Campaign {
	rewards := make([]models.Reward, 0, len(fc.Rewards))
	for _, fr := range fc.Rewards {
		rewards = append(rewards, models.Reward{
			ID:              fr.ID,
			Name:            fr.Name,
			ImageURL:        fr.ImageURL,
			RequiredMinutes: fr.RequiredUnits,
		})
	}

	urls := make([]string, 0, len(fc.Channels))
	for _, ch := range fc.Channels {
		if ch.Slug != "" {
			urls = append(urls, fmt.Sprintf("https://kick.com/%s", ch.Slug))
		}
	}
	general := len(urls) == 0
	if general && fc.Category.Slug != "" {
		urls = append(urls, fmt.Sprintf("https://kick.com/category/%s", fc.Category.Slug))
	}

	return models.Campaign{
		ID:            fc.ID,
		Name:          fc.Name,
		GameName:      fc.Category.Name,
		GameImageURL:  fc.Category.Banner,
		Rewards:       rewards,
		Platform:      models.PlatformKick,
		ConnectURLs:   urls,
		IsGeneralDrop: general,
	}
}

func mergeKickProgress(campaigns []models.Campaign, progress map[string]map[string]kick.RewardProgress) {
	for i, camp := range campaigns {
		rewardProgress, ok := progress[camp.ID]
		if !ok {
			continue
		}
		for j, r := range camp.Rewards {
			p, ok := rewardProgress[r.ID]
			if !ok {
				continue
			}
			r = r.WithProgress(p.Units)
			if p.Claimed {
				r = r.Claimed()
			}
			camp = camp.WithReward(j, r)
		}
		campaigns[i] = camp
	}
}
