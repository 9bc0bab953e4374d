package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"drops-miner-backend/internal/common/apperr"
	"drops-miner-backend/internal/features/campaign/models"
	"drops-miner-backend/internal/platform/twitch"
)

const (
	dashboardOperation = "ViewerDropsDashboard"
	detailsOperation   = "DropCampaignDetails"
)

// DropsAPI is the slice of the credential broker the catalog needs.
type DropsAPI interface {
	Query(ctx context.Context, operation string, variables map[string]interface{}) (json.RawMessage, error)
	QueryBatch(ctx context.Context, operation string, requests []twitch.BatchRequest) (map[string]json.RawMessage, error)
}

// TwitchCatalog lists campaigns through the GraphQL API: one dashboard
// query for the campaign list plus the viewer's inventory, then a batched
// details query for channel allowlists and reward timings.
type TwitchCatalog struct {
	api DropsAPI
	log zerolog.Logger
}

func NewTwitchCatalog(api DropsAPI, log zerolog.Logger) *TwitchCatalog {
	return &TwitchCatalog{api: api, log: log}
}

func (c *TwitchCatalog) Platform() models.Platform {
	return models.PlatformTwitch
}

type dashboardCampaign struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Game   struct {
		Name      string `json:"name"`
		BoxArtURL string `json:"boxArtURL"`
	} `json:"game"`
	Self struct {
		IsAccountConnected bool `json:"isAccountConnected"`
	} `json:"self"`
}

type inventoryDrop struct {
	ID             string `json:"id"`
	TimeBasedDrops []struct {
		ID   string `json:"id"`
		Self struct {
			CurrentMinutesWatched int    `json:"currentMinutesWatched"`
			IsClaimed             bool   `json:"isClaimed"`
			DropInstanceID        string `json:"dropInstanceID"`
		} `json:"self"`
	} `json:"timeBasedDrops"`
}

type detailsCampaign struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	StartAt time.Time `json:"startAt"`
	EndAt   time.Time `json:"endAt"`
	Game    struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		Slug        string `json:"slug"`
		BoxArtURL   string `json:"boxArtURL"`
	} `json:"game"`
	Allow struct {
		Channels []struct {
			Name string `json:"name"`
		} `json:"channels"`
	} `json:"allow"`
	TimeBasedDrops []struct {
		ID                     string `json:"id"`
		Name                   string `json:"name"`
		RequiredMinutesWatched int    `json:"requiredMinutesWatched"`
		BenefitEdges           []struct {
			Benefit struct {
				Name     string `json:"name"`
				ImageURL string `json:"imageAssetURL"`
			} `json:"benefit"`
		} `json:"benefitEdges"`
	} `json:"timeBasedDrops"`
}

func (c *TwitchCatalog) Active(ctx context.Context) ([]models.Campaign, error) {
	data, err := c.api.Query(ctx, dashboardOperation, map[string]interface{}{"fetchRewardCampaigns": false})
	if err != nil {
		return nil, err
	}

	var dashboard struct {
		CurrentUser struct {
			Inventory struct {
				DropCampaignsInProgress []inventoryDrop `json:"dropCampaignsInProgress"`
			} `json:"inventory"`
			DropCampaigns []dashboardCampaign `json:"dropCampaigns"`
		} `json:"currentUser"`
	}
	if err := json.Unmarshal(data, &dashboard); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeExternalAPI, "dashboard decode failed")
	}

	var requests []twitch.BatchRequest
	for _, dc := range dashboard.CurrentUser.DropCampaigns {
		if dc.Status != "ACTIVE" || !dc.Self.IsAccountConnected {
			continue
		}
		requests = append(requests, twitch.BatchRequest{
			ID:        dc.ID,
			Variables: map[string]interface{}{"dropID": dc.ID, "channelLogin": ""},
		})
	}
	if len(requests) == 0 {
		return []models.Campaign{}, nil
	}

	detailsByID, err := c.api.QueryBatch(ctx, detailsOperation, requests)
	if err != nil {
		return nil, err
	}

	inventory := make(map[string]inventoryDrop, len(dashboard.CurrentUser.Inventory.DropCampaignsInProgress))
	for _, inv := range dashboard.CurrentUser.Inventory.DropCampaignsInProgress {
		inventory[inv.ID] = inv
	}

	campaigns := make([]models.Campaign, 0, len(detailsByID))
	for _, req := range requests {
		raw, ok := detailsByID[req.ID]
		if !ok {
			c.log.Warn().Str("campaign_id", req.ID).Msg("details missing from batch response")
			continue
		}
		var payload struct {
			User struct {
				DropCampaign *detailsCampaign `json:"dropCampaign"`
			} `json:"user"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil || payload.User.DropCampaign == nil {
			c.log.Warn().Err(err).Str("campaign_id", req.ID).Msg("malformed campaign details")
			continue
		}
		campaign := buildTwitchCampaign(*payload.User.DropCampaign, inventory[req.ID])
		if len(campaign.Rewards) == 0 {
			c.log.Debug().Str("campaign_id", req.ID).Msg("skipping campaign without rewards")
			continue
		}
		campaigns = append(campaigns, campaign)
	}

	models.SortByGameName(campaigns)
	return campaigns, nil
}

func buildTwitchCampaign(dc detailsCampaign, inv inventoryDrop) models.Campaign {
	progress := make(map[string]struct {
		minutes  int
		claimed  bool
		instance string
	}, len(inv.TimeBasedDrops))
	for _, d := range inv.TimeBasedDrops {
		progress[d.ID] = struct {
			minutes  int
			claimed  bool
			instance string
		}{d.Self.CurrentMinutesWatched, d.Self.IsClaimed, d.Self.DropInstanceID}
	}

	rewards := make([]models.Reward, 0, len(dc.TimeBasedDrops))
	for _, drop := range dc.TimeBasedDrops {
		r := models.Reward{
			ID:              drop.ID,
			Name:            drop.Name,
			RequiredMinutes: drop.RequiredMinutesWatched,
		}
		if len(drop.BenefitEdges) > 0 {
			if r.Name == "" {
				r.Name = drop.BenefitEdges[0].Benefit.Name
			}
			r.ImageURL = drop.BenefitEdges[0].Benefit.ImageURL
		}
		if p, ok := progress[drop.ID]; ok {
			r = r.WithProgress(p.minutes)
			if p.claimed {
				r = r.Claimed()
			}
			r.DropInstanceID = p.instance
		}
		rewards = append(rewards, r)
	}

	gameName := dc.Game.DisplayName
	if gameName == "" {
		gameName = dc.Game.Name
	}

	var urls []string
	for _, ch := range dc.Allow.Channels {
		if ch.Name != "" {
			urls = append(urls, fmt.Sprintf("https://www.twitch.tv/%s", ch.Name))
		}
	}
	general := len(urls) == 0
	if general && dc.Game.Slug != "" {
		urls = append(urls, fmt.Sprintf("https://www.twitch.tv/directory/category/%s", dc.Game.Slug))
	}

	return models.Campaign{
		ID:            dc.ID,
		Name:          dc.Name,
		GameName:      gameName,
		GameImageURL:  dc.Game.BoxArtURL,
		StartsAt:      dc.StartAt,
		EndsAt:        dc.EndAt,
		Rewards:       rewards,
		Platform:      models.PlatformTwitch,
		ConnectURLs:   urls,
		IsGeneralDrop: general,
	}
}
