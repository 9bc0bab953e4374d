// Package kick talks to the JSON-feed platform. The campaign feed is a
// public endpoint, but progress and claiming require the authenticated
// browser session, so everything goes through the browser host.
package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"drops-miner-backend/internal/common/apperr"
	"drops-miner-backend/internal/platform/browser"
)

const (
	progressCaptureWindow   = 20 * time.Second
	progressCaptureAttempts = 3
)

// Client fetches campaigns and progress for the JSON-feed platform.
type Client struct {
	host           browser.Host
	feedURL        string
	dropsURL       string
	progressMarker string
	log            zerolog.Logger
}

func NewClient(host browser.Host, feedURL, dropsURL, progressMarker string, log zerolog.Logger) *Client {
	return &Client{
		host:           host,
		feedURL:        feedURL,
		dropsURL:       dropsURL,
		progressMarker: progressMarker,
		log:            log,
	}
}

// FeedCampaign mirrors one entry of the public campaign feed.
type FeedCampaign struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Category FeedCategory  `json:"category"`
	Rewards  []FeedReward  `json:"rewards"`
	Channels []FeedChannel `json:"channels"`
}

type FeedCategory struct {
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Banner string `json:"banner"`
}

type FeedReward struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ImageURL      string `json:"image_url"`
	RequiredUnits int    `json:"required_units"`
}

type FeedChannel struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// RewardProgress is the per-reward state from the authenticated progress
// endpoint.
type RewardProgress struct {
	Units   int
	Claimed bool
}

// FetchCampaigns loads the public campaign feed through the browser so the
// request carries the session's cookies and fingerprint.
func (c *Client) FetchCampaigns(ctx context.Context) ([]FeedCampaign, error) {
	if err := c.host.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	if err := c.host.Navigate(ctx, c.feedURL); err != nil {
		return nil, err
	}
	raw, err := c.host.ExecuteScript(ctx, "document.body.innerText")
	if err != nil {
		return nil, err
	}
	text, err := strconv.Unquote(raw)
	if err != nil {
		// Evaluate may hand back the value unquoted already.
		text = raw
	}

	var feed struct {
		Data []FeedCampaign `json:"data"`
	}
	if err := json.Unmarshal([]byte(text), &feed); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeExternalAPI, "campaign feed decode failed")
	}
	return feed.Data, nil
}

// FetchProgress reloads the drops page and captures the progress response
// the page itself fetches. Returns progress keyed by campaign id then
// reward id. A capture miss is an error the caller may tolerate.
func (c *Client) FetchProgress(ctx context.Context) (map[string]map[string]RewardProgress, error) {
	if err := c.host.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	var body string
	var err error
	for attempt := 1; attempt <= progressCaptureAttempts; attempt++ {
		if navErr := c.host.Navigate(ctx, c.dropsURL); navErr != nil {
			err = navErr
			continue
		}
		body, err = c.host.CaptureResponseMatching(ctx, c.matchProgress, progressCaptureWindow)
		if err == nil {
			break
		}
		c.log.Debug().Int("attempt", attempt).Msg("progress response not observed")
	}
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			ID      string `json:"id"`
			Rewards []struct {
				ID            string `json:"id"`
				ProgressUnits int    `json:"progress_units"`
				Claimed       bool   `json:"claimed"`
			} `json:"rewards"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeExternalAPI, "progress response decode failed")
	}

	progress := make(map[string]map[string]RewardProgress, len(resp.Data))
	for _, camp := range resp.Data {
		rewards := make(map[string]RewardProgress, len(camp.Rewards))
		for _, r := range camp.Rewards {
			rewards[r.ID] = RewardProgress{Units: r.ProgressUnits, Claimed: r.Claimed}
		}
		progress[camp.ID] = rewards
	}
	return progress, nil
}

func (c *Client) matchProgress(url, body string) bool {
	return strings.Contains(url, c.progressMarker) && strings.Contains(body, "progress_units")
}

// Claim posts the claim request from inside the page so it inherits the
// session. Never returns an error: any failure is false.
func (c *Client) Claim(ctx context.Context, campaignID, rewardID string) bool {
	script := fmt.Sprintf(`
		fetch('/api/v1/drops/claim/' + %q, {
			method: 'POST',
			headers: {'Accept': 'application/json'},
			credentials: 'include',
		}).then(r => r.ok).catch(() => false)`, rewardID)

	raw, err := c.host.ExecuteScript(ctx, script)
	if err != nil {
		c.log.Warn().Err(err).Str("campaign_id", campaignID).Str("reward_id", rewardID).Msg("claim script failed")
		return false
	}
	var ok bool
	if err := json.Unmarshal([]byte(raw), &ok); err != nil {
		return false
	}
	if !ok {
		c.log.Warn().Str("campaign_id", campaignID).Str("reward_id", rewardID).Msg("claim rejected")
	}
	return ok
}
