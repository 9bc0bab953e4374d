package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drops-miner-backend/internal/features/campaign/models"
	"drops-miner-backend/internal/platform/twitch"
)

type fakeDropsAPI struct {
	dashboard json.RawMessage
	details   map[string]json.RawMessage

	batchRequests []twitch.BatchRequest
}

func (f *fakeDropsAPI) Query(ctx context.Context, operation string, variables map[string]interface{}) (json.RawMessage, error) {
	return f.dashboard, nil
}

func (f *fakeDropsAPI) QueryBatch(ctx context.Context, operation string, requests []twitch.BatchRequest) (map[string]json.RawMessage, error) {
	f.batchRequests = requests
	return f.details, nil
}

func dashboardJSON(campaigns, inventory string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"currentUser":{"inventory":{"dropCampaignsInProgress":%s},"dropCampaigns":%s}}`,
		inventory, campaigns))
}

func detailsJSON(id, game, slug string, channels []string) json.RawMessage {
	chans := "[]"
	if len(channels) > 0 {
		b, _ := json.Marshal(func() []map[string]string {
			out := make([]map[string]string, len(channels))
			for i, c := range channels {
				out[i] = map[string]string{"name": c}
			}
			return out
		}())
		chans = string(b)
	}
	return json.RawMessage(fmt.Sprintf(
		`{"user":{"dropCampaign":{
			"id":%q,"name":"Campaign",
			"game":{"displayName":%q,"slug":%q},
			"allow":{"channels":%s},
			"timeBasedDrops":[{"id":"drop-1","name":"Reward","requiredMinutesWatched":60}]
		}}}`, id, game, slug, chans))
}

func TestTwitchCatalogFiltersByStatusAndConnection(t *testing.T) {
	api := &fakeDropsAPI{
		dashboard: dashboardJSON(`[
			{"id":"c1","status":"ACTIVE","self":{"isAccountConnected":true},"game":{"name":"Game"}},
			{"id":"c2","status":"EXPIRED","self":{"isAccountConnected":true},"game":{"name":"Game"}},
			{"id":"c3","status":"ACTIVE","self":{"isAccountConnected":false},"game":{"name":"Game"}}
		]`, `[]`),
		details: map[string]json.RawMessage{
			"c1": detailsJSON("c1", "Game", "game", []string{"streamer"}),
		},
	}

	catalog := NewTwitchCatalog(api, zerolog.Nop())
	campaigns, err := catalog.Active(context.Background())
	require.NoError(t, err)

	require.Len(t, api.batchRequests, 1)
	assert.Equal(t, "c1", api.batchRequests[0].ID)
	require.Len(t, campaigns, 1)
	assert.Equal(t, models.PlatformTwitch, campaigns[0].Platform)
}

func TestTwitchCatalogChannelAllowlistAndGeneralDrop(t *testing.T) {
	api := &fakeDropsAPI{
		dashboard: dashboardJSON(`[
			{"id":"pinned","status":"ACTIVE","self":{"isAccountConnected":true}},
			{"id":"general","status":"ACTIVE","self":{"isAccountConnected":true}}
		]`, `[]`),
		details: map[string]json.RawMessage{
			"pinned":  detailsJSON("pinned", "Game A", "game-a", []string{"streamer-one"}),
			"general": detailsJSON("general", "Game B", "game-b", nil),
		},
	}

	catalog := NewTwitchCatalog(api, zerolog.Nop())
	campaigns, err := catalog.Active(context.Background())
	require.NoError(t, err)
	require.Len(t, campaigns, 2)

	byID := map[string]models.Campaign{}
	for _, c := range campaigns {
		byID[c.ID] = c
	}

	pinned := byID["pinned"]
	assert.False(t, pinned.IsGeneralDrop)
	assert.Equal(t, []string{"https://www.twitch.tv/streamer-one"}, pinned.ConnectURLs)

	general := byID["general"]
	assert.True(t, general.IsGeneralDrop)
	assert.Equal(t, []string{"https://www.twitch.tv/directory/category/game-b"}, general.ConnectURLs)
}

func TestTwitchCatalogMergesInventoryProgress(t *testing.T) {
	api := &fakeDropsAPI{
		dashboard: dashboardJSON(
			`[{"id":"c1","status":"ACTIVE","self":{"isAccountConnected":true}}]`,
			`[{"id":"c1","timeBasedDrops":[
				{"id":"drop-1","self":{"currentMinutesWatched":42,"isClaimed":false,"dropInstanceID":"inst-1"}}
			]}]`),
		details: map[string]json.RawMessage{
			"c1": detailsJSON("c1", "Game", "game", []string{"streamer"}),
		},
	}

	catalog := NewTwitchCatalog(api, zerolog.Nop())
	campaigns, err := catalog.Active(context.Background())
	require.NoError(t, err)
	require.Len(t, campaigns, 1)

	reward := campaigns[0].Rewards[0]
	assert.Equal(t, 42, reward.ProgressMinutes)
	assert.Equal(t, "inst-1", reward.DropInstanceID)
	assert.False(t, reward.IsClaimed)
}

func TestTwitchCatalogSkipsMalformedDetails(t *testing.T) {
	api := &fakeDropsAPI{
		dashboard: dashboardJSON(`[
			{"id":"good","status":"ACTIVE","self":{"isAccountConnected":true}},
			{"id":"broken","status":"ACTIVE","self":{"isAccountConnected":true}},
			{"id":"missing","status":"ACTIVE","self":{"isAccountConnected":true}}
		]`, `[]`),
		details: map[string]json.RawMessage{
			"good":   detailsJSON("good", "Game", "game", []string{"streamer"}),
			"broken": json.RawMessage(`{"user":{"dropCampaign":null}}`),
		},
	}

	catalog := NewTwitchCatalog(api, zerolog.Nop())
	campaigns, err := catalog.Active(context.Background())
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, "good", campaigns[0].ID)
}
