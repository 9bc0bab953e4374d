package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drops-miner-backend/internal/common/notify"
	"drops-miner-backend/internal/features/campaign/models"
	"drops-miner-backend/internal/repository"
)

type fakeClaimer struct {
	mu     sync.Mutex
	calls  []string
	accept bool
}

func (f *fakeClaimer) Claim(ctx context.Context, campaignID, rewardID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, campaignID+"/"+rewardID)
	return f.accept
}

type fakeClaimLog struct {
	mu      sync.Mutex
	records []repository.ClaimRecord
}

func (f *fakeClaimLog) Record(ctx context.Context, rec repository.ClaimRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeClaimLog) Recent(ctx context.Context, limit int) ([]repository.ClaimRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.ClaimRecord{}, f.records...), nil
}

func (f *fakeClaimLog) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(title, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, title+": "+message)
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.messages...)
}

func newTestScheduler(runtimes map[models.Platform]PlatformRuntime, claims repository.ClaimLog, settings notify.StaticSettings) *Scheduler {
	return NewScheduler(runtimes, claims, nil, settings, zerolog.Nop())
}

func TestComputeRecheckDelay(t *testing.T) {
	s := newTestScheduler(nil, nil, notify.StaticSettings{})
	defer s.cancel()

	session := models.WatchSession{CampaignID: "c1", Platform: models.PlatformTwitch}
	s.sessions[models.PlatformTwitch] = &session

	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID: "c1",
		Rewards: []models.Reward{{RequiredMinutes: 60, ProgressMinutes: 56}},
	}}
	assert.Equal(t, 4*time.Minute, s.computeRecheckDelayLocked(false))

	// Never recheck more often than the floor.
	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID: "c1",
		Rewards: []models.Reward{{RequiredMinutes: 60, ProgressMinutes: 60}, {RequiredMinutes: 30, ProgressMinutes: 30}},
	}}
	assert.Equal(t, recheckFloor, s.computeRecheckDelayLocked(true))

	// No pending reward on the watched campaign falls back to the slow poll.
	assert.Equal(t, recheckFallback, func() time.Duration {
		s.campaigns[models.PlatformTwitch] = []models.Campaign{{ID: "c1"}}
		return s.computeRecheckDelayLocked(false)
	}())

	// A failed claim shortens the wait so the retry is not hours away.
	s.campaigns[models.PlatformTwitch] = []models.Campaign{{ID: "c1"}}
	assert.Equal(t, claimRetryDelay, s.computeRecheckDelayLocked(true))
}

func TestAdvanceWatchedCampaignsOnlyTouchesWatched(t *testing.T) {
	s := newTestScheduler(nil, nil, notify.StaticSettings{})
	defer s.cancel()

	session := models.WatchSession{CampaignID: "watched", Platform: models.PlatformKick}
	s.sessions[models.PlatformKick] = &session
	s.campaigns[models.PlatformKick] = []models.Campaign{
		{ID: "watched", Rewards: []models.Reward{
			{ID: "pending", RequiredMinutes: 60, ProgressMinutes: 10},
			{ID: "claimed", RequiredMinutes: 60, ProgressMinutes: 60, IsClaimed: true},
			{ID: "complete", RequiredMinutes: 30, ProgressMinutes: 30},
		}},
		{ID: "other", Rewards: []models.Reward{
			{ID: "untouched", RequiredMinutes: 60, ProgressMinutes: 10},
		}},
	}

	s.advanceWatchedCampaigns()

	watched := s.campaigns[models.PlatformKick][0]
	assert.Equal(t, 11, watched.Rewards[0].ProgressMinutes)
	assert.Equal(t, 60, watched.Rewards[1].ProgressMinutes)
	assert.Equal(t, 30, watched.Rewards[2].ProgressMinutes)

	other := s.campaigns[models.PlatformKick][1]
	assert.Equal(t, 10, other.Rewards[0].ProgressMinutes)
}

func TestClaimReadyRewards(t *testing.T) {
	claimer := &fakeClaimer{accept: true}
	claims := &fakeClaimLog{}
	runtimes := map[models.Platform]PlatformRuntime{
		models.PlatformTwitch: {Claimer: claimer},
	}
	s := newTestScheduler(runtimes, claims, notify.StaticSettings{AutoClaim: true})
	defer s.cancel()

	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID:       "c1",
		Name:     "Campaign",
		GameName: "Game",
		Rewards: []models.Reward{
			{ID: "ready", RequiredMinutes: 60, ProgressMinutes: 60, DropInstanceID: "inst-1"},
			{ID: "pending", RequiredMinutes: 60, ProgressMinutes: 30},
		},
	}}

	failed := s.claimReadyRewards()
	assert.False(t, failed)

	// Claim went out with the drop instance id, not the reward id.
	require.Len(t, claimer.calls, 1)
	assert.Equal(t, "c1/inst-1", claimer.calls[0])

	// The snapshot reflects the claim and the log recorded it.
	assert.True(t, s.campaigns[models.PlatformTwitch][0].Rewards[0].IsClaimed)
	assert.False(t, s.campaigns[models.PlatformTwitch][0].Rewards[1].IsClaimed)
	require.Len(t, claims.records, 1)
	assert.Equal(t, "ready", claims.records[0].RewardID)
}

func TestClaimFallsBackToRewardID(t *testing.T) {
	claimer := &fakeClaimer{accept: true}
	runtimes := map[models.Platform]PlatformRuntime{
		models.PlatformKick: {Claimer: claimer},
	}
	s := newTestScheduler(runtimes, &fakeClaimLog{}, notify.StaticSettings{AutoClaim: true})
	defer s.cancel()

	s.campaigns[models.PlatformKick] = []models.Campaign{{
		ID: "c1",
		Rewards: []models.Reward{
			{ID: "r1", RequiredMinutes: 60, ProgressMinutes: 60},
		},
	}}

	s.claimReadyRewards()
	require.Len(t, claimer.calls, 1)
	assert.Equal(t, "c1/r1", claimer.calls[0])
}

func TestClaimFailureReported(t *testing.T) {
	claimer := &fakeClaimer{accept: false}
	runtimes := map[models.Platform]PlatformRuntime{
		models.PlatformTwitch: {Claimer: claimer},
	}
	s := newTestScheduler(runtimes, &fakeClaimLog{}, notify.StaticSettings{AutoClaim: true})
	defer s.cancel()

	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID: "c1",
		Rewards: []models.Reward{
			{ID: "r1", RequiredMinutes: 60, ProgressMinutes: 60},
		},
	}}

	failed := s.claimReadyRewards()
	assert.True(t, failed)
	// A rejected claim leaves the reward unclaimed for the next attempt.
	assert.False(t, s.campaigns[models.PlatformTwitch][0].Rewards[0].IsClaimed)
}

func TestClaimSkippedWhenAutoClaimDisabled(t *testing.T) {
	claimer := &fakeClaimer{accept: true}
	runtimes := map[models.Platform]PlatformRuntime{
		models.PlatformTwitch: {Claimer: claimer},
	}
	s := newTestScheduler(runtimes, &fakeClaimLog{}, notify.StaticSettings{AutoClaim: false})
	defer s.cancel()

	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID: "c1",
		Rewards: []models.Reward{
			{ID: "r1", RequiredMinutes: 60, ProgressMinutes: 60},
		},
	}}

	assert.False(t, s.claimReadyRewards())
	assert.Empty(t, claimer.calls)
}

func TestReadyNotificationWhenAutoClaimDisabled(t *testing.T) {
	claimer := &fakeClaimer{accept: true}
	notifier := &fakeNotifier{}
	runtimes := map[models.Platform]PlatformRuntime{
		models.PlatformTwitch: {Claimer: claimer},
	}
	s := NewScheduler(runtimes, &fakeClaimLog{}, notifier,
		notify.StaticSettings{AutoClaim: false, NotifyReady: true}, zerolog.Nop())
	defer s.cancel()

	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID: "c1",
		Rewards: []models.Reward{
			{ID: "r1", RequiredMinutes: 60, ProgressMinutes: 60},
			{ID: "r2", RequiredMinutes: 60, ProgressMinutes: 60},
		},
	}}

	assert.False(t, s.claimReadyRewards())

	// One aggregate heads-up, no claim traffic, rewards left alone.
	assert.Empty(t, claimer.calls)
	require.Len(t, notifier.sent(), 1)
	assert.Contains(t, notifier.sent()[0], "Rewards ready")
	assert.Contains(t, notifier.sent()[0], "2 reward(s)")
	assert.False(t, s.campaigns[models.PlatformTwitch][0].Rewards[0].IsClaimed)
}

func TestNoReadyNotificationWhenNotifyDisabled(t *testing.T) {
	notifier := &fakeNotifier{}
	s := NewScheduler(nil, &fakeClaimLog{}, notifier,
		notify.StaticSettings{AutoClaim: false, NotifyReady: false}, zerolog.Nop())
	defer s.cancel()

	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID: "c1",
		Rewards: []models.Reward{
			{ID: "r1", RequiredMinutes: 60, ProgressMinutes: 60},
		},
	}}

	assert.False(t, s.claimReadyRewards())
	assert.Empty(t, notifier.sent())
}

func TestClaimSuccessNotifiesWithoutNotifyReady(t *testing.T) {
	claimer := &fakeClaimer{accept: true}
	notifier := &fakeNotifier{}
	runtimes := map[models.Platform]PlatformRuntime{
		models.PlatformTwitch: {Claimer: claimer},
	}
	s := NewScheduler(runtimes, &fakeClaimLog{}, notifier,
		notify.StaticSettings{AutoClaim: true, NotifyReady: false}, zerolog.Nop())
	defer s.cancel()

	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID:       "c1",
		GameName: "Game",
		Rewards: []models.Reward{
			{ID: "r1", Name: "Reward", RequiredMinutes: 60, ProgressMinutes: 60},
		},
	}}

	assert.False(t, s.claimReadyRewards())
	require.Len(t, notifier.sent(), 1)
	assert.Contains(t, notifier.sent()[0], "Reward claimed")
}

func TestClaimFailureEmitsRetryWarning(t *testing.T) {
	claimer := &fakeClaimer{accept: false}
	notifier := &fakeNotifier{}
	runtimes := map[models.Platform]PlatformRuntime{
		models.PlatformTwitch: {Claimer: claimer},
	}
	s := NewScheduler(runtimes, &fakeClaimLog{}, notifier,
		notify.StaticSettings{AutoClaim: true}, zerolog.Nop())
	defer s.cancel()

	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID: "c1",
		Rewards: []models.Reward{
			{ID: "r1", RequiredMinutes: 60, ProgressMinutes: 60},
		},
	}}

	assert.True(t, s.claimReadyRewards())
	require.Len(t, notifier.sent(), 1)
	assert.Contains(t, notifier.sent()[0], "Claim failed")
	assert.Contains(t, notifier.sent()[0], "retrying in 5 minutes")
}

func TestSetupPlatformRefreshesAfterScripts(t *testing.T) {
	host := &scriptHost{results: map[string]string{}}
	rt := PlatformRuntime{
		Host: host,
		Scripts: PageScripts{
			DismissGate:     "dismiss()",
			ForceLowQuality: "pinQuality()",
		},
	}
	runtimes := map[models.Platform]PlatformRuntime{models.PlatformTwitch: rt}
	s := newTestScheduler(runtimes, nil, notify.StaticSettings{})
	s.settle = 0
	defer s.cancel()

	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID:          "c1",
		Rewards:     []models.Reward{{ID: "r1", RequiredMinutes: 60, ProgressMinutes: 10}},
		ConnectURLs: []string{"https://example.test/channel"},
	}}

	s.setupPlatform(models.PlatformTwitch, rt)

	// The page is reloaded after the scripts so the pinned settings apply.
	assert.Equal(t, []string{
		"navigate https://example.test/channel",
		"script",
		"script",
		"navigate https://example.test/channel",
	}, host.operations())
	require.NotNil(t, s.sessions[models.PlatformTwitch])
	assert.Equal(t, "c1", s.sessions[models.PlatformTwitch].CampaignID)
}

func TestEvaluateAfterStopIsNoOp(t *testing.T) {
	s := newTestScheduler(nil, nil, notify.StaticSettings{})
	s.Stop()

	s.Evaluate("after shutdown")
	assert.False(t, s.evaluating.Load())
	assert.Equal(t, StateIdle, s.state)
}

func TestStatusSnapshot(t *testing.T) {
	s := newTestScheduler(nil, nil, notify.StaticSettings{})
	defer s.cancel()

	s.state = StateMining
	session := models.WatchSession{
		ID:         "sess",
		CampaignID: "c1",
		Platform:   models.PlatformTwitch,
	}
	s.sessions[models.PlatformTwitch] = &session
	s.campaigns[models.PlatformTwitch] = []models.Campaign{{
		ID:       "c1",
		Name:     "Campaign",
		GameName: "Game",
		Rewards:  []models.Reward{{RequiredMinutes: 60, ProgressMinutes: 30}},
	}}

	snap := s.Status()
	assert.Equal(t, StateMining, snap.State)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "Campaign", snap.Sessions[0].CampaignName)
	assert.Equal(t, 50, snap.Sessions[0].CompletionPercent)
	assert.Equal(t, 30, snap.Sessions[0].MinutesToNext)
}

func TestSubscribeObservesStateChanges(t *testing.T) {
	s := newTestScheduler(nil, nil, notify.StaticSettings{})
	defer s.cancel()

	ch := s.Subscribe()
	s.setState(StateEvaluating)
	s.setState(StateMining)

	assert.Equal(t, StateEvaluating, <-ch)
	assert.Equal(t, StateMining, <-ch)
}
