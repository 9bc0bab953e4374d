package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"drops-miner-backend/internal/common/apperr"
	"drops-miner-backend/internal/common/notify"
	"drops-miner-backend/internal/features/campaign/models"
	campaignsvc "drops-miner-backend/internal/features/campaign/service"
	"drops-miner-backend/internal/platform/browser"
	"drops-miner-backend/internal/repository"
)

// State is the scheduler's externally visible mode.
type State string

const (
	StateIdle       State = "idle"
	StateEvaluating State = "evaluating"
	StateMining     State = "mining"
)

// Claimer fires a claim for one reward and reports acceptance. Claim
// failures are expected and never fatal.
type Claimer interface {
	Claim(ctx context.Context, campaignID, rewardID string) bool
}

// PageScripts are the platform-specific snippets the scheduler runs on
// watch pages. Empty fields disable the corresponding step.
type PageScripts struct {
	// ResolveLive runs on a category page and resolves to the URL of a
	// live channel, or an empty string.
	ResolveLive string
	// DismissGate clears content-rating overlays blocking playback.
	DismissGate string
	// ForceLowQuality pins the player to its lowest rendition.
	ForceLowQuality string
	// LiveCheck resolves to true while the watched stream is live.
	LiveCheck string
}

// PlatformRuntime bundles everything the scheduler needs for one platform.
type PlatformRuntime struct {
	Provider campaignsvc.Provider
	Host     browser.Host
	Claimer  Claimer
	Scripts  PageScripts
}

// ProgressSnapshot is the per-platform view exposed over the status API.
type ProgressSnapshot struct {
	State    State             `json:"state"`
	Sessions []SessionSnapshot `json:"sessions"`
	Updated  time.Time         `json:"updated_at"`
}

type SessionSnapshot struct {
	Session           models.WatchSession `json:"session"`
	CampaignName      string              `json:"campaign_name"`
	GameName          string              `json:"game_name"`
	CompletionPercent int                 `json:"completion_percent"`
	NextRewardPercent int                 `json:"next_reward_percent"`
	MinutesToNext     int                 `json:"minutes_to_next_reward"`
}

// Scheduler owns campaign selection, watch sessions and re-evaluation
// timing across all platforms. All shared state sits behind one mutex;
// cycles are serialized by an atomic guard so an evaluation triggered while
// another runs is simply dropped.
type Scheduler struct {
	runtimes map[models.Platform]PlatformRuntime
	claims   repository.ClaimLog
	notifier notify.Notifier
	settings notify.Settings
	log      zerolog.Logger

	mu         sync.Mutex
	campaigns  map[models.Platform][]models.Campaign
	sessions   map[models.Platform]*models.WatchSession
	state      State
	recheck    *time.Timer
	tickStop   context.CancelFunc
	healthStop context.CancelFunc
	observers  []chan State
	closed     bool

	evaluating atomic.Bool
	wg         sync.WaitGroup
	settle     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(
	runtimes map[models.Platform]PlatformRuntime,
	claims repository.ClaimLog,
	notifier notify.Notifier,
	settings notify.Settings,
	log zerolog.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runtimes:  runtimes,
		claims:    claims,
		notifier:  notifier,
		settings:  settings,
		log:       log,
		campaigns: make(map[models.Platform][]models.Campaign),
		sessions:  make(map[models.Platform]*models.WatchSession),
		state:     StateIdle,
		settle:    settleDelay,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start kicks off the first evaluation.
func (s *Scheduler) Start() {
	s.log.Info().Int("platforms", len(s.runtimes)).Msg("scheduler starting")
	s.Evaluate("startup")
}

// Stop cancels all timers and background loops and waits for the running
// cycle, if any, to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.stopTimersLocked()
	for _, ch := range s.observers {
		close(ch)
	}
	s.observers = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// Evaluate requests a full re-evaluation cycle. Concurrent requests
// collapse into the one already running. The closed check and wg.Add happen
// under the lock so a timer firing during Stop cannot race the final Wait.
func (s *Scheduler) Evaluate(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.evaluating.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.log.Debug().Str("reason", reason).Msg("evaluation already in progress")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		defer s.evaluating.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Msg("evaluation cycle panicked")
				s.setState(StateIdle)
			}
		}()
		s.runCycle(reason)
	}()
}

func (s *Scheduler) runCycle(reason string) {
	s.log.Info().Str("reason", reason).Msg("evaluation cycle started")
	s.setState(StateEvaluating)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	s.mu.Unlock()

	s.refreshCatalogs()
	claimFailed := s.claimReadyRewards()

	s.mu.Lock()
	pending := false
	for _, list := range s.campaigns {
		for _, c := range list {
			if c.NeedsProgress() {
				pending = true
				break
			}
		}
	}
	if !pending {
		s.sessions = make(map[models.Platform]*models.WatchSession)
		// Nothing to mine now, but new campaigns appear without notice.
		s.armRecheckLocked(recheckFallback)
		s.mu.Unlock()
		s.setState(StateIdle)
		s.log.Info().Msg("no campaigns need progress, going idle")
		return
	}
	s.mu.Unlock()

	s.setupSessions()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delay := s.computeRecheckDelayLocked(claimFailed)
	s.armRecheckLocked(delay)
	hasSessions := len(s.sessions) > 0
	if hasSessions {
		s.startTicksLocked()
		s.startHealthLocked()
	}
	s.mu.Unlock()

	if hasSessions {
		s.setState(StateMining)
	} else {
		s.setState(StateIdle)
	}
	s.log.Info().Dur("recheck_in", delay).Bool("mining", hasSessions).Msg("evaluation cycle finished")
}

// refreshCatalogs pulls all providers in parallel. A provider failure keeps
// that platform's previous snapshot so one bad poll does not blank the UI.
func (s *Scheduler) refreshCatalogs() {
	var wg sync.WaitGroup
	for platform, rt := range s.runtimes {
		wg.Add(1)
		go func(platform models.Platform, rt PlatformRuntime) {
			defer wg.Done()
			list, err := rt.Provider.Active(s.ctx)
			if err != nil {
				s.log.Warn().Err(err).Str("platform", string(platform)).Msg("catalog refresh failed, keeping previous snapshot")
				if apperr.IsFatalToCycle(err) {
					s.log.Error().Err(err).Str("platform", string(platform)).Msg("platform credentials unusable this cycle")
				}
				return
			}
			s.mu.Lock()
			s.campaigns[platform] = list
			s.mu.Unlock()
			s.log.Info().Str("platform", string(platform)).Int("campaigns", len(list)).Msg("catalog refreshed")
		}(platform, rt)
	}
	wg.Wait()
}

// claimReadyRewards claims everything claimable before selection so a
// finished reward never blocks the next one. Returns true when any claim
// was rejected, which shortens the next recheck. With auto-claim off the
// rewards stay untouched and the user gets one aggregate heads-up instead.
func (s *Scheduler) claimReadyRewards() bool {
	type pendingClaim struct {
		platform models.Platform
		campaign models.Campaign
		index    int
		reward   models.Reward
	}

	s.mu.Lock()
	var ready []pendingClaim
	for platform, list := range s.campaigns {
		for _, c := range list {
			for i, r := range c.Rewards {
				if r.IsReady() {
					ready = append(ready, pendingClaim{platform, c, i, r})
				}
			}
		}
	}
	s.mu.Unlock()

	if len(ready) == 0 {
		return false
	}

	if !s.settings.AutoClaimEnabled() {
		if s.settings.NotifyReadyEnabled() {
			s.notify("Rewards ready", fmt.Sprintf("%d reward(s) are ready to claim", len(ready)))
		}
		return false
	}

	failed := false
	for _, pc := range ready {
		rt, ok := s.runtimes[pc.platform]
		if !ok || rt.Claimer == nil {
			continue
		}
		claimID := pc.reward.DropInstanceID
		if claimID == "" {
			claimID = pc.reward.ID
		}
		if !rt.Claimer.Claim(s.ctx, pc.campaign.ID, claimID) {
			failed = true
			continue
		}

		s.markClaimed(pc.platform, pc.campaign.ID, pc.index)
		s.log.Info().
			Str("platform", string(pc.platform)).
			Str("campaign", pc.campaign.Name).
			Str("reward", pc.reward.Name).
			Msg("reward claimed")

		s.notify("Reward claimed", pc.reward.Name+" ("+pc.campaign.GameName+")")
		if s.claims != nil {
			err := s.claims.Record(s.ctx, repository.ClaimRecord{
				Platform:   string(pc.platform),
				CampaignID: pc.campaign.ID,
				RewardID:   pc.reward.ID,
				RewardName: pc.reward.Name,
				GameName:   pc.campaign.GameName,
				ClaimedAt:  time.Now().UTC(),
			})
			if err != nil {
				s.log.Warn().Err(err).Msg("claim log write failed")
			}
		}
	}
	if failed {
		s.notify("Claim failed", "retrying in 5 minutes")
	}
	return failed
}

func (s *Scheduler) notify(title, message string) {
	if s.notifier != nil {
		s.notifier.Notify(title, message)
	}
}

func (s *Scheduler) markClaimed(platform models.Platform, campaignID string, rewardIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.campaigns[platform]
	for i, c := range list {
		if c.ID != campaignID {
			continue
		}
		if rewardIndex < 0 || rewardIndex >= len(c.Rewards) {
			return
		}
		list[i] = c.WithReward(rewardIndex, c.Rewards[rewardIndex].Claimed())
		return
	}
}

// setupSessions selects and starts watching the best campaign per platform,
// in parallel across platforms.
func (s *Scheduler) setupSessions() {
	var wg sync.WaitGroup
	for platform, rt := range s.runtimes {
		wg.Add(1)
		go func(platform models.Platform, rt PlatformRuntime) {
			defer wg.Done()
			s.setupPlatform(platform, rt)
		}(platform, rt)
	}
	wg.Wait()
}

func (s *Scheduler) setupPlatform(platform models.Platform, rt PlatformRuntime) {
	s.mu.Lock()
	list := s.campaigns[platform]
	s.mu.Unlock()

	best, ok := models.SelectBest(list)
	if !ok {
		s.mu.Lock()
		delete(s.sessions, platform)
		s.mu.Unlock()
		return
	}

	url, err := s.resolveWatchURL(rt, best)
	if err != nil {
		s.log.Warn().Err(err).
			Str("platform", string(platform)).
			Str("campaign", best.Name).
			Msg("no watchable channel, skipping platform this cycle")
		s.mu.Lock()
		delete(s.sessions, platform)
		s.mu.Unlock()
		return
	}

	if err := rt.Host.Navigate(s.ctx, url); err != nil {
		s.log.Warn().Err(err).Str("url", url).Msg("watch navigation failed")
		s.mu.Lock()
		delete(s.sessions, platform)
		s.mu.Unlock()
		return
	}

	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.settle):
	}

	if rt.Scripts.DismissGate != "" {
		if _, err := rt.Host.ExecuteScript(s.ctx, rt.Scripts.DismissGate); err != nil {
			s.log.Debug().Err(err).Msg("gate dismissal script failed")
		}
	}
	if rt.Scripts.ForceLowQuality != "" {
		if _, err := rt.Host.ExecuteScript(s.ctx, rt.Scripts.ForceLowQuality); err != nil {
			s.log.Debug().Err(err).Msg("quality script failed")
		}
	}

	// Reload so the settings the scripts pinned apply to the player.
	if err := rt.Host.Navigate(s.ctx, url); err != nil {
		s.log.Debug().Err(err).Str("url", url).Msg("post-script refresh failed")
	}

	session := models.NewWatchSession(best, url)
	s.mu.Lock()
	s.sessions[platform] = &session
	s.mu.Unlock()

	s.log.Info().
		Str("platform", string(platform)).
		Str("campaign", best.Name).
		Str("game", best.GameName).
		Str("url", url).
		Int("completion", best.CompletionPercent()).
		Msg("watch session started")
}

// resolveWatchURL picks the page to watch. Campaigns tied to specific
// channels use the first connect URL; general drops land on the category
// page and resolve a live channel from it.
func (s *Scheduler) resolveWatchURL(rt PlatformRuntime, c models.Campaign) (string, error) {
	if len(c.ConnectURLs) == 0 {
		return "", apperr.New(apperr.CodeMalformedCampaign, "campaign has no connect urls")
	}
	if !c.IsGeneralDrop || rt.Scripts.ResolveLive == "" {
		return c.ConnectURLs[0], nil
	}

	if err := rt.Host.Navigate(s.ctx, c.ConnectURLs[0]); err != nil {
		return "", err
	}
	select {
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	case <-time.After(s.settle):
	}
	raw, err := rt.Host.ExecuteScript(s.ctx, rt.Scripts.ResolveLive)
	if err != nil {
		return "", err
	}
	url, err := strconv.Unquote(raw)
	if err != nil {
		url = raw
	}
	if url == "" || url == "null" {
		return "", apperr.New(apperr.CodeStreamOffline, "no live channel found on category page")
	}
	return url, nil
}

func (s *Scheduler) computeRecheckDelayLocked(claimFailed bool) time.Duration {
	delay := recheckFallback
	for platform, session := range s.sessions {
		for _, c := range s.campaigns[platform] {
			if c.ID != session.CampaignID {
				continue
			}
			if m := c.MinutesToNextReward(); m != models.NoPendingReward {
				if d := time.Duration(m) * time.Minute; d < delay {
					delay = d
				}
			}
		}
	}
	if delay < recheckFloor {
		delay = recheckFloor
	}
	if claimFailed && delay > claimRetryDelay {
		delay = claimRetryDelay
	}
	return delay
}

func (s *Scheduler) armRecheckLocked(delay time.Duration) {
	if s.closed {
		return
	}
	s.recheck = time.AfterFunc(delay, func() {
		s.Evaluate("scheduled recheck")
	})
}

func (s *Scheduler) stopTimersLocked() {
	if s.recheck != nil {
		s.recheck.Stop()
		s.recheck = nil
	}
	if s.tickStop != nil {
		s.tickStop()
		s.tickStop = nil
	}
	if s.healthStop != nil {
		s.healthStop()
		s.healthStop = nil
	}
}

// startTicksLocked runs the two progress loops: a 1s tick that advances
// session watch counters for the UI, and a 1m tick that optimistically
// advances reward progress between catalog polls.
func (s *Scheduler) startTicksLocked() {
	ctx, cancel := context.WithCancel(s.ctx)
	s.tickStop = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(liveTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				for _, session := range s.sessions {
					session.WatchedSeconds++
				}
				s.mu.Unlock()
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(minuteTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.advanceWatchedCampaigns()
			}
		}
	}()
}

// advanceWatchedCampaigns adds one optimistic minute to every unclaimed,
// incomplete reward of the campaigns currently being watched. The next
// catalog refresh replaces these estimates with server truth; monotonic
// progress means a lower server value never regresses the estimate.
func (s *Scheduler) advanceWatchedCampaigns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for platform, session := range s.sessions {
		list := s.campaigns[platform]
		for i, c := range list {
			if c.ID != session.CampaignID {
				continue
			}
			rewards := make([]models.Reward, len(c.Rewards))
			for j, r := range c.Rewards {
				if !r.IsClaimed && r.ProgressMinutes < r.RequiredMinutes {
					r = r.WithProgress(r.ProgressMinutes + 1)
				}
				rewards[j] = r
			}
			list[i] = c.WithRewards(rewards)
		}
	}
}

// startHealthLocked polls each watched page's live indicator. The first
// offline observation cancels the loop and triggers one re-evaluation;
// the new cycle starts its own loop.
func (s *Scheduler) startHealthLocked() {
	ctx, cancel := context.WithCancel(s.ctx)
	s.healthStop = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.anyWatchedOffline(ctx) {
					cancel()
					s.Evaluate("stream offline")
					return
				}
			}
		}
	}()
}

func (s *Scheduler) anyWatchedOffline(ctx context.Context) bool {
	s.mu.Lock()
	type check struct {
		platform models.Platform
		script   string
	}
	var checks []check
	for platform := range s.sessions {
		rt := s.runtimes[platform]
		if rt.Scripts.LiveCheck != "" {
			checks = append(checks, check{platform, rt.Scripts.LiveCheck})
		}
	}
	s.mu.Unlock()

	for _, c := range checks {
		raw, err := s.runtimes[c.platform].Host.ExecuteScript(ctx, c.script)
		if err != nil {
			s.log.Debug().Err(err).Str("platform", string(c.platform)).Msg("live check failed")
			continue
		}
		var live bool
		if err := json.Unmarshal([]byte(raw), &live); err != nil {
			continue
		}
		if !live {
			s.log.Warn().Str("platform", string(c.platform)).Msg("watched stream went offline")
			return true
		}
	}
	return false
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == state {
		return
	}
	s.state = state
	for _, ch := range s.observers {
		select {
		case ch <- state:
		default:
		}
	}
}

// Subscribe returns a channel receiving state transitions. Slow receivers
// miss intermediate states rather than blocking the scheduler.
func (s *Scheduler) Subscribe() <-chan State {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan State, 4)
	s.observers = append(s.observers, ch)
	return ch
}

// Status snapshots the current state and sessions for the HTTP API.
func (s *Scheduler) Status() ProgressSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := ProgressSnapshot{
		State:   s.state,
		Updated: time.Now(),
	}
	for platform, session := range s.sessions {
		item := SessionSnapshot{Session: *session}
		for _, c := range s.campaigns[platform] {
			if c.ID == session.CampaignID {
				item.CampaignName = c.Name
				item.GameName = c.GameName
				item.CompletionPercent = c.CompletionPercent()
				item.NextRewardPercent = c.NextRewardPercent()
				item.MinutesToNext = c.MinutesToNextReward()
				break
			}
		}
		snap.Sessions = append(snap.Sessions, item)
	}
	return snap
}

// Campaigns returns a copy of the current campaign snapshot across all
// platforms, sorted by game name.
func (s *Scheduler) Campaigns() []models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Campaign
	for _, list := range s.campaigns {
		out = append(out, list...)
	}
	models.SortByGameName(out)
	return out
}
