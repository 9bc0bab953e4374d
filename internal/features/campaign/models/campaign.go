package models

import (
	"math"
	"sort"
	"time"
)

// Platform identifies a streaming platform.
type Platform string

const (
	PlatformTwitch Platform = "twitch"
	PlatformKick   Platform = "kick"
)

// NoPendingReward is returned by MinutesToNextReward when a campaign has no
// unclaimed, incomplete reward left.
const NoPendingReward = math.MaxInt32

// Reward is a single drop within a campaign. Rewards are immutable value
// snapshots; WithProgress and Claimed return modified copies.
type Reward struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ImageURL        string `json:"image_url,omitempty"`
	RequiredMinutes int    `json:"required_minutes"`
	ProgressMinutes int    `json:"progress_minutes"`
	IsClaimed       bool   `json:"is_claimed"`
	DropInstanceID  string `json:"drop_instance_id,omitempty"`
}

// IsReady reports whether the reward is unclaimed and has met its watch
// requirement.
func (r Reward) IsReady() bool {
	return !r.IsClaimed && r.ProgressMinutes >= r.RequiredMinutes
}

// RemainingMinutes returns how many minutes of watching the reward still
// needs, never negative.
func (r Reward) RemainingMinutes() int {
	if rem := r.RequiredMinutes - r.ProgressMinutes; rem > 0 {
		return rem
	}
	return 0
}

// WithProgress returns a copy with updated progress. Progress is monotonic:
// a lower value, or any update to a claimed reward, is ignored.
func (r Reward) WithProgress(minutes int) Reward {
	if r.IsClaimed || minutes < r.ProgressMinutes {
		return r
	}
	r.ProgressMinutes = minutes
	return r
}

// Claimed returns a copy marked as claimed.
func (r Reward) Claimed() Reward {
	r.IsClaimed = true
	return r
}

// Campaign is a time-boxed drop offer. Campaigns and their reward lists are
// immutable value snapshots: every mutation produces a new Campaign that
// replaces the old one in the scheduler's collection.
type Campaign struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	GameName      string    `json:"game_name"`
	GameImageURL  string    `json:"game_image_url,omitempty"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	Rewards       []Reward  `json:"rewards"`
	Platform      Platform  `json:"platform"`
	ConnectURLs   []string  `json:"connect_urls"`
	IsGeneralDrop bool      `json:"is_general_drop"`
}

// WithReward returns a copy of the campaign with the reward at index i
// replaced. The reward slice is copied, never mutated in place.
func (c Campaign) WithReward(i int, r Reward) Campaign {
	if i < 0 || i >= len(c.Rewards) {
		return c
	}
	rewards := make([]Reward, len(c.Rewards))
	copy(rewards, c.Rewards)
	rewards[i] = r
	c.Rewards = rewards
	return c
}

// WithRewards returns a copy of the campaign with a replaced reward list.
// The caller hands over ownership of the slice.
func (c Campaign) WithRewards(rewards []Reward) Campaign {
	c.Rewards = rewards
	return c
}

// NeedsProgress reports whether the campaign still has an unclaimed reward
// that has not met its requirement.
func (c Campaign) NeedsProgress() bool {
	for _, r := range c.Rewards {
		if !r.IsClaimed && r.ProgressMinutes < r.RequiredMinutes {
			return true
		}
	}
	return false
}

// CompletionPercent is the average, over rewards with a positive
// requirement, of progress/required expressed 0-100, floored and clamped.
func (c Campaign) CompletionPercent() int {
	var sum float64
	var n int
	for _, r := range c.Rewards {
		if r.RequiredMinutes <= 0 {
			continue
		}
		pct := float64(r.ProgressMinutes) / float64(r.RequiredMinutes) * 100
		if pct > 100 {
			pct = 100
		}
		sum += pct
		n++
	}
	if n == 0 {
		return 0
	}
	pct := int(math.Floor(sum / float64(n)))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// MinutesToNextReward returns the smallest remaining watch time among
// unclaimed, incomplete rewards, or NoPendingReward when none is left.
func (c Campaign) MinutesToNextReward() int {
	best := NoPendingReward
	for _, r := range c.Rewards {
		if r.IsClaimed || r.ProgressMinutes >= r.RequiredMinutes {
			continue
		}
		if rem := r.RemainingMinutes(); rem < best {
			best = rem
		}
	}
	return best
}

// NextRewardPercent is progress toward the single next unclaimed reward
// (the one with the least time remaining), 0-100. Returns 100 when nothing
// is pending.
func (c Campaign) NextRewardPercent() int {
	best := NoPendingReward
	pct := 100
	for _, r := range c.Rewards {
		if r.IsClaimed || r.RequiredMinutes <= 0 || r.ProgressMinutes >= r.RequiredMinutes {
			continue
		}
		if rem := r.RemainingMinutes(); rem < best {
			best = rem
			pct = int(math.Floor(float64(r.ProgressMinutes) / float64(r.RequiredMinutes) * 100))
		}
	}
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// AccumulatedSeconds is the server-known progress across unclaimed rewards,
// in seconds. New watch sessions resume their counters from this value.
func (c Campaign) AccumulatedSeconds() int64 {
	var minutes int64
	for _, r := range c.Rewards {
		if !r.IsClaimed {
			minutes += int64(r.ProgressMinutes)
		}
	}
	return minutes * 60
}

// SelectBest picks the campaign to watch: highest completion percentage
// first, ties broken by the soonest remaining minutes to the next unclaimed
// reward. Only campaigns that still need progress are considered.
func SelectBest(campaigns []Campaign) (Campaign, bool) {
	candidates := make([]Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if c.NeedsProgress() {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Campaign{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i].CompletionPercent(), candidates[j].CompletionPercent()
		if ci != cj {
			return ci > cj
		}
		return candidates[i].MinutesToNextReward() < candidates[j].MinutesToNextReward()
	})
	return candidates[0], true
}

// SortByGameName orders a campaign list alphabetically by game name.
func SortByGameName(campaigns []Campaign) {
	sort.SliceStable(campaigns, func(i, j int) bool {
		return campaigns[i].GameName < campaigns[j].GameName
	})
}
