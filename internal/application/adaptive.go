package application

import (
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// ActivityTier classifies how often a bridged repository is polled, based on
// how recently its pull requests changed.
type ActivityTier int

const (
	// TierHot indicates activity within the last hour, or pending retries.
	TierHot ActivityTier = iota
	// TierActive indicates activity within the last day.
	TierActive
	// TierWarm indicates activity within the last 7 days.
	TierWarm
	// TierStale indicates no activity for 7+ days.
	TierStale
)

// Polling intervals per activity tier.
const (
	intervalHot    = 2 * time.Minute
	intervalActive = 5 * time.Minute
	intervalWarm   = 15 * time.Minute
	intervalStale  = 30 * time.Minute
)

// String returns a human-readable name for the activity tier.
func (t ActivityTier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierActive:
		return "active"
	case TierWarm:
		return "warm"
	case TierStale:
		return "stale"
	default:
		return "unknown"
	}
}

func tierInterval(tier ActivityTier) time.Duration {
	switch tier {
	case TierHot:
		return intervalHot
	case TierActive:
		return intervalActive
	case TierWarm:
		return intervalWarm
	case TierStale:
		return intervalStale
	default:
		return intervalActive
	}
}

// classifyActivity determines the tier from the time elapsed since
// lastActivity. A zero time is stale.
func classifyActivity(lastActivity, now time.Time) ActivityTier {
	if lastActivity.IsZero() {
		return TierStale
	}

	elapsed := now.Sub(lastActivity)

	switch {
	case elapsed < 1*time.Hour:
		return TierHot
	case elapsed < 24*time.Hour:
		return TierActive
	case elapsed < 7*24*time.Hour:
		return TierWarm
	default:
		return TierStale
	}
}

// repoSchedule tracks the polling state of one bridged repository.
type repoSchedule struct {
	tier         ActivityTier
	lastActivity time.Time
	nextPollAt   time.Time
	lastPolled   time.Time
}

// due reports whether the repository should be polled at now.
func (s *repoSchedule) due(now time.Time) bool {
	return !now.Before(s.nextPollAt)
}

// record updates the schedule after a poll. Pending retries or quarantined
// pull requests keep the repository hot so they are picked up promptly.
// floor is the minimum interval between polls.
func (s *repoSchedule) record(now time.Time, prs []model.PullRequest, pending bool, floor time.Duration) {
	if newest := freshestActivity(prs); newest.After(s.lastActivity) {
		s.lastActivity = newest
	}
	s.tier = classifyActivity(s.lastActivity, now)
	if pending {
		s.tier = TierHot
	}
	s.lastPolled = now
	s.nextPollAt = now.Add(max(tierInterval(s.tier), floor))
}

// ScheduleInfo is an exported view of a repository's polling schedule.
type ScheduleInfo struct {
	Tier       ActivityTier
	NextPollAt time.Time
	LastPolled time.Time
}

// freshestActivity returns the newest UpdatedAt across prs, or the zero time
// for an empty slice.
func freshestActivity(prs []model.PullRequest) time.Time {
	var newest time.Time
	for _, pr := range prs {
		if pr.UpdatedAt.After(newest) {
			newest = pr.UpdatedAt
		}
	}
	return newest
}
