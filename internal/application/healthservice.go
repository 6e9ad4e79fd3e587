package application

import (
	"slices"
	"strings"
	"time"
)

// overdueGrace is how long past its scheduled poll a repository may go
// before the bridge reports itself degraded.
const overdueGrace = 5 * time.Minute

// HealthStatus is the overall state reported by the health endpoint.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthStarting HealthStatus = "starting"
	HealthDegraded HealthStatus = "degraded"
)

// RepoHealth is the polling state of one bridged repository.
type RepoHealth struct {
	Repo       string
	Tier       ActivityTier
	LastPolled time.Time
	NextPollAt time.Time
	Overdue    bool
}

// HealthSummary is the health view served over HTTP.
type HealthSummary struct {
	Status      HealthStatus
	Repos       []RepoHealth
	Quarantined int
	QueueDepth  int
}

// HealthService assembles a HealthSummary from the running services.
type HealthService struct {
	polls      *PollService
	quarantine *Quarantine
	queue      *WorkQueue
	now        func() time.Time
}

// NewHealthService creates a new HealthService with the required dependencies.
func NewHealthService(polls *PollService, quarantine *Quarantine, queue *WorkQueue) *HealthService {
	return &HealthService{
		polls:      polls,
		quarantine: quarantine,
		queue:      queue,
		now:        time.Now,
	}
}

// Summary returns the current health of the bridge. A repository that was
// never polled reports HealthStarting; one whose poll is overdue reports
// HealthDegraded.
func (s *HealthService) Summary() HealthSummary {
	schedules := s.polls.Schedules()
	summary := HealthSummary{
		Repos:       make([]RepoHealth, 0, len(schedules)),
		Quarantined: s.quarantine.Len(),
		QueueDepth:  s.queue.Pending(),
	}
	for repo, info := range schedules {
		summary.Repos = append(summary.Repos, RepoHealth{
			Repo:       repo,
			Tier:       info.Tier,
			LastPolled: info.LastPolled,
			NextPollAt: info.NextPollAt,
			Overdue:    isOverdue(info, s.now()),
		})
	}
	slices.SortFunc(summary.Repos, func(a, b RepoHealth) int {
		return strings.Compare(a.Repo, b.Repo)
	})
	summary.Status = combinedStatus(summary.Repos)
	return summary
}

func isOverdue(info ScheduleInfo, now time.Time) bool {
	if info.LastPolled.IsZero() {
		return false
	}
	return now.After(info.NextPollAt.Add(overdueGrace))
}

// combinedStatus aggregates per-repository state.
// Priority: degraded > starting > ok.
func combinedStatus(repos []RepoHealth) HealthStatus {
	var starting bool
	for _, r := range repos {
		if r.Overdue {
			return HealthDegraded
		}
		if r.LastPolled.IsZero() {
			starting = true
		}
	}
	if starting {
		return HealthStarting
	}
	return HealthOK
}
