package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

const (
	// updatedQueryLimit bounds how far back closed pull requests are fetched.
	updatedQueryLimit = 7 * 24 * time.Hour
	// queryPadding compensates for coarse forge updated_at timestamps.
	queryPadding = time.Minute
)

type pullRequestRetry struct {
	pr model.PullRequest
	at time.Time
}

// PullRequestPoller returns the pull requests of one repository that changed
// since they were last handled, plus any scheduled retries and pull requests
// released from quarantine.
//
// Call BatchHandled after every Updated call, before reporting the outcome
// of individual pull requests with Handled, Retry or Quarantine.
type PullRequestPoller struct {
	repo       string
	forge      driven.ForgeClient
	states     driven.PollStateStore
	quarantine *Quarantine
	logger     *slog.Logger
	now        func() time.Time

	mu           sync.Mutex
	maxUpdatedAt time.Time
	batchMax     time.Time
	current      []model.PullRequest
	retries      map[int]pullRequestRetry
	held         map[int]model.PullRequest
}

// NewPullRequestPoller creates a poller for repoFullName.
func NewPullRequestPoller(
	repoFullName string,
	forge driven.ForgeClient,
	states driven.PollStateStore,
	quarantine *Quarantine,
	logger *slog.Logger,
) *PullRequestPoller {
	return &PullRequestPoller{
		repo:       repoFullName,
		forge:      forge,
		states:     states,
		quarantine: quarantine,
		logger:     logger,
		now:        time.Now,
		retries:    make(map[int]pullRequestRetry),
		held:       make(map[int]model.PullRequest),
	}
}

// Repository returns the full name of the polled repository.
func (p *PullRequestPoller) Repository() string {
	return p.repo
}

// Updated queries the forge and returns the pull requests that need a pass.
func (p *PullRequestPoller) Updated(ctx context.Context) ([]model.PullRequest, error) {
	prs, err := p.query(ctx)
	if err != nil {
		return nil, err
	}

	var filtered []model.PullRequest
	var skippedUnchanged int
	var newest time.Time
	floor := p.now().Add(-updatedQueryLimit)
	for _, pr := range prs {
		if pr.UpdatedAt.After(newest) && pr.UpdatedAt.After(floor) {
			newest = pr.UpdatedAt
		}
		changed, err := p.isUpdated(ctx, pr)
		if err != nil {
			return nil, err
		}
		if !changed {
			skippedUnchanged++
			continue
		}
		filtered = append(filtered, pr)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	result := p.processQuarantined(p.addRetries(filtered))
	p.current = result
	p.batchMax = newest

	p.logger.Info("repo polled",
		"repo", p.repo,
		"fetched", len(prs),
		"skipped_unchanged", skippedUnchanged,
		"returned", len(result),
	)
	return result, nil
}

// BatchHandled acknowledges the result of the last Updated call. Pending
// retries for the returned pull requests are cleared.
func (p *PullRequestPoller) BatchHandled() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pr := range p.current {
		delete(p.retries, pr.Number)
	}
	if p.batchMax.After(p.maxUpdatedAt) {
		p.maxUpdatedAt = p.batchMax
	}
	p.current = nil
}

// Handled records that pr was fully processed, so it is skipped until it
// changes again.
func (p *PullRequestPoller) Handled(ctx context.Context, pr model.PullRequest) error {
	state := model.PollState{
		RepoFullName: pr.Repo.FullName,
		Number:       pr.Number,
		UpdatedAt:    pr.UpdatedAt,
		HeadSHA:      pr.HeadSHA,
		HandledAt:    p.now(),
	}
	if err := p.states.Upsert(ctx, state); err != nil {
		return fmt.Errorf("record poll state for %s: %w", pr.Key(), err)
	}
	return nil
}

// Retry schedules pr for the next Updated call regardless of changes.
func (p *PullRequestPoller) Retry(pr model.PullRequest) {
	p.RetryAt(pr, time.Time{})
}

// RetryAt schedules pr for the first Updated call at or after at.
func (p *PullRequestPoller) RetryAt(pr model.PullRequest, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries[pr.Number] = pullRequestRetry{pr: pr, at: at}
}

// Quarantine holds pr back until until, then returns it once.
func (p *PullRequestPoller) Quarantine(pr model.PullRequest, until time.Time) {
	p.quarantine.Extend(pr.Key(), until)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.held[pr.Number] = pr
}

// Pending reports whether retries or quarantined pull requests are waiting.
func (p *PullRequestPoller) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.retries) > 0 || len(p.held) > 0
}

// query fetches all open and recently closed pull requests on the first
// round, and everything updated since the newest seen timestamp afterwards.
func (p *PullRequestPoller) query(ctx context.Context) ([]model.PullRequest, error) {
	p.mu.Lock()
	since := p.maxUpdatedAt
	p.mu.Unlock()

	if !since.IsZero() {
		prs, err := p.forge.ListPullRequests(ctx, p.repo, since.Add(-queryPadding))
		if err != nil {
			return nil, fmt.Errorf("list pull requests of %s: %w", p.repo, err)
		}
		return prs, nil
	}

	open, err := p.forge.ListPullRequests(ctx, p.repo, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("list open pull requests of %s: %w", p.repo, err)
	}
	recent, err := p.forge.ListPullRequests(ctx, p.repo, p.now().Add(-updatedQueryLimit))
	if err != nil {
		return nil, fmt.Errorf("list recent pull requests of %s: %w", p.repo, err)
	}

	seen := make(map[int]bool, len(open))
	for _, pr := range open {
		seen[pr.Number] = true
	}
	for _, pr := range recent {
		if !pr.IsOpen() && !seen[pr.Number] {
			seen[pr.Number] = true
			open = append(open, pr)
		}
	}
	return open, nil
}

func (p *PullRequestPoller) isUpdated(ctx context.Context, pr model.PullRequest) (bool, error) {
	state, err := p.states.Get(ctx, p.repo, pr.Number)
	if err != nil {
		return false, fmt.Errorf("load poll state for %s: %w", pr.Key(), err)
	}
	if state == nil {
		return true, nil
	}
	return !state.UpdatedAt.Equal(pr.UpdatedAt) || state.HeadSHA != pr.HeadSHA, nil
}

// addRetries appends due retries that the query did not already return.
func (p *PullRequestPoller) addRetries(prs []model.PullRequest) []model.PullRequest {
	if len(p.retries) == 0 {
		return prs
	}
	present := numbers(prs)
	now := p.now()
	for _, number := range sortedKeys(p.retries) {
		retry := p.retries[number]
		if present[number] || retry.at.After(now) {
			continue
		}
		prs = append(prs, retry.pr)
	}
	return prs
}

// processQuarantined drops quarantined pull requests, remembering the newest
// instance of each, and appends the ones whose quarantine has ended.
func (p *PullRequestPoller) processQuarantined(prs []model.PullRequest) []model.PullRequest {
	present := numbers(prs)
	out := make([]model.PullRequest, 0, len(prs))
	for _, pr := range prs {
		if p.quarantine.Status(pr.Key()) == InQuarantine {
			p.held[pr.Number] = pr
			continue
		}
		delete(p.held, pr.Number)
		out = append(out, pr)
	}
	for _, number := range sortedKeys(p.held) {
		if present[number] {
			continue
		}
		pr := p.held[number]
		if p.quarantine.Status(pr.Key()) == InQuarantine {
			continue
		}
		delete(p.held, number)
		out = append(out, pr)
	}
	return out
}

func numbers(prs []model.PullRequest) map[int]bool {
	set := make(map[int]bool, len(prs))
	for _, pr := range prs {
		set[pr.Number] = true
	}
	return set
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
