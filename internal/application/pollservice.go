// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// ErrUnknownRepository is returned for refresh requests naming a repository
// that is not bridged.
var ErrUnknownRepository = errors.New("repository is not bridged")

// refreshRequest represents a manual refresh trigger.
type refreshRequest struct {
	repoFullName string
	prNumber     int
	done         chan error
}

type bridgedRepo struct {
	bridge   *Bridge
	poller   *PullRequestPoller
	schedule repoSchedule
}

// PollService periodically polls every bridged repository and queues a
// bridging pass for each pull request that needs one.
type PollService struct {
	forge     driven.ForgeClient
	queue     *WorkQueue
	repos     []*bridgedRepo
	byName    map[string]*bridgedRepo
	interval  time.Duration
	refreshCh chan refreshRequest
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex // Guards the schedules.
}

// NewPollService creates a PollService with one poller per bridge.
func NewPollService(
	forge driven.ForgeClient,
	states driven.PollStateStore,
	quarantine *Quarantine,
	queue *WorkQueue,
	bridges []*Bridge,
	interval time.Duration,
	logger *slog.Logger,
) *PollService {
	s := &PollService{
		forge:     forge,
		queue:     queue,
		byName:    make(map[string]*bridgedRepo, len(bridges)),
		interval:  interval,
		refreshCh: make(chan refreshRequest),
		logger:    logger,
		now:       time.Now,
	}
	for _, b := range bridges {
		name := b.Repository().FullName
		r := &bridgedRepo{
			bridge: b,
			poller: NewPullRequestPoller(name, forge, states, quarantine, logger),
		}
		s.repos = append(s.repos, r)
		s.byName[name] = r
	}
	return s
}

// Start begins the polling loop. It runs an immediate poll, then polls due
// repositories on the configured interval. It also listens for manual refresh
// requests. Start blocks until the context is canceled.
func (s *PollService) Start(ctx context.Context) {
	s.pollAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poll service stopped")
			return
		case <-ticker.C:
			s.pollAll(ctx)
		case req := <-s.refreshCh:
			req.done <- s.handleRefresh(ctx, req)
		}
	}
}

// RefreshRepo polls a repository immediately, bypassing its schedule. It
// blocks until the poll completes or the context is canceled.
func (s *PollService) RefreshRepo(ctx context.Context, repoFullName string) error {
	return s.refresh(ctx, refreshRequest{repoFullName: repoFullName})
}

// RefreshPR queues a bridging pass for one pull request, regardless of
// whether it changed. It blocks until the pass is queued or the context is
// canceled.
func (s *PollService) RefreshPR(ctx context.Context, repoFullName string, prNumber int) error {
	s.logger.Info("manual PR refresh requested", "repo", repoFullName, "pr_number", prNumber)
	return s.refresh(ctx, refreshRequest{repoFullName: repoFullName, prNumber: prNumber})
}

func (s *PollService) refresh(ctx context.Context, req refreshRequest) error {
	req.done = make(chan error, 1)

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedules returns the polling schedule of every bridged repository.
func (s *PollService) Schedules() map[string]ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ScheduleInfo, len(s.repos))
	for name, r := range s.byName {
		out[name] = ScheduleInfo{
			Tier:       r.schedule.tier,
			NextPollAt: r.schedule.nextPollAt,
			LastPolled: r.schedule.lastPolled,
		}
	}
	return out
}

// pollAll polls every repository whose schedule is due.
func (s *PollService) pollAll(ctx context.Context) {
	start := s.now()

	var polled, pollErrors int
	for _, r := range s.repos {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		due := r.schedule.due(start)
		s.mu.Unlock()
		if !due {
			continue
		}

		polled++
		if err := s.pollRepo(ctx, r); err != nil {
			s.logger.Error("repo poll failed", "repo", r.poller.Repository(), "error", err)
			pollErrors++
		}
	}

	s.logger.Info("poll cycle complete",
		"repos", len(s.repos),
		"polled", polled,
		"errors", pollErrors,
		"queued", s.queue.Pending(),
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// pollRepo queues a pass for every updated pull request of one repository.
// The batch is acknowledged before any pass can report its outcome.
func (s *PollService) pollRepo(ctx context.Context, r *bridgedRepo) error {
	prs, err := r.poller.Updated(ctx)
	if err != nil {
		return err
	}
	r.poller.BatchHandled()

	for _, pr := range prs {
		s.queue.Submit(ctx, NewArchiveWork(r.bridge, r.poller, pr))
	}

	s.mu.Lock()
	r.schedule.record(s.now(), prs, r.poller.Pending(), s.interval)
	s.mu.Unlock()
	return nil
}

// handleRefresh dispatches a manual refresh request.
func (s *PollService) handleRefresh(ctx context.Context, req refreshRequest) error {
	r, ok := s.byName[req.repoFullName]
	if !ok {
		return fmt.Errorf("%s: %w", req.repoFullName, ErrUnknownRepository)
	}
	if req.prNumber == 0 {
		return s.pollRepo(ctx, r)
	}

	pr, err := s.forge.GetPullRequest(ctx, req.repoFullName, req.prNumber)
	if err != nil {
		return fmt.Errorf("fetch %s#%d: %w", req.repoFullName, req.prNumber, err)
	}
	s.queue.Submit(ctx, NewArchiveWork(r.bridge, r.poller, pr))
	return nil
}
