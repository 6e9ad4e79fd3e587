package application

import (
	"context"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// ArchiveWork is a bridging pass for one pull request. Passes for the same
// pull request never overlap, and a newly queued pass replaces a queued one.
type ArchiveWork struct {
	bridge *Bridge
	poller *PullRequestPoller
	pr     model.PullRequest
}

// NewArchiveWork creates the work item for pr. The outcome is reported to
// poller.
func NewArchiveWork(bridge *Bridge, poller *PullRequestPoller, pr model.PullRequest) *ArchiveWork {
	return &ArchiveWork{bridge: bridge, poller: poller, pr: pr}
}

var _ WorkItem = (*ArchiveWork)(nil)

// Name implements WorkItem.
func (w *ArchiveWork) Name() string {
	return "archive " + w.pr.Key()
}

// ConcurrentWith implements WorkItem.
func (w *ArchiveWork) ConcurrentWith(other WorkItem) bool {
	o, ok := other.(*ArchiveWork)
	return !ok || o.pr.Key() != w.pr.Key()
}

// Replaces implements WorkItem.
func (w *ArchiveWork) Replaces(other WorkItem) bool {
	o, ok := other.(*ArchiveWork)
	return ok && o.pr.Key() == w.pr.Key()
}

// Run implements WorkItem. A cooldown deferral quarantines the pull request;
// any other completed pass marks it handled.
func (w *ArchiveWork) Run(ctx context.Context) error {
	outcome, err := w.bridge.Run(ctx, w.pr)
	if err != nil {
		return err
	}
	if !outcome.RetryAt.IsZero() {
		w.poller.Quarantine(w.pr, outcome.RetryAt)
		return nil
	}
	return w.poller.Handled(ctx, w.pr)
}

// HandleError implements WorkItem by scheduling a retry on the next poll.
func (w *ArchiveWork) HandleError(error) {
	w.poller.Retry(w.pr)
}
