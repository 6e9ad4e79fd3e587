package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// ErrRebaseFailed indicates that replaying commits onto a new base did not
// succeed. Callers fall back to a non-incremental view.
var ErrRebaseFailed = errors.New("rebase failed")

// RepositoryPool materializes local clones of hosted repositories.
type RepositoryPool interface {
	// Materialize returns a local repository below dir with the pull request's
	// head and target branch fetched, along with the fetched tip of the target
	// branch.
	Materialize(ctx context.Context, pr model.PullRequest, dir string) (repo LocalRepository, targetTip string, err error)
}

// LocalRepository defines the driven port for version-control queries and the
// scratch operations needed to build incremental and merge views.
type LocalRepository interface {
	// Resolve returns the full hash of rev. Returns ErrNotFound if unknown.
	Resolve(ctx context.Context, rev string) (string, error)
	// Fetch fetches ref from url and returns the fetched hash.
	Fetch(ctx context.Context, url string, ref string) (string, error)
	MergeBase(ctx context.Context, a, b string) (string, error)
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	// Commits returns the commits reachable from to but not from, oldest first.
	Commits(ctx context.Context, from, to string) ([]model.Commit, error)
	// Lookup returns a single commit. Returns ErrNotFound if absent.
	Lookup(ctx context.Context, hash string) (model.Commit, error)
	DiffStats(ctx context.Context, from, to string) (model.DiffStats, error)
	// Diff returns the unified diff between from and to.
	Diff(ctx context.Context, from, to string) (string, error)
	// Rebase replays head onto onto and returns the new head. Returns an error
	// wrapping ErrRebaseFailed when the replay conflicts.
	Rebase(ctx context.Context, head, onto string) (string, error)
	// MergeConflicts merges target into head. When the merge conflicts, the
	// unmerged files are committed as-is on top of head and the commit hash is
	// returned with ok set.
	MergeConflicts(ctx context.Context, head, target, message string) (hash string, ok bool, err error)
}
