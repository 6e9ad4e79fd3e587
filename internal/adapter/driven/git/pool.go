package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepositoryPool = (*Pool)(nil)

// targetRefPrefix is where fetched target branches live in a scratch clone.
const targetRefPrefix = "refs/mlbridge/targets/"

// Pool keeps one scratch clone per directory and fetches pull request heads
// into it on demand.
type Pool struct {
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPool creates an empty pool.
func NewPool(logger *slog.Logger) *Pool {
	return &Pool{logger: logger, locks: make(map[string]*sync.Mutex)}
}

// Materialize initializes dir as a repository if needed and fetches the pull
// request's head and target branch into it. The returned tip is the target
// branch as fetched, which can be newer than the base the forge recorded.
func (p *Pool) Materialize(ctx context.Context, pr model.PullRequest, dir string) (driven.LocalRepository, string, error) {
	lock := p.lock(dir)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(filepath.Join(dir, ".git")); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, "", fmt.Errorf("create scratch repository %s: %w", dir, err)
		}
		if _, err := run(ctx, dir, "init", "--quiet"); err != nil {
			return nil, "", fmt.Errorf("init scratch repository %s: %w", dir, err)
		}
		p.logger.Info("scratch repository created", "dir", dir, "repo", pr.Repo.FullName)
	}

	// Stale worktrees from an interrupted pass would block new ones.
	if _, err := run(ctx, dir, "worktree", "prune"); err != nil {
		return nil, "", err
	}

	_, err := run(ctx, dir, "fetch", "--quiet", "--no-tags", "--force", pr.Repo.CloneURL(),
		fmt.Sprintf("+refs/heads/%s:%s%s", pr.TargetRef, targetRefPrefix, pr.TargetRef),
		fmt.Sprintf("+refs/%s:refs/mlbridge/pulls/%d", pr.FetchRef(), pr.Number),
	)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s into %s: %w", pr.Key(), dir, err)
	}

	tip, err := run(ctx, dir, "rev-parse", "--verify", targetRefPrefix+pr.TargetRef+"^{commit}")
	if err != nil {
		return nil, "", fmt.Errorf("resolve target branch %s: %w", pr.TargetRef, err)
	}

	return &Repository{dir: dir, lock: lock}, tip, nil
}

func (p *Pool) lock(dir string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		p.locks[dir] = l
	}
	return l
}
