package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LocalRepository = (*Repository)(nil)

// logFormat separates commit fields with NUL and records with RS so that
// message bodies can contain anything but those two bytes.
const logFormat = "%H%x00%P%x00%an%x00%ae%x00%cn%x00%ce%x00%aI%x00%B%x1e"

// Repository is a local clone driven through the git command-line client.
type Repository struct {
	dir  string
	lock *sync.Mutex
}

// Dir returns the working directory of the clone.
func (r *Repository) Dir() string {
	return r.dir
}

// Resolve returns the full commit hash of rev.
func (r *Repository) Resolve(ctx context.Context, rev string) (string, error) {
	out, err := run(ctx, r.dir, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		if exitCode(err) == 1 {
			return "", fmt.Errorf("revision %s: %w", rev, driven.ErrNotFound)
		}
		return "", err
	}
	return out, nil
}

// Fetch fetches ref from url and returns the hash it resolved to.
func (r *Repository) Fetch(ctx context.Context, url string, ref string) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, err := run(ctx, r.dir, "fetch", "--quiet", "--no-tags", url, ref); err != nil {
		return "", fmt.Errorf("fetch %s from %s: %w", ref, url, err)
	}
	return run(ctx, r.dir, "rev-parse", "--verify", "FETCH_HEAD^{commit}")
}

func (r *Repository) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := run(ctx, r.dir, "merge-base", a, b)
	if err != nil {
		if exitCode(err) == 1 {
			return "", fmt.Errorf("merge base of %s and %s: %w", a, b, driven.ErrNotFound)
		}
		return "", err
	}
	return out, nil
}

func (r *Repository) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := run(ctx, r.dir, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

// Commits returns the commits reachable from to but not from, oldest first.
// An empty from lists the full history of to.
func (r *Repository) Commits(ctx context.Context, from, to string) ([]model.Commit, error) {
	rng := to
	if from != "" {
		rng = from + ".." + to
	}
	out, err := run(ctx, r.dir, "log", "--reverse", "--format="+logFormat, rng, "--")
	if err != nil {
		return nil, fmt.Errorf("listing commits %s: %w", rng, err)
	}
	return parseLog(out)
}

// Lookup returns the commit hash refers to.
func (r *Repository) Lookup(ctx context.Context, hash string) (model.Commit, error) {
	resolved, err := r.Resolve(ctx, hash)
	if err != nil {
		return model.Commit{}, err
	}
	out, err := run(ctx, r.dir, "log", "-1", "--format="+logFormat, resolved, "--")
	if err != nil {
		return model.Commit{}, err
	}
	commits, err := parseLog(out)
	if err != nil {
		return model.Commit{}, err
	}
	if len(commits) != 1 {
		return model.Commit{}, fmt.Errorf("commit %s: %w", hash, driven.ErrNotFound)
	}
	return commits[0], nil
}

// DiffStats counts the lines changed between from and to. A line replaced in
// place counts as modified rather than as one removal and one addition.
func (r *Repository) DiffStats(ctx context.Context, from, to string) (model.DiffStats, error) {
	out, err := run(ctx, r.dir, "diff", "--unified=0", "--no-color", "--no-ext-diff", "--no-renames", from, to, "--")
	if err != nil {
		return model.DiffStats{}, fmt.Errorf("diff %s..%s: %w", from, to, err)
	}
	return parseDiffStats(out), nil
}

// Diff returns the unified diff between from and to.
func (r *Repository) Diff(ctx context.Context, from, to string) (string, error) {
	out, err := run(ctx, r.dir, "diff", "--no-color", "--no-ext-diff", "--binary", from, to, "--")
	if err != nil {
		return "", fmt.Errorf("diff %s..%s: %w", from, to, err)
	}
	if out == "" {
		return "", nil
	}
	return out + "\n", nil
}

// Rebase replays the commits of head onto onto in a scratch worktree.
func (r *Repository) Rebase(ctx context.Context, head, onto string) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var result string
	err := r.withWorktree(ctx, head, func(wt string) error {
		if _, err := run(ctx, wt, "rebase", "--quiet", "--no-autosquash", onto); err != nil {
			_, _ = run(context.WithoutCancel(ctx), wt, "rebase", "--abort")
			return fmt.Errorf("rebase %s onto %s: %w: %w", model.Abbreviate(head), model.Abbreviate(onto), driven.ErrRebaseFailed, err)
		}
		h, err := run(ctx, wt, "rev-parse", "HEAD")
		result = h
		return err
	})
	return result, err
}

// MergeConflicts merges target into head in a scratch worktree. A clean merge
// reports ok as false. A conflicting merge is committed with the conflict
// markers left in the files.
func (r *Repository) MergeConflicts(ctx context.Context, head, target, message string) (string, bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var (
		hash string
		ok   bool
	)
	err := r.withWorktree(ctx, head, func(wt string) error {
		_, mergeErr := run(ctx, wt, "merge", "--quiet", "--no-edit", "--no-ff", target)
		if mergeErr == nil {
			return nil
		}

		unmerged, err := run(ctx, wt, "diff", "--name-only", "--diff-filter=U")
		if err != nil {
			return err
		}
		if strings.TrimSpace(unmerged) == "" {
			return fmt.Errorf("merge %s into %s: %w", model.Abbreviate(target), model.Abbreviate(head), mergeErr)
		}

		if _, err := run(ctx, wt, "add", "--all"); err != nil {
			return err
		}
		if _, err := run(ctx, wt, "commit", "--quiet", "--no-verify", "-m", message); err != nil {
			return fmt.Errorf("committing conflicts: %w", err)
		}
		h, err := run(ctx, wt, "rev-parse", "HEAD")
		if err != nil {
			return err
		}
		hash, ok = h, true
		return nil
	})
	return hash, ok, err
}

// withWorktree checks out rev detached in a temporary worktree, runs fn in it
// and removes the worktree afterwards.
func (r *Repository) withWorktree(ctx context.Context, rev string, fn func(dir string) error) error {
	tmp, err := os.MkdirTemp("", "mlbridge-worktree-")
	if err != nil {
		return fmt.Errorf("creating worktree directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	wt := filepath.Join(tmp, "wt")
	if _, err := run(ctx, r.dir, "worktree", "add", "--quiet", "--detach", wt, rev); err != nil {
		return fmt.Errorf("creating worktree at %s: %w", model.Abbreviate(rev), err)
	}
	defer func() {
		_, _ = run(context.WithoutCancel(ctx), r.dir, "worktree", "remove", "--force", wt)
	}()

	return fn(wt)
}

func parseLog(out string) ([]model.Commit, error) {
	var commits []model.Commit
	for _, record := range strings.Split(out, "\x1e") {
		record = strings.TrimLeft(record, "\n")
		if record == "" {
			continue
		}
		fields := strings.SplitN(record, "\x00", 8)
		if len(fields) != 8 {
			return nil, fmt.Errorf("malformed log record %q", record)
		}

		authored, err := time.Parse(time.RFC3339, fields[6])
		if err != nil {
			return nil, fmt.Errorf("commit %s: author date: %w", fields[0], err)
		}

		commit := model.Commit{
			Hash:       fields[0],
			Parents:    strings.Fields(fields[1]),
			Author:     model.Signature{Name: fields[2], Email: fields[3]},
			Committer:  model.Signature{Name: fields[4], Email: fields[5]},
			AuthoredAt: authored,
		}
		body := strings.TrimRight(fields[7], "\n")
		if body != "" {
			commit.Message = strings.Split(body, "\n")
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

func parseDiffStats(out string) model.DiffStats {
	var stats model.DiffStats
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			stats.Files++
		case strings.HasPrefix(line, "@@ "):
			removed, added, ok := parseHunkHeader(line)
			if !ok {
				continue
			}
			modified := min(removed, added)
			stats.Modified += modified
			stats.Removed += removed - modified
			stats.Added += added - modified
		}
	}
	return stats
}

// parseHunkHeader extracts the line counts from "@@ -a,n +b,m @@".
func parseHunkHeader(line string) (removed, added int, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || !strings.HasPrefix(fields[1], "-") || !strings.HasPrefix(fields[2], "+") {
		return 0, 0, false
	}
	removed, err1 := hunkCount(fields[1][1:])
	added, err2 := hunkCount(fields[2][1:])
	if err := errors.Join(err1, err2); err != nil {
		return 0, 0, false
	}
	return removed, added, true
}

func hunkCount(rng string) (int, error) {
	_, count, found := strings.Cut(rng, ",")
	if !found {
		return 1, nil
	}
	return strconv.Atoi(count)
}
