// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// Sentinel errors returned by ForgeClient and LocalRepository implementations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("not found")
)

// ForgeClient defines the driven port for reading pull request activity from
// the forge.
type ForgeClient interface {
	// ListPullRequests returns all pull requests of the repository updated at or
	// after since, most recently updated first. A zero since lists everything.
	ListPullRequests(ctx context.Context, repoFullName string, since time.Time) ([]model.PullRequest, error)
	// GetPullRequest returns a single pull request. Returns ErrNotFound if absent.
	GetPullRequest(ctx context.Context, repoFullName string, number int) (model.PullRequest, error)

	ListIssueComments(ctx context.Context, repoFullName string, number int) ([]model.IssueComment, error)
	ListReviews(ctx context.Context, repoFullName string, number int) ([]model.Review, error)
	ListReviewComments(ctx context.Context, repoFullName string, number int) ([]model.ReviewComment, error)

	// LastMarkedAsDraft returns when the pull request was last converted to a
	// draft, or the zero time if it never was.
	LastMarkedAsDraft(ctx context.Context, repoFullName string, number int) (time.Time, error)
	// CurrentUser returns the account the client is authenticated as.
	CurrentUser(ctx context.Context) (model.User, error)
	// BranchExists reports whether the named branch exists in the repository.
	BranchExists(ctx context.Context, repoFullName string, branch string) (bool, error)
	// FileContents returns the contents of path at ref. Returns ErrNotFound if
	// the file does not exist at that ref.
	FileContents(ctx context.Context, repoFullName string, path string, ref string) (string, error)
}

// ForgeWriter defines the driven port for the few mutations the bridge performs
// on the forge.
type ForgeWriter interface {
	// AddComment adds a PR-level comment and returns it as stored.
	AddComment(ctx context.Context, repoFullName string, number int, body string) (model.IssueComment, error)
	// UpdateComment replaces the body of an existing PR-level comment.
	UpdateComment(ctx context.Context, repoFullName string, commentID int64, body string) error
}
