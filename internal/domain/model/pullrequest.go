package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// PullRequest represents a forge pull request as seen by the bridge.
type PullRequest struct {
	Number    int
	Repo      Repository
	Title     string
	Body      string
	Author    User
	State     PRState
	IsDraft   bool
	Labels    []string
	SourceRef string
	TargetRef string
	HeadSHA   string
	TargetSHA string // Tip of TargetRef; the forge value lags until the next sync.
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedBy  *User // Nil when unknown or still open.
}

// IsOpen reports whether the pull request is open.
func (pr PullRequest) IsOpen() bool {
	return pr.State == PRStateOpen
}

// HasLabel reports whether the pull request carries the given label.
func (pr PullRequest) HasLabel(label string) bool {
	return slices.Contains(pr.Labels, label)
}

// IntegratedLabel marks a pull request that was integrated by pushing its
// changes to the target branch.
const IntegratedLabel = "integrated"

// IsIntegrated reports whether the pull request claims to have been
// integrated. Only the label counts: a forge merge without it is a close.
func (pr PullRequest) IsIntegrated() bool {
	return pr.HasLabel(IntegratedLabel)
}

// IsMerge reports whether the pull request is a merge-style pull request,
// identified by its title.
func (pr PullRequest) IsMerge() bool {
	return strings.HasPrefix(pr.Title, "Merge")
}

// Key returns a string identifying the pull request across repositories.
func (pr PullRequest) Key() string {
	return fmt.Sprintf("%s#%d", pr.Repo.FullName, pr.Number)
}

// WebURL returns the browser URL of the pull request.
func (pr PullRequest) WebURL() string {
	return fmt.Sprintf("%s/pull/%d", pr.Repo.WebURL, pr.Number)
}

// ChangesURL returns the URL of the full file diff view.
func (pr PullRequest) ChangesURL() string {
	return pr.WebURL() + "/files"
}

// ChangesSinceURL returns the URL of the diff view between base and the
// current head.
func (pr PullRequest) ChangesSinceURL(base string) string {
	return fmt.Sprintf("%s/files/%s..%s", pr.WebURL(), base, pr.HeadSHA)
}

// FilesURL returns the URL of the diff view for a single commit.
func (pr PullRequest) FilesURL(hash string) string {
	return pr.WebURL() + "/files/" + hash
}

// DiffURL returns the URL of the raw patch.
func (pr PullRequest) DiffURL() string {
	return pr.WebURL() + ".diff"
}

// CommentURL returns the anchor URL of a general comment.
func (pr PullRequest) CommentURL(id int64) string {
	return fmt.Sprintf("%s#issuecomment-%d", pr.WebURL(), id)
}

// ReviewURL returns the anchor URL of a review.
func (pr PullRequest) ReviewURL(id int64) string {
	return fmt.Sprintf("%s#pullrequestreview-%d", pr.WebURL(), id)
}

// ReviewCommentURL returns the anchor URL of an inline review comment.
func (pr PullRequest) ReviewCommentURL(id int64) string {
	return fmt.Sprintf("%s#discussion_r%d", pr.WebURL(), id)
}

// FetchRef returns the ref under which the forge publishes the head.
func (pr PullRequest) FetchRef() string {
	return fmt.Sprintf("pull/%d/head", pr.Number)
}

// FetchCommand returns a git command line that fetches the head locally.
func (pr PullRequest) FetchCommand() string {
	return fmt.Sprintf("git fetch %s %s:pull/%d", pr.Repo.CloneURL(), pr.FetchRef(), pr.Number)
}
