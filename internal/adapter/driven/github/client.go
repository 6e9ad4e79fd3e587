// Package github implements the forge and archive ports using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ForgeClient = (*Client)(nil)

// Client implements the driven.ForgeClient port using the go-github library.
type Client struct {
	gh         *gh.Client
	token      string // Stored for GraphQL Authorization header.
	graphqlURL string // "https://api.github.com/graphql" in production; derived from baseURL in tests.
	webURL     string // Fallback browser URL prefix for repositories.

	mu    sync.Mutex
	names map[string]string // login → full name
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{
		gh:         client,
		token:      token,
		graphqlURL: "https://api.github.com/graphql",
		webURL:     "https://github.com",
		names:      make(map[string]string),
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	// Derive graphqlURL from baseURL so httptest servers can intercept GraphQL requests.
	graphqlU := *u
	graphqlU.Path = "/graphql"

	return &Client{
		gh:         client,
		token:      token,
		graphqlURL: graphqlU.String(),
		webURL:     "https://github.com",
		names:      make(map[string]string),
	}, nil
}

// ListPullRequests returns the pull requests of a repository, most recently
// updated first. A zero since lists every open pull request; otherwise open
// and closed pull requests updated at or after since are listed.
func (c *Client) ListPullRequests(ctx context.Context, repoFullName string, since time.Time) ([]model.PullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	state := "open"
	if !since.IsZero() {
		state = "all"
	}
	opts := &gh.PullRequestListOptions{
		State:     state,
		Sort:      "updated",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			PerPage: 100,
		},
	}

	allPRs := []model.PullRequest{}

	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing pull requests for %s (page %d): %w", repoFullName, opts.Page, err)
		}

		logRateLimit(resp, repoFullName, opts.Page, len(prs))

		// Results are sorted by update time, so the first older entry ends the scan.
		older := false
		for _, pr := range prs {
			if !since.IsZero() && pr.GetUpdatedAt().Before(since) {
				older = true
				break
			}
			allPRs = append(allPRs, c.mapPullRequest(ctx, pr, repoFullName))
		}

		if older || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allPRs, nil
}

// GetPullRequest returns a single pull request. Returns driven.ErrNotFound if
// the pull request does not exist.
func (c *Client) GetPullRequest(ctx context.Context, repoFullName string, number int) (model.PullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return model.PullRequest{}, err
	}

	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return model.PullRequest{}, fmt.Errorf("%s#%d: %w", repoFullName, number, driven.ErrNotFound)
		}
		return model.PullRequest{}, fmt.Errorf("fetching pull request %s#%d: %w", repoFullName, number, err)
	}

	logRateLimit(resp, repoFullName+"/pr", 0, 1)

	return c.mapPullRequest(ctx, pr, repoFullName), nil
}

// ListReviews retrieves all submitted reviews for a pull request.
// It handles pagination automatically and maps go-github types to domain model types.
func (c *Client) ListReviews(ctx context.Context, repoFullName string, number int) ([]model.Review, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var allReviews []model.Review

	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing reviews for %s#%d (page %d): %w", repoFullName, number, opts.Page, err)
		}

		for _, r := range reviews {
			// Pending reviews are drafts only visible to their author.
			if strings.EqualFold(r.GetState(), "PENDING") {
				continue
			}
			allReviews = append(allReviews, c.mapReview(ctx, r))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allReviews, nil
}

// ListReviewComments retrieves all review comments (inline code comments) for a pull request.
// It handles pagination automatically and maps go-github types to domain model types.
func (c *Client) ListReviewComments(ctx context.Context, repoFullName string, number int) ([]model.ReviewComment, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.PullRequestListCommentsOptions{
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var allComments []model.ReviewComment

	for {
		comments, resp, err := c.gh.PullRequests.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing review comments for %s#%d (page %d): %w", repoFullName, number, opts.Page, err)
		}

		for _, comment := range comments {
			allComments = append(allComments, c.mapReviewComment(ctx, comment))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allComments, nil
}

// ListIssueComments retrieves all general PR-level comments (from the Issues API) for a pull request.
// It handles pagination automatically and maps go-github types to domain model types.
func (c *Client) ListIssueComments(ctx context.Context, repoFullName string, number int) ([]model.IssueComment, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var allComments []model.IssueComment

	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing issue comments for %s#%d (page %d): %w", repoFullName, number, opts.Page, err)
		}

		for _, comment := range comments {
			allComments = append(allComments, c.mapIssueComment(ctx, comment))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allComments, nil
}

// CurrentUser returns the account the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (model.User, error) {
	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return model.User{}, fmt.Errorf("fetching authenticated user: %w", err)
	}
	return mapUser(user, user.GetName()), nil
}

// BranchExists reports whether branch exists in the repository.
func (c *Client) BranchExists(ctx context.Context, repoFullName string, branch string) (bool, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return false, err
	}

	// GetBranch reports failures as plain errors, so the status is read from resp.
	_, resp, err := c.gh.Repositories.GetBranch(ctx, owner, repo, branch, 0)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetching branch %s of %s: %w", branch, repoFullName, err)
	}
	return true, nil
}

// FileContents returns the contents of path at ref. Returns driven.ErrNotFound
// if the file does not exist at that ref.
func (c *Client) FileContents(ctx context.Context, repoFullName string, path string, ref string) (string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", err
	}

	content, _, err := c.contents(ctx, owner, repo, path, ref)
	if err != nil {
		if errors.Is(err, driven.ErrNotFound) {
			return "", fmt.Errorf("%s at %s: %w", path, ref, err)
		}
		return "", fmt.Errorf("fetching %s of %s at %s: %w", path, repoFullName, ref, err)
	}
	return content, nil
}

// contents returns the decoded contents and blob SHA of a file. Files above
// the contents API size limit are fetched through the blob API.
func (c *Client) contents(ctx context.Context, owner, repo, path, ref string) (string, string, error) {
	file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return "", "", driven.ErrNotFound
		}
		return "", "", err
	}
	if file == nil {
		return "", "", fmt.Errorf("%s is a directory", path)
	}

	if file.GetEncoding() == "none" {
		raw, _, err := c.gh.Git.GetBlobRaw(ctx, owner, repo, file.GetSHA())
		if err != nil {
			return "", "", fmt.Errorf("fetching blob %s: %w", file.GetSHA(), err)
		}
		return string(raw), file.GetSHA(), nil
	}

	content, err := file.GetContent()
	if err != nil {
		return "", "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return content, file.GetSHA(), nil
}

// fullName returns the profile name of login, or "" if it has none. List
// endpoints omit names, so profiles are fetched once and cached.
func (c *Client) fullName(ctx context.Context, login string) string {
	if login == "" {
		return ""
	}

	c.mu.Lock()
	name, ok := c.names[login]
	c.mu.Unlock()
	if ok {
		return name
	}

	user, _, err := c.gh.Users.Get(ctx, login)
	if err != nil {
		slog.Debug("github user lookup failed", "login", login, "error", err)
		return ""
	}

	c.mu.Lock()
	c.names[login] = user.GetName()
	c.mu.Unlock()
	return user.GetName()
}

func (c *Client) user(ctx context.Context, u *gh.User) model.User {
	if u == nil {
		return model.User{}
	}
	name := u.GetName()
	if name == "" {
		name = c.fullName(ctx, u.GetLogin())
	}
	return mapUser(u, name)
}

// mapUser converts a go-github User to a domain model User.
func mapUser(u *gh.User, fullName string) model.User {
	return model.User{
		ID:       strconv.FormatInt(u.GetID(), 10),
		Login:    u.GetLogin(),
		FullName: fullName,
	}
}

// mapReview converts a go-github PullRequestReview to a domain model Review.
func (c *Client) mapReview(ctx context.Context, r *gh.PullRequestReview) model.Review {
	var verdict model.ReviewVerdict
	switch strings.ToUpper(r.GetState()) {
	case "APPROVED":
		verdict = model.VerdictApproved
	case "CHANGES_REQUESTED":
		verdict = model.VerdictDisapproved
	default:
		verdict = model.VerdictNone
	}

	return model.Review{
		ID:          r.GetID(),
		Reviewer:    c.user(ctx, r.GetUser()),
		Verdict:     verdict,
		Body:        r.GetBody(),
		CommitID:    r.GetCommitID(),
		SubmittedAt: r.GetSubmittedAt().Time,
	}
}

// mapReviewComment converts a go-github PullRequestComment to a domain model ReviewComment.
func (c *Client) mapReviewComment(ctx context.Context, rc *gh.PullRequestComment) model.ReviewComment {
	line := rc.GetOriginalLine()
	if line == 0 {
		line = rc.GetLine()
	}
	commitID := rc.GetOriginalCommitID()
	if commitID == "" {
		commitID = rc.GetCommitID()
	}

	return model.ReviewComment{
		ID:          rc.GetID(),
		InReplyToID: rc.GetInReplyTo(),
		Author:      c.user(ctx, rc.GetUser()),
		Body:        rc.GetBody(),
		Path:        rc.GetPath(),
		Line:        line,
		CommitID:    commitID,
		CreatedAt:   rc.GetCreatedAt().Time,
		UpdatedAt:   rc.GetUpdatedAt().Time,
	}
}

// mapIssueComment converts a go-github IssueComment to a domain model IssueComment.
func (c *Client) mapIssueComment(ctx context.Context, ic *gh.IssueComment) model.IssueComment {
	return model.IssueComment{
		ID:        ic.GetID(),
		Author:    c.user(ctx, ic.GetUser()),
		Body:      ic.GetBody(),
		CreatedAt: ic.GetCreatedAt().Time,
		UpdatedAt: ic.GetUpdatedAt().Time,
	}
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// mapPullRequest converts a go-github PullRequest to a domain model PullRequest.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
// TargetSHA is the base commit GitHub recorded at the last head update.
func (c *Client) mapPullRequest(ctx context.Context, pr *gh.PullRequest, repoFullName string) model.PullRequest {
	state := model.PRStateOpen
	if pr.GetState() == "closed" {
		state = model.PRStateClosed
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}

	webURL := pr.GetBase().GetRepo().GetHTMLURL()
	if webURL == "" {
		webURL = c.webURL + "/" + repoFullName
	}

	return model.PullRequest{
		Number:    pr.GetNumber(),
		Repo:      model.Repository{FullName: repoFullName, WebURL: strings.TrimSuffix(webURL, "/")},
		Title:     pr.GetTitle(),
		Body:      pr.GetBody(),
		Author:    c.user(ctx, pr.GetUser()),
		State:     state,
		IsDraft:   pr.GetDraft(),
		Labels:    labels,
		SourceRef: pr.GetHead().GetRef(),
		TargetRef: pr.GetBase().GetRef(),
		HeadSHA:   pr.GetHead().GetSHA(),
		TargetSHA: pr.GetBase().GetSHA(),
		CreatedAt: pr.GetCreatedAt().Time,
		UpdatedAt: pr.GetUpdatedAt().Time,
	}
}

// isStatus reports whether err is a GitHub API error with the given HTTP status.
func isStatus(err error, code int) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == code
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
