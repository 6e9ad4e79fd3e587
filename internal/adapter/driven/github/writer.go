package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ForgeWriter = (*Client)(nil)

// AddComment adds a PR-level comment via the Issues API.
func (c *Client) AddComment(ctx context.Context, repoFullName string, number int, body string) (model.IssueComment, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return model.IssueComment{}, err
	}

	comment, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return model.IssueComment{}, fmt.Errorf("creating comment on %s#%d: %w", repoFullName, number, err)
	}

	logRateLimit(resp, repoFullName+"/create-comment", 0, 1)
	return c.mapIssueComment(ctx, comment), nil
}

// UpdateComment replaces the body of an existing PR-level comment.
func (c *Client) UpdateComment(ctx context.Context, repoFullName string, commentID int64, body string) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	_, resp, err := c.gh.Issues.EditComment(ctx, owner, repo, commentID, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return fmt.Errorf("updating comment %d on %s: %w", commentID, repoFullName, err)
	}

	logRateLimit(resp, repoFullName+"/update-comment", 0, 1)
	return nil
}
