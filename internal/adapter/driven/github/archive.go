package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ArchiveStore = (*ArchiveStore)(nil)

// ArchiveStore keeps the mbox archive as files in a GitHub repository. Every
// write is a commit on the configured branch; the blob SHA is the revision.
type ArchiveStore struct {
	client    *Client
	repo      string
	branch    string
	committer model.Address
}

// NewArchiveStore creates an archive backed by repoFullName at branch. Commits
// are attributed to committer.
func NewArchiveStore(client *Client, repoFullName, branch string, committer model.Address) *ArchiveStore {
	return &ArchiveStore{
		client:    client,
		repo:      repoFullName,
		branch:    branch,
		committer: committer,
	}
}

// Read returns the archive file at path. Returns driven.ErrArchiveNotFound if
// it was never written.
func (s *ArchiveStore) Read(ctx context.Context, path string) (driven.ArchiveFile, error) {
	owner, repo, err := splitRepo(s.repo)
	if err != nil {
		return driven.ArchiveFile{}, err
	}

	content, sha, err := s.client.contents(ctx, owner, repo, path, s.branch)
	if err != nil {
		if errors.Is(err, driven.ErrNotFound) {
			return driven.ArchiveFile{}, fmt.Errorf("%s: %w", path, driven.ErrArchiveNotFound)
		}
		return driven.ArchiveFile{}, fmt.Errorf("reading archive %s: %w", path, err)
	}

	return driven.ArchiveFile{Path: path, Contents: content, Revision: sha}, nil
}

// Write commits file to the archive branch. GitHub rejects the commit when
// file.Revision is not the current blob SHA, which is reported as
// driven.ErrArchiveConflict.
func (s *ArchiveStore) Write(ctx context.Context, file driven.ArchiveFile, message string) error {
	owner, repo, err := splitRepo(s.repo)
	if err != nil {
		return err
	}

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: []byte(file.Contents),
		Branch:  gh.Ptr(s.branch),
	}
	if !s.committer.IsZero() {
		opts.Committer = &gh.CommitAuthor{
			Name:  gh.Ptr(s.committer.Name),
			Email: gh.Ptr(s.committer.Address),
		}
	}

	var resp *gh.Response
	if file.Revision == "" {
		_, resp, err = s.client.gh.Repositories.CreateFile(ctx, owner, repo, file.Path, opts)
	} else {
		opts.SHA = gh.Ptr(file.Revision)
		_, resp, err = s.client.gh.Repositories.UpdateFile(ctx, owner, repo, file.Path, opts)
	}
	if err != nil {
		// 409: stale SHA. 422: file created by someone else since the read.
		if isStatus(err, http.StatusConflict) || isStatus(err, http.StatusUnprocessableEntity) {
			return fmt.Errorf("%s: %w", file.Path, driven.ErrArchiveConflict)
		}
		return fmt.Errorf("writing archive %s: %w", file.Path, err)
	}

	logRateLimit(resp, s.repo+"/archive", 0, 1)
	return nil
}
