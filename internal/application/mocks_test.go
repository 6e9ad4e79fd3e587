package application_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockForge struct {
	mu sync.Mutex

	listPRs        func(ctx context.Context, repoFullName string, since time.Time) ([]model.PullRequest, error)
	listCalls      []time.Time
	prs            map[int]model.PullRequest
	comments       []model.IssueComment
	reviews        []model.Review
	reviewComments []model.ReviewComment
	lastDraft      time.Time
	user           model.User
	branches       map[string]bool
}

func (m *mockForge) ListPullRequests(ctx context.Context, repoFullName string, since time.Time) ([]model.PullRequest, error) {
	m.mu.Lock()
	m.listCalls = append(m.listCalls, since)
	m.mu.Unlock()
	return m.listPRs(ctx, repoFullName, since)
}

func (m *mockForge) GetPullRequest(_ context.Context, repoFullName string, number int) (model.PullRequest, error) {
	pr, ok := m.prs[number]
	if !ok {
		return model.PullRequest{}, fmt.Errorf("%s#%d: %w", repoFullName, number, driven.ErrNotFound)
	}
	return pr, nil
}

func (m *mockForge) ListIssueComments(_ context.Context, _ string, _ int) ([]model.IssueComment, error) {
	return m.comments, nil
}

func (m *mockForge) ListReviews(_ context.Context, _ string, _ int) ([]model.Review, error) {
	return m.reviews, nil
}

func (m *mockForge) ListReviewComments(_ context.Context, _ string, _ int) ([]model.ReviewComment, error) {
	return m.reviewComments, nil
}

func (m *mockForge) LastMarkedAsDraft(_ context.Context, _ string, _ int) (time.Time, error) {
	if m.lastDraft.IsZero() {
		return time.Time{}, driven.ErrNotFound
	}
	return m.lastDraft, nil
}

func (m *mockForge) CurrentUser(_ context.Context) (model.User, error) {
	return m.user, nil
}

func (m *mockForge) BranchExists(_ context.Context, _ string, branch string) (bool, error) {
	return m.branches[branch], nil
}

func (m *mockForge) FileContents(_ context.Context, _ string, _ string, _ string) (string, error) {
	return "one\ntwo\nthree\n", nil
}

type commentUpdate struct {
	ID   int64
	Body string
}

type mockWriter struct {
	added   []string
	updated []commentUpdate
}

func (m *mockWriter) AddComment(_ context.Context, _ string, _ int, body string) (model.IssueComment, error) {
	m.added = append(m.added, body)
	return model.IssueComment{ID: int64(1000 + len(m.added)), Body: body}, nil
}

func (m *mockWriter) UpdateComment(_ context.Context, _ string, id int64, body string) error {
	m.updated = append(m.updated, commentUpdate{ID: id, Body: body})
	return nil
}

type mockPollStates struct {
	mu      sync.Mutex
	states  map[string]model.PollState
	upserts []model.PollState
}

func newMockPollStates() *mockPollStates {
	return &mockPollStates{states: make(map[string]model.PollState)}
}

func (m *mockPollStates) Upsert(_ context.Context, state model.PollState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[fmt.Sprintf("%s#%d", state.RepoFullName, state.Number)] = state
	m.upserts = append(m.upserts, state)
	return nil
}

func (m *mockPollStates) Get(_ context.Context, repoFullName string, number int) (*model.PollState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[fmt.Sprintf("%s#%d", repoFullName, number)]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

type archiveWrite struct {
	File    driven.ArchiveFile
	Message string
}

type mockArchiveStore struct {
	files     map[string]driven.ArchiveFile
	writes    []archiveWrite
	conflicts int // Number of writes to reject before accepting.
}

func (m *mockArchiveStore) Read(_ context.Context, path string) (driven.ArchiveFile, error) {
	f, ok := m.files[path]
	if !ok {
		return driven.ArchiveFile{}, driven.ErrArchiveNotFound
	}
	return f, nil
}

func (m *mockArchiveStore) Write(_ context.Context, file driven.ArchiveFile, message string) error {
	if m.conflicts > 0 {
		m.conflicts--
		return driven.ErrArchiveConflict
	}
	if m.files == nil {
		m.files = make(map[string]driven.ArchiveFile)
	}
	file.Revision = fmt.Sprintf("r%d", len(m.writes)+1)
	m.files[file.Path] = file
	m.writes = append(m.writes, archiveWrite{File: file, Message: message})
	return nil
}

type mockMail struct {
	posted []model.Email
}

func (m *mockMail) Post(_ context.Context, e model.Email) error {
	m.posted = append(m.posted, e)
	return nil
}

type mockNotifier struct {
	threads []model.Email
}

func (m *mockNotifier) NewThread(_ context.Context, _ model.PullRequest, e model.Email) error {
	m.threads = append(m.threads, e)
	return nil
}

type mockRepoPool struct {
	repo *mockLocalRepo
	tip  string // Target tip to report; the pull request's TargetSHA when empty.
	dirs []string
}

func (m *mockRepoPool) Materialize(_ context.Context, pr model.PullRequest, dir string) (driven.LocalRepository, string, error) {
	m.dirs = append(m.dirs, dir)
	if m.tip != "" {
		return m.repo, m.tip, nil
	}
	return m.repo, pr.TargetSHA, nil
}

type mockLocalRepo struct {
	mergeBase     string
	commits       []model.Commit
	mergeBaseArgs [][2]string
}

func (m *mockLocalRepo) Resolve(_ context.Context, rev string) (string, error) { return rev, nil }

func (m *mockLocalRepo) Fetch(_ context.Context, _ string, ref string) (string, error) {
	return "", fmt.Errorf("fetch %s: %w", ref, driven.ErrNotFound)
}

func (m *mockLocalRepo) MergeBase(_ context.Context, a, b string) (string, error) {
	m.mergeBaseArgs = append(m.mergeBaseArgs, [2]string{a, b})
	return m.mergeBase, nil
}

func (m *mockLocalRepo) IsAncestor(_ context.Context, _, _ string) (bool, error) { return false, nil }

func (m *mockLocalRepo) Commits(_ context.Context, _, _ string) ([]model.Commit, error) {
	return m.commits, nil
}

func (m *mockLocalRepo) Lookup(_ context.Context, hash string) (model.Commit, error) {
	return model.Commit{}, fmt.Errorf("lookup %s: %w", hash, driven.ErrNotFound)
}

func (m *mockLocalRepo) DiffStats(_ context.Context, _, _ string) (model.DiffStats, error) {
	return model.DiffStats{Added: 1, Removed: 1, Files: 1}, nil
}

func (m *mockLocalRepo) Diff(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (m *mockLocalRepo) Rebase(_ context.Context, _, _ string) (string, error) {
	return "", driven.ErrRebaseFailed
}

func (m *mockLocalRepo) MergeConflicts(_ context.Context, _, _, _ string) (string, bool, error) {
	return "", false, nil
}

type mockWebrevs struct{}

func (mockWebrevs) Generate(_ context.Context, req driven.WebrevRequest) (model.WebrevDescription, error) {
	return model.WebrevDescription{
		Type: req.Type,
		URL:  fmt.Sprintf("https://webrevs.example/%d/webrev.%s", req.PR.Number, req.Identifier),
	}, nil
}

// mockDirectory knows only the users in census.
type mockDirectory struct {
	census map[string]string // login → census username
}

func (m mockDirectory) EmailAuthor(u model.User) model.Address {
	name, ok := m.census[u.Login]
	if !ok {
		return model.Address{}
	}
	return model.Address{Name: u.FullName, Address: name + "@openjdk.org"}
}

func (m mockDirectory) Username(u model.User) string { return u.Login }

func (m mockDirectory) Role(model.User) string { return "Committer" }

type mockMetrics struct {
	sent      int
	deferrals int
}

func (m *mockMetrics) EmailsSent(n int) { m.sent += n }

func (m *mockMetrics) CooldownDeferred() { m.deferrals++ }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
