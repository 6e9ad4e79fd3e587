package github_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghAdapter "github.com/ericfisherdev/mlbridge/internal/adapter/driven/github"
	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler) (*ghAdapter.Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := ghAdapter.NewClientWithHTTPClient(
		server.Client(),
		server.URL+"/",
		"test-token",
	)
	require.NoError(t, err)

	return client, server
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// prJSON is a helper struct for building GitHub API pull request responses.
type prJSON struct {
	Number         int       `json:"number"`
	Title          string    `json:"title"`
	Body           string    `json:"body,omitempty"`
	State          string    `json:"state"`
	Draft          bool      `json:"draft"`
	User           userJSON  `json:"user"`
	Head           refJSON   `json:"head"`
	Base           refJSON   `json:"base"`
	Labels         []lblJSON `json:"labels"`
	Created        string    `json:"created_at"`
	Updated        string    `json:"updated_at"`
	Merged         bool      `json:"merged,omitempty"`
	MergedAt       *string   `json:"merged_at,omitempty"`
	MergeCommitSHA string    `json:"merge_commit_sha,omitempty"`
}

type userJSON struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
}

type refJSON struct {
	Ref  string    `json:"ref"`
	SHA  string    `json:"sha,omitempty"`
	Repo *repoJSON `json:"repo,omitempty"`
}

type repoJSON struct {
	HTMLURL string `json:"html_url"`
}

type lblJSON struct {
	Name string `json:"name"`
}

func samplePR(number int, updated string) prJSON {
	return prJSON{
		Number:  number,
		Title:   fmt.Sprintf("800000%d: Fix frobnicator", number),
		Body:    "Fixes it.",
		State:   "open",
		User:    userJSON{ID: 7, Login: "duke"},
		Head:    refJSON{Ref: "fix", SHA: "a100"},
		Base:    refJSON{Ref: "master", SHA: "c000", Repo: &repoJSON{HTMLURL: "https://github.com/openjdk/skara"}},
		Labels:  []lblJSON{{Name: "rfr"}},
		Created: "2026-01-01T00:00:00Z",
		Updated: updated,
	}
}

// usersHandler serves profile lookups used to fill in full names.
func usersHandler(mux *http.ServeMux) {
	mux.HandleFunc("GET /users/{login}", func(w http.ResponseWriter, r *http.Request) {
		names := map[string]string{"duke": "Duke", "alice": "Alice"}
		login := r.PathValue("login")
		writeJSON(w, userJSON{Login: login, Name: names[login]})
	})
}

func TestListPullRequests_OpenOnly(t *testing.T) {
	mux := http.NewServeMux()
	usersHandler(mux)
	mux.HandleFunc("GET /repos/openjdk/skara/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		writeJSON(w, []prJSON{samplePR(1, "2026-01-02T12:00:00Z")})
	})

	client, _ := newTestClient(t, mux)
	result, err := client.ListPullRequests(context.Background(), "openjdk/skara", time.Time{})

	require.NoError(t, err)
	require.Len(t, result, 1)

	pr := result[0]
	assert.Equal(t, 1, pr.Number)
	assert.Equal(t, model.Repository{FullName: "openjdk/skara", WebURL: "https://github.com/openjdk/skara"}, pr.Repo)
	assert.Equal(t, "8000001: Fix frobnicator", pr.Title)
	assert.Equal(t, "Fixes it.", pr.Body)
	assert.Equal(t, model.User{ID: "7", Login: "duke", FullName: "Duke"}, pr.Author)
	assert.Equal(t, model.PRStateOpen, pr.State)
	assert.Equal(t, []string{"rfr"}, pr.Labels)
	assert.Equal(t, "fix", pr.SourceRef)
	assert.Equal(t, "master", pr.TargetRef)
	assert.Equal(t, "a100", pr.HeadSHA)
	assert.Equal(t, "c000", pr.TargetSHA)
	assert.Equal(t, time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC), pr.UpdatedAt)
}

func TestListPullRequests_SinceStopsAtOlder(t *testing.T) {
	var page2Requested bool
	mux := http.NewServeMux()
	usersHandler(mux)
	mux.HandleFunc("GET /repos/openjdk/skara/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		if r.URL.Query().Get("page") == "2" {
			page2Requested = true
			writeJSON(w, []prJSON{})
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next"`, "http://"+r.Host+r.URL.Path))
		closed := samplePR(2, "2026-01-01T00:00:00Z")
		closed.State = "closed"
		writeJSON(w, []prJSON{
			samplePR(1, "2026-01-05T00:00:00Z"),
			closed,
		})
	})

	client, _ := newTestClient(t, mux)
	since := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	result, err := client.ListPullRequests(context.Background(), "openjdk/skara", since)

	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, 1, result[0].Number)
	assert.False(t, page2Requested, "older entries end the scan")
}

func TestListPullRequests_Pagination(t *testing.T) {
	mux := http.NewServeMux()
	usersHandler(mux)
	mux.HandleFunc("GET /repos/openjdk/skara/pulls", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if page == "" || page == "1" {
			// Page 1: include Link header pointing to page 2
			w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next"`, "http://"+r.Host+r.URL.Path))
			writeJSON(w, []prJSON{samplePR(1, "2026-01-02T00:00:00Z")})
			return
		}
		// Page 2: no Link header (last page)
		writeJSON(w, []prJSON{samplePR(2, "2026-01-01T00:00:00Z")})
	})

	client, _ := newTestClient(t, mux)
	result, err := client.ListPullRequests(context.Background(), "openjdk/skara", time.Time{})

	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, 1, result[0].Number)
	assert.Equal(t, 2, result[1].Number)
}

func TestListPullRequests_EmptyRepo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/openjdk/skara/pulls", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []prJSON{})
	})

	client, _ := newTestClient(t, mux)
	result, err := client.ListPullRequests(context.Background(), "openjdk/skara", time.Time{})

	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Empty(t, result)
}

func TestListPullRequests_InvalidRepoName(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	for _, name := range []string{"", "noslash", "/repo", "owner/"} {
		_, err := client.ListPullRequests(context.Background(), name, time.Time{})
		assert.Error(t, err, "repo name %q", name)
	}
}

func TestGetPullRequest_MergedWithoutLabel(t *testing.T) {
	mux := http.NewServeMux()
	usersHandler(mux)
	mux.HandleFunc("GET /repos/openjdk/skara/pulls/3", func(w http.ResponseWriter, _ *http.Request) {
		pr := samplePR(3, "2026-01-02T00:00:00Z")
		pr.State = "closed"
		pr.Merged = true
		mergedAt := "2026-01-02T00:00:00Z"
		pr.MergedAt = &mergedAt
		pr.MergeCommitSHA = "m300"
		writeJSON(w, pr)
	})

	client, _ := newTestClient(t, mux)
	pr, err := client.GetPullRequest(context.Background(), "openjdk/skara", 3)

	require.NoError(t, err)
	assert.Equal(t, model.PRStateClosed, pr.State)
	assert.False(t, pr.IsIntegrated(), "a forge merge is not an integration claim")
}

func TestGetPullRequest_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	_, err := client.GetPullRequest(context.Background(), "openjdk/skara", 404)
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestListReviews(t *testing.T) {
	mux := http.NewServeMux()
	usersHandler(mux)
	mux.HandleFunc("GET /repos/openjdk/skara/pulls/1/reviews", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{"id": 1, "user": userJSON{ID: 2, Login: "alice"}, "state": "APPROVED", "body": "Looks good", "commit_id": "a100", "submitted_at": "2026-01-02T00:00:00Z"},
			{"id": 2, "user": userJSON{ID: 2, Login: "alice"}, "state": "CHANGES_REQUESTED", "body": "Please fix", "commit_id": "a100", "submitted_at": "2026-01-03T00:00:00Z"},
			{"id": 3, "user": userJSON{ID: 2, Login: "alice"}, "state": "COMMENTED", "body": "", "commit_id": "a100", "submitted_at": "2026-01-04T00:00:00Z"},
			{"id": 4, "user": userJSON{ID: 2, Login: "alice"}, "state": "PENDING", "body": "draft"},
		})
	})

	client, _ := newTestClient(t, mux)
	reviews, err := client.ListReviews(context.Background(), "openjdk/skara", 1)

	require.NoError(t, err)
	require.Len(t, reviews, 3, "pending reviews are skipped")
	assert.Equal(t, model.VerdictApproved, reviews[0].Verdict)
	assert.Equal(t, model.User{ID: "2", Login: "alice", FullName: "Alice"}, reviews[0].Reviewer)
	assert.Equal(t, "Looks good", reviews[0].Body)
	assert.Equal(t, "a100", reviews[0].CommitID)
	assert.Equal(t, model.VerdictDisapproved, reviews[1].Verdict)
	assert.Equal(t, model.VerdictNone, reviews[2].Verdict)
}

func TestListReviewComments(t *testing.T) {
	mux := http.NewServeMux()
	usersHandler(mux)
	mux.HandleFunc("GET /repos/openjdk/skara/pulls/1/comments", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{
				"id": 10, "user": userJSON{ID: 2, Login: "alice"}, "body": "Why?",
				"path": "src/Main.java", "line": 14, "original_line": 12,
				"commit_id": "a200", "original_commit_id": "a100",
				"created_at": "2026-01-02T00:00:00Z", "updated_at": "2026-01-02T00:00:00Z",
			},
			{
				"id": 11, "user": userJSON{ID: 7, Login: "duke"}, "body": "Because.",
				"path": "src/Main.java", "line": 14, "original_line": 12, "in_reply_to_id": 10,
				"commit_id": "a200", "original_commit_id": "a100",
				"created_at": "2026-01-03T00:00:00Z", "updated_at": "2026-01-03T00:00:00Z",
			},
		})
	})

	client, _ := newTestClient(t, mux)
	comments, err := client.ListReviewComments(context.Background(), "openjdk/skara", 1)

	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, int64(10), comments[0].ID)
	assert.True(t, comments[0].IsThreadStart())
	assert.Equal(t, 12, comments[0].Line, "line on the commented commit")
	assert.Equal(t, "a100", comments[0].CommitID)
	assert.Equal(t, "src/Main.java", comments[0].Path)
	assert.Equal(t, int64(10), comments[1].InReplyToID)
	assert.Equal(t, int64(10), comments[1].ThreadID())
	assert.Equal(t, "Duke", comments[1].Author.FullName)
}

func TestListIssueComments(t *testing.T) {
	mux := http.NewServeMux()
	usersHandler(mux)
	mux.HandleFunc("GET /repos/openjdk/skara/issues/1/comments", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{"id": 100, "user": userJSON{ID: 2, Login: "alice", Name: "Alice Profile"}, "body": "Nice", "created_at": "2026-01-02T00:00:00Z", "updated_at": "2026-01-02T01:00:00Z"},
		})
	})

	client, _ := newTestClient(t, mux)
	comments, err := client.ListIssueComments(context.Background(), "openjdk/skara", 1)

	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, int64(100), comments[0].ID)
	assert.Equal(t, "Alice Profile", comments[0].Author.FullName, "inline name wins over lookup")
	assert.Equal(t, "Nice", comments[0].Body)
	assert.Equal(t, time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC), comments[0].UpdatedAt)
}

func TestCurrentUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, userJSON{ID: 99, Login: "bridge-bot", Name: "Bridge Bot"})
	})

	client, _ := newTestClient(t, mux)
	user, err := client.CurrentUser(context.Background())

	require.NoError(t, err)
	assert.Equal(t, model.User{ID: "99", Login: "bridge-bot", FullName: "Bridge Bot"}, user)
}

func TestBranchExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/openjdk/skara/branches/master", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"name": "master"})
	})

	client, _ := newTestClient(t, mux)

	exists, err := client.BranchExists(context.Background(), "openjdk/skara", "master")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.BranchExists(context.Background(), "openjdk/skara", "gone")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileContents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/openjdk/skara/contents/src/Main.java", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a100", r.URL.Query().Get("ref"))
		writeJSON(w, map[string]any{
			"type":     "file",
			"encoding": "base64",
			"sha":      "blob1",
			"content":  base64.StdEncoding.EncodeToString([]byte("one\ntwo\n")),
		})
	})

	client, _ := newTestClient(t, mux)

	content, err := client.FileContents(context.Background(), "openjdk/skara", "src/Main.java", "a100")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", content)

	_, err = client.FileContents(context.Background(), "openjdk/skara", "missing.txt", "a100")
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestAddAndUpdateComment(t *testing.T) {
	var created, edited map[string]any
	mux := http.NewServeMux()
	usersHandler(mux)
	mux.HandleFunc("POST /repos/openjdk/skara/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &created)
		writeJSON(w, map[string]any{"id": 555, "body": created["body"], "user": userJSON{ID: 99, Login: "bridge-bot"}})
	})
	mux.HandleFunc("PATCH /repos/openjdk/skara/issues/comments/555", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &edited)
		writeJSON(w, map[string]any{"id": 555, "body": edited["body"]})
	})

	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	comment, err := client.AddComment(ctx, "openjdk/skara", 1, "Webrevs")
	require.NoError(t, err)
	assert.Equal(t, int64(555), comment.ID)
	assert.Equal(t, "Webrevs", comment.Body)
	assert.Equal(t, "Webrevs", created["body"])

	require.NoError(t, client.UpdateComment(ctx, "openjdk/skara", 555, "Webrevs v2"))
	assert.Equal(t, "Webrevs v2", edited["body"])
}
