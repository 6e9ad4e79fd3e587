package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mlbridge/internal/application"
	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

func prNumbers(prs []model.PullRequest) []int {
	out := make([]int, 0, len(prs))
	for _, pr := range prs {
		out = append(out, pr.Number)
	}
	return out
}

func testPR(number int, state model.PRState, updated time.Time) model.PullRequest {
	return model.PullRequest{
		Number:    number,
		Repo:      repo,
		State:     state,
		HeadSHA:   headHash,
		UpdatedAt: updated,
	}
}

func newPoller(forge *mockForge, states *mockPollStates) (*application.PullRequestPoller, *application.Quarantine) {
	q := application.NewQuarantine()
	return application.NewPullRequestPoller(repo.FullName, forge, states, q, discardLogger()), q
}

func TestPoller_FirstRoundIncludesOpenAndRecentClosed(t *testing.T) {
	now := time.Now()
	forge := &mockForge{
		listPRs: func(_ context.Context, _ string, since time.Time) ([]model.PullRequest, error) {
			if since.IsZero() {
				return []model.PullRequest{testPR(1, model.PRStateOpen, now.Add(-30*24*time.Hour))}, nil
			}
			return []model.PullRequest{
				testPR(1, model.PRStateOpen, now.Add(-30*24*time.Hour)),
				testPR(2, model.PRStateClosed, now.Add(-time.Hour)),
				testPR(3, model.PRStateOpen, now.Add(-time.Hour)),
			}, nil
		},
	}
	poller, _ := newPoller(forge, newMockPollStates())

	prs, err := poller.Updated(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, prNumbers(prs), "recent open PRs come from the open query")
	require.Len(t, forge.listCalls, 2)
	assert.True(t, forge.listCalls[0].IsZero())
	assert.WithinDuration(t, now.Add(-7*24*time.Hour), forge.listCalls[1], time.Minute)
}

func TestPoller_SkipsUnchangedAndQueriesIncrementally(t *testing.T) {
	updated := time.Now().Add(-time.Hour).Truncate(time.Second)
	forge := &mockForge{
		listPRs: func(_ context.Context, _ string, _ time.Time) ([]model.PullRequest, error) {
			return []model.PullRequest{testPR(1, model.PRStateOpen, updated)}, nil
		},
	}
	states := newMockPollStates()
	poller, _ := newPoller(forge, states)
	ctx := context.Background()

	prs, err := poller.Updated(ctx)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	poller.BatchHandled()
	require.NoError(t, poller.Handled(ctx, prs[0]))

	forge.listCalls = nil
	prs, err = poller.Updated(ctx)
	require.NoError(t, err)

	assert.Empty(t, prs, "unchanged PR is skipped")
	require.Len(t, forge.listCalls, 1)
	assert.Equal(t, updated.Add(-time.Minute), forge.listCalls[0])
	require.Len(t, states.upserts, 1)
	assert.Equal(t, updated, states.upserts[0].UpdatedAt)
}

func TestPoller_NewHeadIsUpdated(t *testing.T) {
	updated := time.Now().Add(-time.Hour)
	head := headHash
	forge := &mockForge{
		listPRs: func(_ context.Context, _ string, _ time.Time) ([]model.PullRequest, error) {
			pr := testPR(1, model.PRStateOpen, updated)
			pr.HeadSHA = head
			return []model.PullRequest{pr}, nil
		},
	}
	poller, _ := newPoller(forge, newMockPollStates())
	ctx := context.Background()

	prs, err := poller.Updated(ctx)
	require.NoError(t, err)
	poller.BatchHandled()
	require.NoError(t, poller.Handled(ctx, prs[0]))

	head = "d000000000000000000000000000000000000000"
	prs, err = poller.Updated(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, prNumbers(prs))
}

func TestPoller_Retries(t *testing.T) {
	forge := &mockForge{
		listPRs: func(_ context.Context, _ string, _ time.Time) ([]model.PullRequest, error) {
			return nil, nil
		},
	}
	poller, _ := newPoller(forge, newMockPollStates())
	ctx := context.Background()

	failed := testPR(4, model.PRStateOpen, time.Now())
	later := testPR(5, model.PRStateOpen, time.Now())
	poller.Retry(failed)
	poller.RetryAt(later, time.Now().Add(time.Hour))
	assert.True(t, poller.Pending())

	prs, err := poller.Updated(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, prNumbers(prs))

	poller.BatchHandled()
	prs, err = poller.Updated(ctx)
	require.NoError(t, err)
	assert.Empty(t, prs, "acknowledged retry is not returned again")
	assert.True(t, poller.Pending(), "future retry is still pending")
}

func TestPoller_Quarantine(t *testing.T) {
	returned := []model.PullRequest{testPR(6, model.PRStateOpen, time.Now().Add(-time.Hour))}
	forge := &mockForge{
		listPRs: func(_ context.Context, _ string, _ time.Time) ([]model.PullRequest, error) {
			return returned, nil
		},
	}
	poller, quarantine := newPoller(forge, newMockPollStates())
	ctx := context.Background()

	prs, err := poller.Updated(ctx)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	poller.BatchHandled()
	poller.Quarantine(prs[0], time.Now().Add(time.Hour))

	prs, err = poller.Updated(ctx)
	require.NoError(t, err)
	assert.Empty(t, prs, "quarantined PR is held back")
	assert.True(t, poller.Pending())
	assert.Equal(t, application.InQuarantine, quarantine.Status(returned[0].Key()))
	assert.Len(t, quarantine.List(), 1)
}

func TestPoller_QuarantineReleaseReturnsHeldPR(t *testing.T) {
	pr := testPR(8, model.PRStateOpen, time.Now().Add(-time.Hour))
	forge := &mockForge{
		listPRs: func(_ context.Context, _ string, _ time.Time) ([]model.PullRequest, error) {
			return nil, nil
		},
	}
	poller, quarantine := newPoller(forge, newMockPollStates())
	ctx := context.Background()

	poller.Quarantine(pr, time.Now().Add(-time.Second))

	prs, err := poller.Updated(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{8}, prNumbers(prs), "released PR gets one more pass without new activity")
	assert.Equal(t, application.NotInQuarantine, quarantine.Status(pr.Key()))
	assert.False(t, poller.Pending())

	poller.BatchHandled()
	prs, err = poller.Updated(ctx)
	require.NoError(t, err)
	assert.Empty(t, prs)
}
