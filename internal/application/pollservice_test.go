package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mlbridge/internal/application"
	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

type pollFixture struct {
	*bridgeFixture
	states *mockPollStates
	queue  *application.WorkQueue
	svc    *application.PollService
}

func newPollFixture(prs ...model.PullRequest) *pollFixture {
	f := &pollFixture{
		bridgeFixture: newBridgeFixture(),
		states:        newMockPollStates(),
	}
	f.forge.listPRs = func(_ context.Context, _ string, _ time.Time) ([]model.PullRequest, error) {
		return prs, nil
	}
	f.queue = application.NewWorkQueue(2, discardLogger(), nil)
	f.svc = application.NewPollService(
		f.forge,
		f.states,
		application.NewQuarantine(),
		f.queue,
		[]*application.Bridge{f.bridge()},
		time.Hour,
		discardLogger(),
	)
	return f
}

// start runs the service in the background. The returned function stops it
// and waits for queued work to drain.
func (f *pollFixture) start(t *testing.T) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Start(ctx)
		close(done)
	}()
	return ctx, func() {
		cancel()
		<-done
		f.queue.Wait()
	}
}

func TestPollService_BridgesPolledPullRequests(t *testing.T) {
	f := newPollFixture(openPR())
	ctx, stop := f.start(t)

	// The refresh is only served after the initial poll.
	require.NoError(t, f.svc.RefreshRepo(ctx, repo.FullName))
	stop()

	require.Len(t, f.mail.posted, 1)
	assert.Equal(t, "RFR: 8000001: Fix frobnicator", f.mail.posted[0].Subject)
	require.Len(t, f.archive.writes, 1)
	require.NotEmpty(t, f.states.upserts)
	assert.Equal(t, 7, f.states.upserts[0].Number)
	assert.Equal(t, headHash, f.states.upserts[0].HeadSHA)
}

func TestPollService_RefreshPR(t *testing.T) {
	f := newPollFixture()
	f.forge.prs = map[int]model.PullRequest{7: openPR()}
	ctx, stop := f.start(t)

	require.NoError(t, f.svc.RefreshPR(ctx, repo.FullName, 7))
	stop()

	assert.Len(t, f.mail.posted, 1)
}

func TestPollService_RefreshErrors(t *testing.T) {
	f := newPollFixture()
	ctx, stop := f.start(t)
	defer stop()

	err := f.svc.RefreshRepo(ctx, "openjdk/jdk")
	assert.ErrorIs(t, err, application.ErrUnknownRepository)

	err = f.svc.RefreshPR(ctx, repo.FullName, 404)
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestPollService_RefreshHonorsContext(t *testing.T) {
	f := newPollFixture()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.svc.RefreshRepo(ctx, repo.FullName)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollService_Schedules(t *testing.T) {
	f := newPollFixture(openPR())

	schedules := f.svc.Schedules()
	require.Contains(t, schedules, repo.FullName)
	assert.True(t, schedules[repo.FullName].LastPolled.IsZero())

	ctx, stop := f.start(t)
	require.NoError(t, f.svc.RefreshRepo(ctx, repo.FullName))
	stop()

	info := f.svc.Schedules()[repo.FullName]
	assert.False(t, info.LastPolled.IsZero())
	assert.True(t, info.NextPollAt.After(info.LastPolled))
}
