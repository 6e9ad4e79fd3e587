package driven

import (
	"context"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// PollStateStore defines the driven port for poller bookkeeping.
type PollStateStore interface {
	Upsert(ctx context.Context, state model.PollState) error
	// Get returns nil, nil when no state has been recorded.
	Get(ctx context.Context, repoFullName string, number int) (*model.PollState, error)
}
