package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PollStateStore = (*PollStateRepo)(nil)

// PollStateRepo is the SQLite implementation of the PollStateStore port interface.
type PollStateRepo struct {
	db *DB
}

// NewPollStateRepo creates a new PollStateRepo backed by the given DB.
func NewPollStateRepo(db *DB) *PollStateRepo {
	return &PollStateRepo{db: db}
}

// Upsert inserts or replaces the poll state of a pull request.
func (r *PollStateRepo) Upsert(ctx context.Context, state model.PollState) error {
	const query = `
		INSERT INTO poll_state (repo_full_name, number, updated_at, head_sha, handled_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repo_full_name, number) DO UPDATE SET
			updated_at = excluded.updated_at,
			head_sha = excluded.head_sha,
			handled_at = excluded.handled_at
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		state.RepoFullName, state.Number,
		formatTime(state.UpdatedAt), state.HeadSHA, formatTime(state.HandledAt),
	)
	if err != nil {
		return fmt.Errorf("upsert poll state %s#%d: %w", state.RepoFullName, state.Number, err)
	}

	return nil
}

// Get returns the poll state of a pull request. Returns (nil, nil) if none
// was recorded.
func (r *PollStateRepo) Get(ctx context.Context, repoFullName string, number int) (*model.PollState, error) {
	const query = `
		SELECT updated_at, head_sha, handled_at
		FROM poll_state
		WHERE repo_full_name = ? AND number = ?
	`

	state := model.PollState{RepoFullName: repoFullName, Number: number}
	var updatedAt, handledAt string

	err := r.db.Reader.QueryRowContext(ctx, query, repoFullName, number).Scan(&updatedAt, &state.HeadSHA, &handledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get poll state %s#%d: %w", repoFullName, number, err)
	}

	if state.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if state.HandledAt, err = parseTime(handledAt); err != nil {
		return nil, fmt.Errorf("parse handled_at: %w", err)
	}

	return &state, nil
}
