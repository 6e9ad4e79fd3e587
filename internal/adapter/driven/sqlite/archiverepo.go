package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ArchiveStore = (*ArchiveRepo)(nil)

// ArchiveRepo is the SQLite implementation of the ArchiveStore port interface.
// Each file carries a revision counter; every successful write bumps it and
// appends an entry to the commit log.
type ArchiveRepo struct {
	db  *DB
	now func() time.Time
}

// NewArchiveRepo creates a new ArchiveRepo backed by the given DB.
func NewArchiveRepo(db *DB) *ArchiveRepo {
	return &ArchiveRepo{db: db, now: time.Now}
}

// Read returns the archive file at path. Returns driven.ErrArchiveNotFound if
// it was never written.
func (r *ArchiveRepo) Read(ctx context.Context, path string) (driven.ArchiveFile, error) {
	const query = `SELECT contents, revision FROM archive_files WHERE path = ?`

	var contents string
	var revision int64
	err := r.db.Reader.QueryRowContext(ctx, query, path).Scan(&contents, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return driven.ArchiveFile{}, fmt.Errorf("%s: %w", path, driven.ErrArchiveNotFound)
	}
	if err != nil {
		return driven.ArchiveFile{}, fmt.Errorf("read archive %s: %w", path, err)
	}

	return driven.ArchiveFile{
		Path:     path,
		Contents: contents,
		Revision: strconv.FormatInt(revision, 10),
	}, nil
}

// Write stores file if its revision still matches the stored one. Returns
// driven.ErrArchiveConflict otherwise.
func (r *ArchiveRepo) Write(ctx context.Context, file driven.ArchiveFile, message string) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(r.now())

	var result sql.Result
	var revision int64
	if file.Revision == "" {
		revision = 1
		result, err = tx.ExecContext(ctx, `
			INSERT INTO archive_files (path, contents, revision, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO NOTHING
		`, file.Path, file.Contents, revision, now)
	} else {
		expected, parseErr := strconv.ParseInt(file.Revision, 10, 64)
		if parseErr != nil {
			return fmt.Errorf("write archive %s: invalid revision %q: %w", file.Path, file.Revision, parseErr)
		}
		revision = expected + 1
		result, err = tx.ExecContext(ctx, `
			UPDATE archive_files
			SET contents = ?, revision = ?, updated_at = ?
			WHERE path = ? AND revision = ?
		`, file.Contents, revision, now, file.Path, expected)
	}
	if err != nil {
		return fmt.Errorf("write archive %s: %w", file.Path, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", file.Path, driven.ErrArchiveConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO archive_commits (path, revision, message, committed_at)
		VALUES (?, ?, ?, ?)
	`, file.Path, revision, message, now)
	if err != nil {
		return fmt.Errorf("log archive commit for %s: %w", file.Path, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive write %s: %w", file.Path, err)
	}
	return nil
}
