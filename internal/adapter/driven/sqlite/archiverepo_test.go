package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

func TestArchiveRepo_ReadMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArchiveRepo(db)

	_, err := repo.Read(context.Background(), "openjdk/skara/7.mbox")
	assert.ErrorIs(t, err, driven.ErrArchiveNotFound)
}

func TestArchiveRepo_CreateAndAppend(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArchiveRepo(db)
	ctx := context.Background()

	err := repo.Write(ctx, driven.ArchiveFile{Path: "openjdk/skara/7.mbox", Contents: "one\n"}, "Adding comments for PR openjdk/skara/7")
	require.NoError(t, err)

	file, err := repo.Read(ctx, "openjdk/skara/7.mbox")
	require.NoError(t, err)
	assert.Equal(t, "one\n", file.Contents)
	assert.Equal(t, "1", file.Revision)

	file.Contents += "two\n"
	require.NoError(t, repo.Write(ctx, file, "Adding comments for PR openjdk/skara/7"))

	file, err = repo.Read(ctx, "openjdk/skara/7.mbox")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", file.Contents)
	assert.Equal(t, "2", file.Revision)
}

func TestArchiveRepo_Conflicts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArchiveRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Write(ctx, driven.ArchiveFile{Path: "a.mbox", Contents: "one\n"}, "create"))
	stale, err := repo.Read(ctx, "a.mbox")
	require.NoError(t, err)

	fresh := stale
	fresh.Contents += "two\n"
	require.NoError(t, repo.Write(ctx, fresh, "update"))

	stale.Contents += "other\n"
	err = repo.Write(ctx, stale, "update")
	assert.ErrorIs(t, err, driven.ErrArchiveConflict, "stale revision")

	err = repo.Write(ctx, driven.ArchiveFile{Path: "a.mbox", Contents: "again\n"}, "create")
	assert.ErrorIs(t, err, driven.ErrArchiveConflict, "file created concurrently")

	file, err := repo.Read(ctx, "a.mbox")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", file.Contents, "rejected writes leave the file untouched")
}

func TestArchiveRepo_InvalidRevision(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArchiveRepo(db)

	err := repo.Write(context.Background(), driven.ArchiveFile{Path: "a.mbox", Revision: "blob1"}, "update")
	require.Error(t, err)
	assert.NotErrorIs(t, err, driven.ErrArchiveConflict)
}

func TestArchiveRepo_CommitLog(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArchiveRepo(db)
	repo.now = func() time.Time { return time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, repo.Write(ctx, driven.ArchiveFile{Path: "a.mbox", Contents: "one\n"}, "first"))
	file, err := repo.Read(ctx, "a.mbox")
	require.NoError(t, err)
	require.NoError(t, repo.Write(ctx, file, "second"))
	_ = repo.Write(ctx, file, "rejected")

	rows, err := db.Reader.QueryContext(ctx, `SELECT revision, message, committed_at FROM archive_commits WHERE path = ? ORDER BY id`, "a.mbox")
	require.NoError(t, err)
	defer rows.Close()

	type entry struct {
		Revision int
		Message  string
		At       time.Time
	}
	var log []entry
	for rows.Next() {
		var e entry
		var at string
		require.NoError(t, rows.Scan(&e.Revision, &e.Message, &at))
		e.At, err = parseTime(at)
		require.NoError(t, err)
		log = append(log, e)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []entry{
		{Revision: 1, Message: "first", At: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)},
		{Revision: 2, Message: "second", At: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)},
	}, log)
}
