package driven

import (
	"context"
	"errors"
)

// Sentinel errors returned by ArchiveStore implementations.
var (
	// ErrArchiveNotFound indicates no archive file exists at the path yet.
	ErrArchiveNotFound = errors.New("archive file not found")

	// ErrArchiveConflict indicates the file changed since it was read.
	ErrArchiveConflict = errors.New("archive file changed concurrently")
)

// ArchiveFile is the content of one archive file at a given revision.
type ArchiveFile struct {
	Path     string
	Contents string
	Revision string // Opaque; empty for a file that does not exist yet.
}

// ArchiveStore defines the driven port for the sent-mail archive. The
// archive is the only durable record of what has been sent.
type ArchiveStore interface {
	// Read returns the file at path. Returns ErrArchiveNotFound if absent.
	Read(ctx context.Context, path string) (ArchiveFile, error)
	// Write stores file.Contents, recording message as the change description.
	// file.Revision must be the revision previously read (empty to create).
	// Returns ErrArchiveConflict if the stored revision differs.
	Write(ctx context.Context, file ArchiveFile, message string) error
}
