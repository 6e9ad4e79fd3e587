package model

import "time"

// ReviewComment represents a comment on a specific line within a pull request review.
type ReviewComment struct {
	ID          int64
	InReplyToID int64 // Zero for the first comment of a thread.
	Author      User
	Body        string
	Path        string
	Line        int    // Zero for file-level comments.
	CommitID    string // Commit the comment was originally made on.
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ThreadID returns the id of the first comment in the thread.
func (c ReviewComment) ThreadID() int64 {
	if c.InReplyToID != 0 {
		return c.InReplyToID
	}
	return c.ID
}

// IsThreadStart reports whether the comment opened its thread.
func (c ReviewComment) IsThreadStart() bool {
	return c.InReplyToID == 0
}
