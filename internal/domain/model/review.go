package model

import "time"

// Review represents a review submitted on a pull request.
type Review struct {
	ID          int64
	Reviewer    User
	Verdict     ReviewVerdict
	Body        string
	CommitID    string // SHA the review was submitted against; empty if the commit is gone.
	SubmittedAt time.Time
}
