package model

// PRState represents the state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
)

// ReviewVerdict represents the outcome of a submitted review.
type ReviewVerdict string

const (
	VerdictApproved    ReviewVerdict = "approved"
	VerdictDisapproved ReviewVerdict = "changes_requested"
	VerdictNone        ReviewVerdict = "none" // Plain comment review.
)

// WebrevType classifies a generated diff artifact.
type WebrevType string

const (
	WebrevFull          WebrevType = "full"
	WebrevIncremental   WebrevType = "incremental"
	WebrevMergeTarget   WebrevType = "merge_target"
	WebrevMergeSource   WebrevType = "merge_source"
	WebrevMergeConflict WebrevType = "merge_conflict"
)
