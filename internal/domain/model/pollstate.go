package model

import "time"

// PollState records what the poller last handed over for a pull request, so
// restarts do not rescan unchanged pull requests.
type PollState struct {
	RepoFullName string
	Number       int
	UpdatedAt    time.Time // Forge updated_at at the last successful pass.
	HeadSHA      string
	HandledAt    time.Time
}
