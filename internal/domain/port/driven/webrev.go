package driven

import (
	"context"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// WebrevRequest describes one diff artifact to generate.
type WebrevRequest struct {
	PR          model.PullRequest
	Repo        LocalRepository
	Base        string
	Head        string
	Identifier  string // e.g. "00", "01-02", "00.conflicts".
	Type        model.WebrevType
	Description string
}

// WebrevGenerator renders and publishes diff artifacts.
type WebrevGenerator interface {
	Generate(ctx context.Context, req WebrevRequest) (model.WebrevDescription, error)
}
