package driven

import (
	"context"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// MailTransport defines the driven port for posting to a mailing list.
type MailTransport interface {
	Post(ctx context.Context, email model.Email) error
}

// Notifier announces newly started review threads on a chat channel.
type Notifier interface {
	NewThread(ctx context.Context, pr model.PullRequest, email model.Email) error
}

// Directory maps forge users to mailing-list identities.
type Directory interface {
	// EmailAuthor returns the From address used for the user's messages.
	EmailAuthor(user model.User) model.Address
	// Username returns the user's project username.
	Username(user model.User) string
	// Role returns the user's project role, such as "Reviewer".
	Role(user model.User) string
}
