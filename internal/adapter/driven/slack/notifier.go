// Package slack announces new mailing-list threads on a Slack webhook.
package slack

import (
	"context"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*Notifier)(nil)

// Notifier posts the pull request link and thread subject to an incoming
// webhook.
type Notifier struct {
	webhookURL string
	username   string
	httpClient *http.Client
}

// NewNotifier creates a Notifier. An empty username keeps the webhook's
// default.
func NewNotifier(webhookURL, username string, httpClient *http.Client) *Notifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Notifier{webhookURL: webhookURL, username: username, httpClient: httpClient}
}

// NewThread posts one message for the email that started a thread.
func (n *Notifier) NewThread(ctx context.Context, pr model.PullRequest, email model.Email) error {
	msg := &slack.WebhookMessage{
		Username: n.username,
		Text:     pr.WebURL(),
		Blocks:   &slack.Blocks{BlockSet: threadBlocks(pr, email)},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.httpClient, msg); err != nil {
		return fmt.Errorf("posting slack notification for %s: %w", pr.Key(), err)
	}
	return nil
}

func threadBlocks(pr model.PullRequest, email model.Email) []slack.Block {
	text := fmt.Sprintf("*<%s|%s>*\n%s", pr.WebURL(), email.Subject, email.Author.Name)
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", text, false, false), nil, nil),
		slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("%s · Message-Id `%s`", pr.Repo.FullName, email.ID.Address), false, false),
		),
	}
}
