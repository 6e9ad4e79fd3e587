package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// graphqlHTTPClient is the HTTP client used for GraphQL requests.
// It enforces a 30-second timeout as a safety net alongside context cancellation.
var graphqlHTTPClient = &http.Client{Timeout: 30 * time.Second}

const lastDraftQuery = `query($owner: String!, $repo: String!, $pr: Int!) {
	repository(owner: $owner, name: $repo) {
		pullRequest(number: $pr) {
			timelineItems(last: 1, itemTypes: [CONVERT_TO_DRAFT_EVENT]) {
				nodes {
					... on ConvertToDraftEvent {
						createdAt
					}
				}
			}
		}
	}
}`

// graphqlRequest is the JSON body sent to the GitHub GraphQL API.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// lastDraftResponse represents the expected shape of a GitHub GraphQL
// response for the draft conversion timeline query.
type lastDraftResponse struct {
	Data struct {
		Repository struct {
			PullRequest *struct {
				TimelineItems struct {
					Nodes []struct {
						CreatedAt time.Time `json:"createdAt"`
					} `json:"nodes"`
				} `json:"timelineItems"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// LastMarkedAsDraft returns when the pull request was last converted to a
// draft, or the zero time if it never was. The REST timeline does not expose
// these events, so the GraphQL API is queried.
func (c *Client) LastMarkedAsDraft(ctx context.Context, repoFullName string, number int) (time.Time, error) {
	if c.token == "" {
		return time.Time{}, fmt.Errorf("LastMarkedAsDraft requires a GitHub token")
	}

	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return time.Time{}, err
	}

	reqBody := graphqlRequest{
		Query: lastDraftQuery,
		Variables: map[string]any{
			"owner": owner,
			"repo":  repo,
			"pr":    number,
		},
	}

	var gqlResp lastDraftResponse
	if err := c.graphql(ctx, reqBody, &gqlResp); err != nil {
		return time.Time{}, fmt.Errorf("draft timeline for %s#%d: %w", repoFullName, number, err)
	}

	if len(gqlResp.Errors) > 0 {
		return time.Time{}, fmt.Errorf("draft timeline for %s#%d: %s", repoFullName, number, gqlResp.Errors[0].Message)
	}

	pr := gqlResp.Data.Repository.PullRequest
	if pr == nil || len(pr.TimelineItems.Nodes) == 0 {
		return time.Time{}, nil
	}
	return pr.TimelineItems.Nodes[0].CreatedAt, nil
}

// graphql posts a request to the GraphQL endpoint and decodes the response
// into out.
func (c *Client) graphql(ctx context.Context, reqBody graphqlRequest, out any) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("bearer %s", c.token))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := graphqlHTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
