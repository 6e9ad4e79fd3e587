package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/application"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RefreshResponse acknowledges a queued refresh.
type RefreshResponse struct {
	Repository string `json:"repository"`
	Number     int    `json:"number"`
	Status     string `json:"status"`
}

// QuarantineResponse is the JSON representation of one quarantined pull
// request.
type QuarantineResponse struct {
	PullRequest string `json:"pull_request"`
	Until       string `json:"until"`
}

// RepoHealthResponse is the polling state of one repository.
type RepoHealthResponse struct {
	Repository string `json:"repository"`
	Tier       string `json:"tier"`
	LastPolled string `json:"last_polled,omitempty"`
	NextPollAt string `json:"next_poll_at,omitempty"`
	Overdue    bool   `json:"overdue"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status      string               `json:"status"`
	Time        string               `json:"time"`
	Quarantined int                  `json:"quarantined"`
	QueueDepth  int                  `json:"queue_depth"`
	Repos       []RepoHealthResponse `json:"repos"`
}

func toQuarantineResponse(e application.QuarantineEntry) QuarantineResponse {
	return QuarantineResponse{
		PullRequest: e.Key,
		Until:       e.End.UTC().Format(time.RFC3339),
	}
}

func toHealthResponse(s application.HealthSummary, now time.Time) HealthResponse {
	resp := HealthResponse{
		Status:      string(s.Status),
		Time:        now.UTC().Format(time.RFC3339),
		Quarantined: s.Quarantined,
		QueueDepth:  s.QueueDepth,
		Repos:       make([]RepoHealthResponse, 0, len(s.Repos)),
	}
	for _, r := range s.Repos {
		resp.Repos = append(resp.Repos, RepoHealthResponse{
			Repository: r.Repo,
			Tier:       r.Tier.String(),
			LastPolled: formatOptional(r.LastPolled),
			NextPollAt: formatOptional(r.NextPollAt),
			Overdue:    r.Overdue,
		})
	}
	return resp
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
