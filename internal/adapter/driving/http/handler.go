package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/application"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// refreshTimeout bounds how long a refresh request waits for the poll loop
// to accept it.
const refreshTimeout = 30 * time.Second

// Refresher schedules immediate bridging passes.
type Refresher interface {
	RefreshPR(ctx context.Context, repoFullName string, prNumber int) error
}

// HealthReporter summarizes the state of the bridge.
type HealthReporter interface {
	Summary() application.HealthSummary
}

// QuarantineLister lists pull requests held back by the cooldown.
type QuarantineLister interface {
	List() []application.QuarantineEntry
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	refresher  Refresher
	health     HealthReporter
	quarantine QuarantineLister
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	refresher Refresher,
	health HealthReporter,
	quarantine QuarantineLister,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		refresher:  refresher,
		health:     health,
		quarantine: quarantine,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. metrics may be nil.
func NewServeMux(h *Handler, metrics http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/prs/{number}/refresh", h.RefreshPR)
	mux.HandleFunc("GET /api/v1/quarantine", h.ListQuarantine)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// RefreshPR queues an immediate bridging pass for one pull request.
func (h *Handler) RefreshPR(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	repo := r.PathValue("repo")
	repoFullName := owner + "/" + repo
	if !isValidRepoName(repoFullName) {
		writeError(w, http.StatusBadRequest, "invalid repository name: expected owner/repo format")
		return
	}

	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid PR number")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	err = h.refresher.RefreshPR(ctx, repoFullName, number)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, RefreshResponse{Repository: repoFullName, Number: number, Status: "queued"})
	case errors.Is(err, application.ErrUnknownRepository):
		writeError(w, http.StatusNotFound, "repository is not bridged")
	case errors.Is(err, driven.ErrNotFound):
		writeError(w, http.StatusNotFound, "pull request not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "poller busy, try again later")
	default:
		h.logger.Error("failed to refresh PR", "repo", repoFullName, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ListQuarantine returns the pull requests whose emails are being held back.
func (h *Handler) ListQuarantine(w http.ResponseWriter, _ *http.Request) {
	entries := h.quarantine.List()

	resp := make([]QuarantineResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toQuarantineResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health reports the polling state of every bridged repository. A degraded
// bridge answers 503 so that container health checks fail.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	summary := h.health.Summary()

	status := http.StatusOK
	if summary.Status == application.HealthDegraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, toHealthResponse(summary, time.Now()))
}

// isValidRepoName validates that name is in owner/repo format where each part
// contains only alphanumeric characters, hyphens, dots, or underscores.
func isValidRepoName(name string) bool {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) != 2 {
		return false
	}

	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, ch := range part {
			if !isValidRepoChar(ch) {
				return false
			}
		}
	}

	return true
}

// isValidRepoChar returns true if the rune is allowed in a repository owner or name.
func isValidRepoChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '.' || ch == '_'
}
