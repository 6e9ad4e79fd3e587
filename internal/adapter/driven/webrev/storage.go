// Package webrev publishes diff artifacts to a directory served over HTTP.
package webrev

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// DefaultMaxPatchSize is the largest patch published inline.
const DefaultMaxPatchSize = 1000 * 1000

// Compile-time interface satisfaction check.
var _ driven.WebrevGenerator = (*Storage)(nil)

// Metadata is written next to each patch as index.json.
type Metadata struct {
	PullRequest  string    `json:"pull_request"`
	Upstream     string    `json:"upstream"`
	Identifier   string    `json:"identifier"`
	Type         string    `json:"type"`
	Description  string    `json:"description,omitempty"`
	Base         string    `json:"base"`
	Head         string    `json:"head"`
	Author       string    `json:"author"`
	Files        []string  `json:"files"`
	Added        int       `json:"added"`
	Removed      int       `json:"removed"`
	Modified     int       `json:"modified"`
	DiffTooLarge bool      `json:"diff_too_large"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Storage writes one directory per webrev below dir and links it under
// baseURL.
type Storage struct {
	dir          string
	baseURL      string
	maxPatchSize int
	logger       *slog.Logger
	now          func() time.Time
}

// NewStorage creates a Storage. A non-positive maxPatchSize selects
// DefaultMaxPatchSize.
func NewStorage(dir, baseURL string, maxPatchSize int, logger *slog.Logger) *Storage {
	if maxPatchSize <= 0 {
		maxPatchSize = DefaultMaxPatchSize
	}
	return &Storage{
		dir:          dir,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		maxPatchSize: maxPatchSize,
		logger:       logger,
		now:          time.Now,
	}
}

// Generate writes the patch between req.Base and req.Head with its metadata.
// A patch over the size limit is replaced by fetch instructions and reported
// as too large to link.
func (s *Storage) Generate(ctx context.Context, req driven.WebrevRequest) (model.WebrevDescription, error) {
	rel := path.Join(req.PR.Repo.FullName, strconv.Itoa(req.PR.Number), "webrev."+req.Identifier)
	folder := filepath.Join(s.dir, filepath.FromSlash(rel))

	// Leftovers from an interrupted attempt are overwritten.
	if err := os.RemoveAll(folder); err != nil {
		return model.WebrevDescription{}, fmt.Errorf("clearing %s: %w", folder, err)
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return model.WebrevDescription{}, fmt.Errorf("creating %s: %w", folder, err)
	}

	patch, err := req.Repo.Diff(ctx, req.Base, req.Head)
	if err != nil {
		return model.WebrevDescription{}, err
	}
	stats, err := req.Repo.DiffStats(ctx, req.Base, req.Head)
	if err != nil {
		return model.WebrevDescription{}, err
	}

	tooLarge := len(patch) >= s.maxPatchSize
	meta := Metadata{
		PullRequest:  req.PR.WebURL(),
		Upstream:     req.PR.Repo.WebURL,
		Identifier:   req.Identifier,
		Type:         string(req.Type),
		Description:  req.Description,
		Base:         req.Base,
		Head:         req.Head,
		Author:       req.PR.Author.DisplayName(),
		Files:        changedFiles(patch),
		Added:        stats.Added,
		Removed:      stats.Removed,
		Modified:     stats.Modified,
		DiffTooLarge: tooLarge,
		GeneratedAt:  s.now().UTC(),
	}
	if tooLarge {
		patch = placeholder(req.PR, req.Base, req.Head)
	}

	if err := os.WriteFile(filepath.Join(folder, "patch.diff"), []byte(patch), 0o644); err != nil {
		return model.WebrevDescription{}, fmt.Errorf("writing patch: %w", err)
	}
	index, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return model.WebrevDescription{}, fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(folder, "index.json"), index, 0o644); err != nil {
		return model.WebrevDescription{}, fmt.Errorf("writing metadata: %w", err)
	}

	s.logger.Info("webrev generated",
		"pr", req.PR.Key(),
		"identifier", req.Identifier,
		"files", len(meta.Files),
		"too_large", tooLarge,
	)

	desc := model.WebrevDescription{Type: req.Type, Description: req.Description, DiffTooLarge: tooLarge}
	if !tooLarge {
		desc.URL = s.baseURL + "/" + rel
	}
	return desc, nil
}

// changedFiles lists the post-image paths of a unified diff.
func changedFiles(patch string) []string {
	files := []string{}
	for _, line := range strings.Split(patch, "\n") {
		rest, ok := strings.CutPrefix(line, "diff --git a/")
		if !ok {
			continue
		}
		if _, b, found := strings.Cut(rest, " b/"); found {
			files = append(files, b)
		}
	}
	return files
}

func placeholder(pr model.PullRequest, base, head string) string {
	return "This patch was too large to be published, and has been replaced with this " +
		"placeholder message. The original content can be generated locally with:\n\n" +
		"  $ git fetch " + pr.Repo.CloneURL() + " " + pr.FetchRef() + "\n" +
		"  $ git diff " + base + " " + head + "\n"
}
