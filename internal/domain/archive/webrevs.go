package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

func (g *generation) firstFooter(ctx context.Context, base, head string) (string, error) {
	if merge, ok := g.mergeCommit(ctx, head); ok {
		webrevs, err := g.mergeWebrevs(ctx, merge)
		if err != nil {
			return "", err
		}
		stats, err := g.stats(ctx, base, head)
		if err != nil {
			return "", err
		}
		return mergeConversationFooter(g.pr, g.commits(ctx, base, head), g.moreLink(base, head), webrevs, stats), nil
	}

	full, err := g.webrev(ctx, base, head, "00", model.WebrevFull, "")
	if err != nil {
		return "", err
	}
	if err := g.env.notify(ctx, 0, []model.WebrevDescription{full}); err != nil {
		return "", err
	}
	stats, err := g.stats(ctx, base, head)
	if err != nil {
		return "", err
	}
	issue := issueURL(g.pr, g.env.IssueTracker, g.env.IssuePrefix)
	return conversationFooter(g.pr, issue, g.commits(ctx, base, head), g.moreLink(base, head), full, stats), nil
}

// mergeCommit returns the head commit of a merge pull request. A head with a
// single parent is reviewed like any other change.
func (g *generation) mergeCommit(ctx context.Context, head string) (model.Commit, bool) {
	if !g.pr.IsMerge() {
		return model.Commit{}, false
	}
	commit, err := g.env.Repo.Lookup(ctx, head)
	if err != nil {
		g.logger.Warn("looking up merge commit failed", "pr", g.pr.Key(), "head", head, "error", err)
		return model.Commit{}, false
	}
	if len(commit.Parents) < 2 {
		g.logger.Info("merge pull request head is not a merge commit", "pr", g.pr.Key(), "head", head)
		return model.Commit{}, false
	}
	return commit, true
}

// mergeWebrevs builds the views of a merge pull request: the unresolved
// conflicts against the target, and the head's diff against each of its
// parents.
func (g *generation) mergeWebrevs(ctx context.Context, merge model.Commit) ([]model.WebrevDescription, error) {
	var webrevs []model.WebrevDescription
	head := merge.Hash

	conflicts, ok, err := g.env.Repo.MergeConflicts(ctx, head, g.pr.TargetSHA, "Conflicts in "+g.pr.Title)
	switch {
	case err != nil:
		g.logger.Warn("computing merge conflicts failed", "pr", g.pr.Key(), "error", err)
	case ok:
		w, err := g.webrev(ctx, head, conflicts, "00.conflicts", model.WebrevMergeConflict, g.pr.TargetRef)
		if err != nil {
			return nil, err
		}
		webrevs = append(webrevs, w)
	}

	for i, parent := range merge.Parents {
		stats, err := g.env.Repo.DiffStats(ctx, parent, head)
		if err != nil {
			return nil, fmt.Errorf("diffing merge parent %d: %w", i, err)
		}
		if stats.Files == 0 {
			continue
		}
		typ, description := model.WebrevMergeSource, ""
		switch {
		case i == 0:
			typ, description = model.WebrevMergeTarget, g.pr.TargetRef
		case i == 1 && len(g.pr.Title) > len("Merge "):
			description = g.pr.Title[len("Merge "):]
		}
		w, err := g.webrev(ctx, parent, head, fmt.Sprintf("00.%d", i), typ, description)
		if err != nil {
			return nil, err
		}
		webrevs = append(webrevs, w)
	}
	if len(webrevs) > 0 {
		if err := g.env.notify(ctx, 0, webrevs); err != nil {
			return nil, err
		}
	}
	return webrevs, nil
}

func (g *generation) revisionFooter(ctx context.Context, lastBase, lastHead, base, head string, index int, rebased *memo[rebaseResult]) (string, error) {
	full, err := g.webrev(ctx, base, head, fmt.Sprintf("%02d", index), model.WebrevFull, "")
	if err != nil {
		return "", err
	}

	incrementalBase := ""
	if lastBase == base {
		if g.lastHeadAvailable(ctx, lastHead, false) {
			incrementalBase = lastHead
		}
	} else if r := rebased.get(); r.ok {
		incrementalBase = r.head
	}

	if incrementalBase == "" {
		if err := g.env.notify(ctx, index, []model.WebrevDescription{full}); err != nil {
			return "", err
		}
		stats, err := g.stats(ctx, base, head)
		if err != nil {
			return "", err
		}
		return rebasedFooter(g.pr, full, stats), nil
	}

	incremental, err := g.webrev(ctx, incrementalBase, head, fmt.Sprintf("%02d-%02d", index-1, index), model.WebrevIncremental, "")
	if err != nil {
		return "", err
	}
	if err := g.env.notify(ctx, index, []model.WebrevDescription{full, incremental}); err != nil {
		return "", err
	}
	stats, err := g.stats(ctx, lastHead, head)
	if err != nil {
		return "", err
	}
	return incrementalFooter(g.pr, full, incremental, lastHead, stats), nil
}

// Markers delimiting the webrev list in the bot's pull request comment.
const (
	WebrevCommentMarker = "<!-- mlbridge webrev comment -->"
	webrevHeaderMarker  = "<!-- mlbridge webrev header -->"
	webrevListMarker    = "<!-- mlbridge webrev list -->"
)

// IsWebrevComment reports whether body is the bridge's webrev list comment.
func IsWebrevComment(body string) bool {
	return strings.Contains(body, WebrevCommentMarker)
}

// WebrevComment renders the webrev list comment after revision index
// produced webrevs. existing is the current comment body, or empty if there
// is none. The newest revision is listed first. It reports false when nothing
// needs to change.
func WebrevComment(pr model.PullRequest, existing string, index int, webrevs []model.WebrevDescription) (string, bool) {
	var links []string
	for _, w := range webrevs {
		if !w.Available() {
			continue
		}
		target := w.URL
		if w.DiffTooLarge {
			target = pr.ChangesURL()
		}
		links = append(links, fmt.Sprintf("[%s](%s)", w.Label(), target))
	}
	if len(links) == 0 {
		return "", false
	}
	descriptions := strings.Join(links, " - ")
	if strings.Contains(existing, descriptions) {
		return "", false
	}

	var b strings.Builder
	b.WriteString(WebrevCommentMarker + "\n")
	b.WriteString(webrevHeaderMarker + "\n")
	b.WriteString("### Webrevs\n")
	b.WriteString(webrevListMarker + "\n")
	fmt.Fprintf(&b, " * %02d: %s ([%s](%s))\n", index, descriptions, model.Abbreviate(pr.HeadSHA), pr.FilesURL(pr.HeadSHA))
	if i := strings.Index(existing, webrevListMarker+"\n"); i >= 0 {
		b.WriteString(existing[i+len(webrevListMarker)+1:])
	}
	return b.String(), true
}
