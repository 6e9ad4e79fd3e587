package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// WebrevNotification is called with the webrevs generated for revision
// index, so they can be listed on the pull request.
type WebrevNotification func(ctx context.Context, index int, webrevs []model.WebrevDescription) error

// FileReader returns the contents of path at commit ref.
type FileReader func(ctx context.Context, path, ref string) (string, error)

// Env bundles the collaborators and settings used to render items.
type Env struct {
	Repo      driven.LocalRepository
	Webrevs   driven.WebrevGenerator
	Directory driven.Directory
	Files     FileReader
	Notify    WebrevNotification

	IssueTracker  string // Base URL; empty disables the Issue footer line.
	IssuePrefix   string
	SubjectPrefix string
	BotUser       model.User
	Cooldown      time.Duration
	Now           func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Env) notify(ctx context.Context, index int, webrevs []model.WebrevDescription) error {
	if e.Notify == nil {
		return nil
	}
	if err := e.Notify(ctx, index, webrevs); err != nil {
		return fmt.Errorf("publishing webrevs for revision %d: %w", index, err)
	}
	return nil
}

// generation renders items for one pass over a pull request.
type generation struct {
	pr           model.PullRequest
	env          Env
	threadPrefix string
	logger       *slog.Logger
}

func (g *generation) subjectTitle() string {
	sep := ""
	if g.threadPrefix != "" {
		sep = ": "
	}
	return g.env.SubjectPrefix + g.threadPrefix + sep + g.pr.Title
}

// commits lists from..to, treating lookup failures as an empty range.
func (g *generation) commits(ctx context.Context, from, to string) []model.Commit {
	commits, err := g.env.Repo.Commits(ctx, from, to)
	if err != nil {
		g.logger.Debug("listing commits failed", "from", from, "to", to, "error", err)
		return nil
	}
	return commits
}

func (g *generation) moreLink(from, to string) string {
	return g.pr.Repo.CompareURL(model.Abbreviate(from), model.Abbreviate(to))
}

func (g *generation) stats(ctx context.Context, from, to string) (model.DiffStats, error) {
	stats, err := g.env.Repo.DiffStats(ctx, from, to)
	if err != nil {
		return model.DiffStats{}, fmt.Errorf("computing stats %s..%s: %w", from, to, err)
	}
	return stats, nil
}

func (g *generation) webrev(ctx context.Context, base, head, identifier string, typ model.WebrevType, description string) (model.WebrevDescription, error) {
	w, err := g.env.Webrevs.Generate(ctx, driven.WebrevRequest{
		PR:          g.pr,
		Repo:        g.env.Repo,
		Base:        base,
		Head:        head,
		Identifier:  identifier,
		Type:        typ,
		Description: description,
	})
	if err != nil {
		return model.WebrevDescription{}, fmt.Errorf("generating webrev %s: %w", identifier, err)
	}
	return w, nil
}

// committerName is how the pull request author is named in revision bodies.
func (g *generation) committerName(user model.User) string {
	if a := g.env.Directory.EmailAuthor(user); a.Name != "" {
		return a.Name
	}
	return user.FullName
}

// lastHeadAvailable reports whether lastHead exists locally, optionally
// fetching it from the forge first.
func (g *generation) lastHeadAvailable(ctx context.Context, lastHead string, fetch bool) bool {
	_, err := g.env.Repo.Resolve(ctx, lastHead)
	if err == nil {
		return true
	}
	if !fetch || !errors.Is(err, driven.ErrNotFound) {
		return false
	}
	if _, err := g.env.Repo.Fetch(ctx, g.pr.Repo.CloneURL(), lastHead); err != nil {
		g.logger.Info("previous head is no longer available", "head", lastHead, "error", err)
		return false
	}
	return true
}

func footerOf(fn func() (string, error)) *memo[footerText] {
	return newMemo(func() footerText {
		s, err := fn()
		return footerText{text: s, err: err}
	})
}

func (g *generation) first(ctx context.Context, created, updated time.Time, base, head string) *Item {
	return &Item{
		id:      idFirst,
		created: created,
		updated: updated,
		author:  g.pr.Author,
		headers: []model.Header{
			{Name: HeaderHeadHash, Value: head},
			{Name: HeaderBaseHash, Value: base},
			{Name: HeaderThreadPrefix, Value: g.threadPrefix},
		},
		headHash: head,
		subject:  fixed(g.subjectTitle()),
		header:   fixed(""),
		body:     newMemo(func() string { return conversationBody(g.pr) }),
		footer:   footerOf(func() (string, error) { return g.firstFooter(ctx, base, head) }),
	}
}

type rebaseResult struct {
	head string
	ok   bool
}

func (g *generation) revision(ctx context.Context, created, updated time.Time, lastBase, lastHead, base, head string, index int, parent *Item) *Item {
	rebased := newMemo(func() rebaseResult {
		h, err := g.env.Repo.Rebase(ctx, lastHead, base)
		if err != nil {
			g.logger.Info("rebasing previous head failed", "head", lastHead, "onto", base, "error", err)
			return rebaseResult{}
		}
		return rebaseResult{head: h, ok: true}
	})
	return &Item{
		id:      prefixRevision + head,
		created: created,
		updated: updated,
		author:  g.pr.Author,
		headers: []model.Header{
			{Name: HeaderHeadHash, Value: head},
			{Name: HeaderBaseHash, Value: base},
		},
		parent:   parent,
		headHash: head,
		subject:  fixed(fmt.Sprintf("Re: %s [v%d]", g.subjectTitle(), index+1)),
		header:   fixed(""),
		body: newMemo(func() string {
			return g.revisionBody(ctx, lastBase, lastHead, base, head, rebased)
		}),
		footer: footerOf(func() (string, error) {
			return g.revisionFooter(ctx, lastBase, lastHead, base, head, index, rebased)
		}),
	}
}

func (g *generation) revisionBody(ctx context.Context, lastBase, lastHead, base, head string, rebased *memo[rebaseResult]) string {
	author := g.committerName(g.pr.Author)
	if lastBase == base {
		g.lastHeadAvailable(ctx, lastHead, true)
		incremental, err := g.env.Repo.IsAncestor(ctx, lastHead, head)
		if err != nil {
			incremental = false
		}
		from := lastHead
		commits := g.commits(ctx, lastHead, head)
		noIncremental := len(commits) == 0
		if noIncremental {
			from = base
			commits = g.commits(ctx, base, head)
		}
		return incrementalRevisionBody(author, incremental, noIncremental, commits, g.moreLink(from, head))
	}
	if r := rebased.get(); r.ok {
		return rebasedRevisionBody(author, g.commits(ctx, r.head, head), g.moreLink(r.head, head))
	}
	return fullRevisionBody(author, g.commits(ctx, base, head), g.moreLink(base, head))
}

// reply builds an item answering parent.
func (g *generation) reply(id string, created, updated time.Time, author model.User, parent *Item, body func() string, footer func() (string, error)) *Item {
	return &Item{
		id:      id,
		created: created,
		updated: updated,
		author:  author,
		parent:  parent,
		subject: newMemo(func() string { return replySubject(parent.Subject()) }),
		header: newMemo(func() string {
			return replyHeader(parent.created, g.env.Directory.EmailAuthor(parent.author))
		}),
		body:   newMemo(body),
		footer: footerOf(footer),
	}
}

func staticFooter(s string) func() (string, error) {
	return func() (string, error) { return s, nil }
}

func (g *generation) comment(c model.IssueComment, parent *Item) *Item {
	return g.reply(prefixComment+strconv.FormatInt(c.ID, 10), c.CreatedAt, c.UpdatedAt, c.Author, parent,
		func() string { return FilterText(c.Body) },
		staticFooter("PR Comment: "+g.pr.CommentURL(c.ID)))
}

func (g *generation) review(r model.Review, parent *Item) *Item {
	verdict := newMemo(func() string {
		return reviewVerdict(r.Verdict, g.env.Directory.Username(r.Reviewer), g.env.Directory.Role(r.Reviewer))
	})
	return g.reply(prefixReview+strconv.FormatInt(r.ID, 10), r.SubmittedAt, r.SubmittedAt, r.Reviewer, parent,
		func() string { return reviewBody(r, verdict.get()) },
		func() (string, error) { return reviewFooter(g.pr, r, verdict.get()), nil })
}

func (g *generation) reviewComment(ctx context.Context, rc model.ReviewComment, parent *Item) *Item {
	return g.reply(prefixReviewComent+strconv.FormatInt(rc.ID, 10), rc.CreatedAt, rc.UpdatedAt, rc.Author, parent,
		func() string {
			if !rc.IsThreadStart() {
				return FilterText(rc.Body)
			}
			lines, err := g.fileLines(ctx, rc.Path, rc.CommitID)
			return reviewCommentContext(rc, lines, err) + FilterText(rc.Body)
		},
		staticFooter("PR Review Comment: "+g.pr.ReviewCommentURL(rc.ID)))
}

func (g *generation) fileLines(ctx context.Context, path, ref string) ([]string, error) {
	if g.env.Files == nil || ref == "" {
		return nil, fmt.Errorf("reading %s: %w", path, driven.ErrNotFound)
	}
	contents, err := g.env.Files(ctx, path, ref)
	if err != nil {
		g.logger.Info("reading review comment context failed", "path", path, "ref", ref, "error", err)
		return nil, err
	}
	lines := splitLines(contents)
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

func (g *generation) notice(id string, author model.User, header model.Header, subject, body string, parent *Item) *Item {
	return &Item{
		id:      id,
		created: g.pr.UpdatedAt,
		updated: g.pr.UpdatedAt,
		author:  author,
		headers: []model.Header{header},
		parent:  parent,
		subject: fixed(subject),
		header: newMemo(func() string {
			return replyHeader(parent.created, g.env.Directory.EmailAuthor(parent.author))
		}),
		body:   fixed(body),
		footer: footerOf(staticFooter(replyFooter(g.pr))),
	}
}

func (g *generation) closed(parent *Item) *Item {
	closedBy := g.pr.Author
	if g.pr.ClosedBy != nil {
		closedBy = *g.pr.ClosedBy
	}
	return g.notice(idClosed, closedBy, model.Header{Name: "PR-Closed-Notice", Value: "0"},
		fmt.Sprintf("%sWithdrawn: %s", g.env.SubjectPrefix, g.pr.Title), closedNotice, parent)
}

func (g *generation) integrated(ctx context.Context, c model.Commit, parent *Item) (*Item, error) {
	from := ""
	if len(c.Parents) > 0 {
		from = c.Parents[0]
	}
	stats, err := g.stats(ctx, from, c.Hash)
	if err != nil {
		return nil, err
	}
	body := integratedNotice(c, g.pr.Repo.CommitURL(c.Hash), stats)
	return g.notice(idIntegrated, g.pr.Author, model.Header{Name: "PR-Integrated-Notice", Value: "0"},
		fmt.Sprintf("%sIntegrated: %s", g.env.SubjectPrefix, g.pr.Title), body, parent), nil
}

// bridged wraps a bridged mailing-list message as a quote-only candidate
// parent. It is never emitted.
func bridged(b BridgedComment, first *Item) *Item {
	return &Item{
		id:      prefixBridged + b.MessageID.Address,
		created: b.Created,
		updated: b.Created,
		author:  b.Author,
		parent:  first,
		subject: first.subject,
		header:  fixed(""),
		body:    fixed(b.Body),
		footer:  footerOf(staticFooter("")),
	}
}
