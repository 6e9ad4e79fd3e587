// Package archive rebuilds the mailing-list thread of a pull request.
//
// Every pass derives the complete list of thread items from the emails
// already archived plus the current forge state, then renders only the items
// whose stable id is not yet archived. Persisted state is limited to the
// archived emails and their PR-* headers.
package archive

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// Headers persisted on archived emails.
const (
	HeaderHeadHash     = "PR-Head-Hash"
	HeaderBaseHash     = "PR-Base-Hash"
	HeaderThreadPrefix = "PR-Thread-Prefix"
	HeaderCollapsedIDs = "PR-Collapsed-IDs"
	HeaderPrefix       = "PR-"
)

// Thread prefixes.
const (
	PrefixRFR        = "RFR"
	PrefixIntegrated = "Integrated"
)

// ErrIntegrationUnverified indicates a pull request claims integration but no
// integrating commit can be found yet.
var ErrIntegrationUnverified = errors.New("integration not verifiable")

var pushedAs = regexp.MustCompile(`Pushed as commit ([a-f0-9]{40})\.`)

// Result is the outcome of GenerateNewEmails. RetryAt is set instead of
// Emails when new content is still inside its cooldown window.
type Result struct {
	Emails  []model.Email
	RetryAt time.Time
}

// ReviewArchive collects the activity of one pull request and turns it into
// thread emails.
type ReviewArchive struct {
	pr     model.PullRequest
	sender model.Address
	ids    MessageIDs
	logger *slog.Logger

	comments       []model.IssueComment
	ignored        []model.IssueComment
	reviews        []model.Review
	reviewComments []model.ReviewComment
}

// NewReviewArchive creates an empty archive for pr. sender is the bot's list
// address used as the Sender of every email.
func NewReviewArchive(pr model.PullRequest, sender model.Address, logger *slog.Logger) *ReviewArchive {
	return &ReviewArchive{
		pr:     pr,
		sender: sender,
		ids:    NewMessageIDs(pr.Repo.FullName, pr.Number, pr.Repo.Host()),
		logger: logger,
	}
}

// AddComment adds a general comment to be archived.
func (a *ReviewArchive) AddComment(c model.IssueComment) { a.comments = append(a.comments, c) }

// AddIgnored adds a comment that is not archived but may carry integration
// markers or bridged messages.
func (a *ReviewArchive) AddIgnored(c model.IssueComment) { a.ignored = append(a.ignored, c) }

// AddReview adds a submitted review.
func (a *ReviewArchive) AddReview(r model.Review) { a.reviews = append(a.reviews, r) }

// AddReviewComment adds an inline review comment.
func (a *ReviewArchive) AddReviewComment(rc model.ReviewComment) {
	a.reviewComments = append(a.reviewComments, rc)
}

// StableID returns the stable message id prefix of the item.
func (a *ReviewArchive) StableID(itemID string) string {
	return a.ids.Stable(itemID)
}

// StartsThread reports whether e is the first email of the thread.
func (a *ReviewArchive) StartsThread(e model.Email) bool {
	return StableID(e.ID) == a.ids.Stable(idFirst)
}

func threadPrefix(pr model.PullRequest, sent []model.Email) string {
	if len(sent) > 0 {
		if prefix, ok := sent[0].Header(HeaderThreadPrefix); ok {
			return prefix
		}
		return PrefixRFR
	}
	if !pr.IsOpen() {
		return PrefixIntegrated
	}
	return PrefixRFR
}

// Items rebuilds the full item list of the thread, sent or not, in emission
// order.
func (a *ReviewArchive) Items(ctx context.Context, sent []model.Email, env Env) ([]*Item, error) {
	g := &generation{pr: a.pr, env: env, threadPrefix: threadPrefix(a.pr, sent), logger: a.logger}

	var generated []*Item
	var lastBase, lastHead string
	revisionIndex := 0
	for _, email := range sent {
		base, ok := email.Header(HeaderBaseHash)
		if !ok {
			continue
		}
		head, _ := email.Header(HeaderHeadHash)
		if len(generated) == 0 {
			generated = append(generated, g.first(ctx, a.pr.CreatedAt, a.pr.UpdatedAt, base, head))
		} else {
			revisionIndex++
			generated = append(generated, g.revision(ctx, email.Date, email.Date, lastBase, lastHead, base, head, revisionIndex, generated[0]))
		}
		lastBase, lastHead = base, head
	}

	base, err := env.Repo.MergeBase(ctx, a.pr.TargetSHA, a.pr.HeadSHA)
	if err != nil {
		return nil, fmt.Errorf("finding merge base of %s: %w", a.pr.Key(), err)
	}
	if base != lastBase || a.pr.HeadSHA != lastHead {
		if len(generated) == 0 {
			generated = append(generated, g.first(ctx, a.pr.CreatedAt, a.pr.UpdatedAt, base, a.pr.HeadSHA))
		} else {
			revisionIndex++
			generated = append(generated, g.revision(ctx, a.pr.UpdatedAt, a.pr.UpdatedAt, lastBase, lastHead, base, a.pr.HeadSHA, revisionIndex, generated[0]))
		}
	}

	for _, r := range a.reviews {
		if r.Verdict == model.VerdictNone && strings.TrimSpace(r.Body) == "" {
			continue
		}
		generated = append(generated, g.review(r, findRevisionItem(generated, r.CommitID)))
	}

	var bridgedItems []*Item
	for _, c := range a.ignored {
		if b, ok := ParseBridgedComment(c, env.BotUser); ok {
			bridgedItems = append(bridgedItems, bridged(b, generated[0]))
		}
	}
	for _, c := range a.comments {
		parent := findCommentParent(generated, bridgedItems, c.Body, c.CreatedAt)
		generated = append(generated, g.comment(c, parent))
	}

	ordered := slices.Clone(a.reviewComments)
	slices.SortStableFunc(ordered, func(x, y model.ReviewComment) int {
		return cmp.Or(strings.Compare(x.Path, y.Path), cmp.Compare(x.Line, y.Line))
	})
	for _, rc := range ordered {
		var thread []model.ReviewComment
		for _, other := range ordered {
			if other.ThreadID() == rc.ThreadID() {
				thread = append(thread, other)
			}
		}
		parent, err := findReviewCommentParent(generated, thread, rc)
		if err != nil {
			return nil, err
		}
		generated = append(generated, g.reviewComment(ctx, rc, parent))
	}

	if !a.pr.IsOpen() {
		notice, err := a.terminalNotice(ctx, g, generated[0])
		if err != nil {
			return nil, err
		}
		if notice != nil {
			generated = append(generated, notice)
		}
	}
	return generated, nil
}

// terminalNotice returns the integrated or closed notice for a pull request
// that is no longer open, or nil when none applies.
func (a *ReviewArchive) terminalNotice(ctx context.Context, g *generation, first *Item) (*Item, error) {
	if !a.pr.IsIntegrated() {
		if g.threadPrefix == PrefixRFR {
			return g.closed(first), nil
		}
		return nil, nil
	}

	hash, err := a.integratedHash(ctx, g.env.Repo)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, fmt.Errorf("%w: %s is marked integrated", ErrIntegrationUnverified, a.pr.WebURL())
	}
	commit, err := g.env.Repo.Lookup(ctx, hash)
	if errors.Is(err, driven.ErrNotFound) {
		a.logger.Warn("integrated commit no longer exists, skipping notice", "pr", a.pr.Key(), "hash", hash)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up integrated commit %s: %w", hash, err)
	}
	return g.integrated(ctx, commit, first)
}

// integratedHash finds the commit that integrated the pull request: an
// explicit push marker, or the head itself once it is reachable from the
// target branch.
func (a *ReviewArchive) integratedHash(ctx context.Context, repo driven.LocalRepository) (string, error) {
	for _, c := range a.ignored {
		if m := pushedAs.FindStringSubmatch(c.Body); m != nil {
			return m[1], nil
		}
	}
	merged, err := repo.IsAncestor(ctx, a.pr.HeadSHA, a.pr.TargetSHA)
	if err != nil {
		return "", fmt.Errorf("checking whether %s reached %s: %w", a.pr.HeadSHA, a.pr.TargetRef, err)
	}
	if merged {
		return a.pr.HeadSHA, nil
	}
	return "", nil
}

func (a *ReviewArchive) sentItemIDs(sent []model.Email) map[string]bool {
	ids := make(map[string]bool)
	for _, email := range sent {
		ids[StableID(email.ID)] = true
		if collapsed, ok := email.Header(HeaderCollapsedIDs); ok {
			for _, id := range strings.Fields(collapsed) {
				ids[id] = true
			}
		}
	}
	return ids
}

// GenerateNewEmails renders the items that have not been archived yet. If
// the newest pending item was updated within env.Cooldown, no email is
// produced and Result.RetryAt tells when to try again.
func (a *ReviewArchive) GenerateNewEmails(ctx context.Context, sent []model.Email, env Env) (Result, error) {
	items, err := a.Items(ctx, sent, env)
	if err != nil {
		return Result{}, err
	}

	sentIDs := a.sentItemIDs(sent)
	var unsent []*Item
	for _, it := range items {
		if !sentIDs[a.ids.Stable(it.id)] {
			unsent = append(unsent, it)
		}
	}
	if len(unsent) == 0 {
		return Result{}, nil
	}

	lastUpdate := unsent[0].updated
	for _, it := range unsent[1:] {
		if it.updated.After(lastUpdate) {
			lastUpdate = it.updated
		}
	}
	if mayUpdate := lastUpdate.Add(env.Cooldown); mayUpdate.After(env.now()) {
		a.logger.Info("waiting for new content to settle down",
			"pr", a.pr.Key(), "last_update", lastUpdate, "retry_at", mayUpdate)
		return Result{RetryAt: mayUpdate}, nil
	}

	var emails []model.Email
	for _, group := range collapse(unsent) {
		email, err := a.render(group, sent, emails, env)
		if err != nil {
			return Result{}, err
		}
		emails = append(emails, email)
	}
	return Result{Emails: emails}, nil
}

type collapseKey struct {
	author  string
	parent  *Item
	subject string
}

// collapse groups items by author, parent and subject, keeping first
// appearance order.
func collapse(items []*Item) [][]*Item {
	index := make(map[collapseKey]int)
	var groups [][]*Item
	for _, it := range items {
		key := collapseKey{author: it.author.ID, parent: it.parent, subject: it.Subject()}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], it)
	}
	return groups
}

// render combines a group of items into one email.
func (a *ReviewArchive) render(group []*Item, sent, created []model.Email, env Env) (model.Email, error) {
	quoted := make(map[*Item]bool)
	var body strings.Builder
	for _, it := range group {
		if body.Len() > 0 {
			body.WriteString("\n\n")
		}
		parents := parentsToQuote(it, 2, quoted)
		if quote := quoteSelectedParents(parents, it); strings.TrimSpace(quote) != "" {
			body.WriteString(quote)
			body.WriteString("\n\n")
		}
		for _, p := range parents {
			quoted[p] = true
		}
		body.WriteString(it.Body())
	}

	var footer strings.Builder
	included := make(map[string]bool)
	for _, it := range group {
		text, err := it.Footer()
		if err != nil {
			return model.Email{}, fmt.Errorf("rendering footer of %s: %w", it.id, err)
		}
		var fresh []string
		for _, fragment := range strings.Split(text, "\n\n") {
			if !included[fragment] {
				fresh = append(fresh, fragment)
			}
		}
		if footer.Len() > 0 && len(fresh) > 0 {
			footer.WriteString("\n")
		}
		footer.WriteString(strings.Join(fresh, "\n\n"))
		for _, fragment := range fresh {
			included[fragment] = true
		}
	}

	first := group[0]
	var combined strings.Builder
	if header := first.Header(); strings.TrimSpace(header) != "" {
		combined.WriteString(header + "\n\n")
	}
	combined.WriteString(strings.TrimSpace(body.String()))
	if footer.Len() > 0 {
		combined.WriteString("\n\n-------------\n\n" + footer.String())
	}

	email := model.Email{Subject: first.Subject(), Body: combined.String()}
	if first.parent != nil {
		parent, err := a.itemEmail(first.parent, sent, created)
		if err != nil {
			return model.Email{}, err
		}
		email = model.NewReply(parent, first.Subject(), combined.String())
	}
	email.ID = a.ids.Unique(first.id)
	email.Date = env.now()
	email.Sender = a.sender
	email.Author = env.Directory.EmailAuthor(first.author)

	if len(group) > 1 {
		collapsed := make([]string, 0, len(group)-1)
		for _, it := range group[1:] {
			collapsed = append(collapsed, a.ids.Stable(it.id))
		}
		email.SetHeader(HeaderCollapsedIDs, strings.Join(collapsed, " "))
	}
	for _, h := range first.headers {
		email.SetHeader(h.Name, h.Value)
	}
	return email, nil
}

// itemEmail returns the email an item was, or is about to be, archived as.
func (a *ReviewArchive) itemEmail(item *Item, sent, created []model.Email) (model.Email, error) {
	if item.author.IsBridged() {
		var first model.Email
		switch {
		case len(sent) > 0:
			first = sent[0]
		case len(created) > 0:
			first = created[0]
		default:
			return model.Email{}, fmt.Errorf("%w: no thread start for bridged message %s", ErrParentNotFound, item.id)
		}
		reply := model.NewReply(first, item.Subject(), item.Body())
		reply.ID = model.Address{Address: strings.TrimPrefix(item.id, prefixBridged)}
		return reply, nil
	}

	stable := a.ids.Stable(item.id)
	for _, email := range slices.Concat(sent, created) {
		if StableID(email.ID) == stable {
			return email, nil
		}
		if collapsed, ok := email.Header(HeaderCollapsedIDs); ok && slices.Contains(strings.Fields(collapsed), stable) {
			return email, nil
		}
	}
	return model.Email{}, fmt.Errorf("%w: item %s of %s", ErrParentNotFound, item.id, a.pr.Key())
}
