package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/archive"
	"github.com/ericfisherdev/mlbridge/internal/domain/mbox"
	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// maxArchiveAttempts bounds regeneration after concurrent archive updates.
const maxArchiveAttempts = 3

// MailingList is a list that receives a repository's threads. A list with
// labels only receives pull requests carrying one of them.
type MailingList struct {
	Address model.Address
	Labels  []string
}

// ReadyComment requires a comment by User matching Pattern before a thread
// is started.
type ReadyComment struct {
	User    string
	Pattern *regexp.Regexp
}

// BridgeConfig holds the per-repository bridge settings.
type BridgeConfig struct {
	Repo            model.Repository
	Sender          model.Address
	Lists           []MailingList
	Headers         []model.Header
	IgnoredUsers    []string
	IgnoredComments []*regexp.Regexp
	ReadyLabels     []string
	ReadyComments   []ReadyComment
	Cooldown        time.Duration
	IssueTracker    string
	IssuePrefix     string
	RepoInSubject   bool
	BranchInSubject *regexp.Regexp // Must match the whole target branch; nil disables.
	ScratchDir      string
}

// BridgeMetrics receives bridge outcomes.
type BridgeMetrics interface {
	EmailsSent(n int)
	CooldownDeferred()
}

// BridgeDeps are the collaborators of a Bridge. Notifier and Metrics may be
// nil.
type BridgeDeps struct {
	Forge     driven.ForgeClient
	Writer    driven.ForgeWriter
	Archive   driven.ArchiveStore
	Mail      driven.MailTransport
	Repos     driven.RepositoryPool
	Webrevs   driven.WebrevGenerator
	Directory driven.Directory
	Notifier  driven.Notifier
	Metrics   BridgeMetrics
}

// BridgeOutcome describes the result of one pass over a pull request.
type BridgeOutcome struct {
	Sent    int
	RetryAt time.Time // Set when new content is still cooling down.
	Skipped string    // Reason the pull request was not processed, if any.
}

// Bridge mirrors the pull requests of one repository to its mailing lists.
type Bridge struct {
	cfg    BridgeConfig
	deps   BridgeDeps
	logger *slog.Logger
	now    func() time.Time

	botMu   sync.Mutex
	botUser *model.User
}

// NewBridge creates a Bridge for cfg.Repo.
func NewBridge(cfg BridgeConfig, deps BridgeDeps, logger *slog.Logger) *Bridge {
	return &Bridge{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("repo", cfg.Repo.FullName),
		now:    time.Now,
	}
}

// Repository returns the bridged repository.
func (b *Bridge) Repository() model.Repository {
	return b.cfg.Repo
}

// Run performs one bridging pass for pr. Nothing is posted unless the new
// emails were archived first. A concurrent archive update causes the pass
// to be regenerated from the new archive contents.
func (b *Bridge) Run(ctx context.Context, pr model.PullRequest) (BridgeOutcome, error) {
	for attempt := 1; ; attempt++ {
		outcome, err := b.pass(ctx, pr)
		if errors.Is(err, driven.ErrArchiveConflict) && attempt < maxArchiveAttempts {
			b.logger.Info("archive changed concurrently, regenerating", "pr", pr.Number, "attempt", attempt)
			continue
		}
		return outcome, err
	}
}

func (b *Bridge) pass(ctx context.Context, pr model.PullRequest) (BridgeOutcome, error) {
	path := b.mboxPath(pr)
	file, err := b.deps.Archive.Read(ctx, path)
	if errors.Is(err, driven.ErrArchiveNotFound) {
		file = driven.ArchiveFile{Path: path}
	} else if err != nil {
		return BridgeOutcome{}, fmt.Errorf("read archive %s: %w", path, err)
	}
	sent := mbox.Parse(file.Contents, b.cfg.Sender)

	if len(sent) == 0 {
		if reason := b.notReady(pr); reason != "" {
			return b.skip(pr, reason), nil
		}
	}

	if !pr.IsOpen() {
		exists, err := b.deps.Forge.BranchExists(ctx, pr.Repo.FullName, pr.TargetRef)
		if err != nil {
			return BridgeOutcome{}, fmt.Errorf("check target branch %s: %w", pr.TargetRef, err)
		}
		if !exists {
			b.logger.Warn("target branch no longer exists, cannot process further", "pr", pr.Number, "branch", pr.TargetRef)
			return BridgeOutcome{Skipped: "target branch missing"}, nil
		}
	}

	comments, err := b.deps.Forge.ListIssueComments(ctx, pr.Repo.FullName, pr.Number)
	if err != nil {
		return BridgeOutcome{}, fmt.Errorf("list comments: %w", err)
	}
	if len(sent) == 0 {
		if reason := b.missingReadyComment(comments); reason != "" {
			return b.skip(pr, reason), nil
		}
	}

	recipients := b.recipients(pr)
	if len(recipients) == 0 {
		return b.skip(pr, "no matching recipient list"), nil
	}

	botUser, err := b.currentUser(ctx)
	if err != nil {
		return BridgeOutcome{}, err
	}

	local, tip, err := b.deps.Repos.Materialize(ctx, pr, filepath.Join(b.cfg.ScratchDir, "mlbridge-mergebase", pr.Repo.FullName))
	if err != nil {
		return BridgeOutcome{}, fmt.Errorf("materialize repository: %w", err)
	}
	// The forge only records the target when the pull request is synchronized.
	if tip != "" && tip != pr.TargetSHA {
		b.logger.Debug("target branch moved", "pr", pr.Number, "recorded", pr.TargetSHA, "tip", tip)
		pr.TargetSHA = tip
	}

	ra, err := b.collect(ctx, pr, botUser, comments)
	if err != nil {
		return BridgeOutcome{}, err
	}

	env := archive.Env{
		Repo:          local,
		Webrevs:       b.deps.Webrevs,
		Directory:     bridgeDirectory{inner: b.deps.Directory, ignored: b.cfg.IgnoredUsers, sender: b.cfg.Sender},
		Files:         b.fileReader(pr),
		Notify:        b.webrevNotifier(pr, botUser, comments),
		IssueTracker:  b.cfg.IssueTracker,
		IssuePrefix:   b.cfg.IssuePrefix,
		SubjectPrefix: b.subjectPrefix(pr),
		BotUser:       botUser,
		Cooldown:      b.cfg.Cooldown,
		Now:           b.now,
	}
	result, err := ra.GenerateNewEmails(ctx, sent, env)
	if err != nil {
		return BridgeOutcome{}, fmt.Errorf("generate emails: %w", err)
	}
	if !result.RetryAt.IsZero() {
		if b.deps.Metrics != nil {
			b.deps.Metrics.CooldownDeferred()
		}
		b.logger.Info("cooldown deferral", "pr", pr.Number, "retry_at", result.RetryAt)
		return BridgeOutcome{RetryAt: result.RetryAt}, nil
	}
	if len(result.Emails) == 0 {
		return BridgeOutcome{}, nil
	}

	if err := b.appendToArchive(ctx, pr, file, result.Emails); err != nil {
		return BridgeOutcome{}, err
	}
	if err := b.post(ctx, pr, ra, recipients, result.Emails); err != nil {
		return BridgeOutcome{}, err
	}

	if b.deps.Metrics != nil {
		b.deps.Metrics.EmailsSent(len(result.Emails))
	}
	b.logger.Info("emails sent",
		"pr", pr.Number,
		"count", len(result.Emails),
		"latency", b.now().Sub(pr.UpdatedAt).Round(time.Second),
	)
	return BridgeOutcome{Sent: len(result.Emails)}, nil
}

func (b *Bridge) skip(pr model.PullRequest, reason string) BridgeOutcome {
	b.logger.Debug("pull request skipped", "pr", pr.Number, "reason", reason)
	return BridgeOutcome{Skipped: reason}
}

func (b *Bridge) mboxPath(pr model.PullRequest) string {
	return fmt.Sprintf("%s/%d.mbox", pr.Repo.FullName, pr.Number)
}

// notReady checks the label gates that apply before the first email.
func (b *Bridge) notReady(pr model.PullRequest) string {
	if !pr.IsOpen() {
		if !pr.IsIntegrated() {
			return "closed pull request was not integrated"
		}
		return ""
	}
	for _, label := range b.cfg.ReadyLabels {
		if !pr.HasLabel(label) {
			return "missing label " + label
		}
	}
	return ""
}

func (b *Bridge) missingReadyComment(comments []model.IssueComment) string {
	for _, ready := range b.cfg.ReadyComments {
		found := slices.ContainsFunc(comments, func(c model.IssueComment) bool {
			return c.Author.Login == ready.User && ready.Pattern.MatchString(c.Body)
		})
		if !found {
			return fmt.Sprintf("missing ready comment from %s matching %q", ready.User, ready.Pattern)
		}
	}
	return ""
}

func (b *Bridge) recipients(pr model.PullRequest) []model.Address {
	var out []model.Address
	for _, list := range b.cfg.Lists {
		if len(list.Labels) == 0 || slices.ContainsFunc(list.Labels, pr.HasLabel) {
			out = append(out, list.Address)
		}
	}
	return out
}

func (b *Bridge) currentUser(ctx context.Context) (model.User, error) {
	b.botMu.Lock()
	defer b.botMu.Unlock()
	if b.botUser != nil {
		return *b.botUser, nil
	}
	u, err := b.deps.Forge.CurrentUser(ctx)
	if err != nil {
		return model.User{}, fmt.Errorf("resolve bot user: %w", err)
	}
	b.botUser = &u
	return u, nil
}

// collect loads the pull request activity into a review archive, applying
// the ignore rules.
func (b *Bridge) collect(ctx context.Context, pr model.PullRequest, botUser model.User, comments []model.IssueComment) (*archive.ReviewArchive, error) {
	repo := pr.Repo.FullName
	lastDraft, err := b.deps.Forge.LastMarkedAsDraft(ctx, repo, pr.Number)
	if err != nil && !errors.Is(err, driven.ErrNotFound) {
		return nil, fmt.Errorf("load draft history: %w", err)
	}
	reviews, err := b.deps.Forge.ListReviews(ctx, repo, pr.Number)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	reviewComments, err := b.deps.Forge.ListReviewComments(ctx, repo, pr.Number)
	if err != nil {
		return nil, fmt.Errorf("list review comments: %w", err)
	}

	ra := archive.NewReviewArchive(pr, b.cfg.Sender, b.logger)
	for _, c := range comments {
		if b.ignored(pr, botUser, c.Author, c.Body, c.CreatedAt, lastDraft, true) {
			ra.AddIgnored(c)
			continue
		}
		ra.AddComment(c)
	}
	for _, r := range reviews {
		if b.ignored(pr, botUser, r.Reviewer, r.Body, r.SubmittedAt, lastDraft, false) {
			continue
		}
		ra.AddReview(r)
	}
	for _, rc := range reviewComments {
		if b.ignored(pr, botUser, rc.Author, rc.Body, rc.CreatedAt, lastDraft, true) {
			continue
		}
		ra.AddReviewComment(rc)
	}
	return ra, nil
}

// ignored reports whether a comment stays off the list. Command-only bodies
// are ignored for comments but not for reviews, whose verdict still counts.
func (b *Bridge) ignored(pr model.PullRequest, botUser, author model.User, body string, created, lastDraft time.Time, isComment bool) bool {
	if author.ID == botUser.ID {
		return true
	}
	if slices.Contains(b.cfg.IgnoredUsers, author.Login) {
		return true
	}
	if isComment && archive.FilterCommands(body) == "" {
		return true
	}
	for _, pattern := range b.cfg.IgnoredComments {
		if pattern.MatchString(body) {
			return true
		}
	}
	return pr.IsDraft && !lastDraft.IsZero() && lastDraft.Before(created)
}

func (b *Bridge) subjectPrefix(pr model.PullRequest) string {
	useBranch := b.cfg.BranchInSubject != nil && b.cfg.BranchInSubject.MatchString(pr.TargetRef)
	if !useBranch && !b.cfg.RepoInSubject {
		return ""
	}
	var parts []string
	if b.cfg.RepoInSubject {
		parts = append(parts, pr.Repo.Name())
	}
	if useBranch {
		parts = append(parts, pr.TargetRef)
	}
	return "[" + strings.Join(parts, ":") + "] "
}

func (b *Bridge) fileReader(pr model.PullRequest) archive.FileReader {
	return func(ctx context.Context, path, ref string) (string, error) {
		return b.deps.Forge.FileContents(ctx, pr.Repo.FullName, path, ref)
	}
}

// webrevNotifier keeps the bot's webrev list comment current. comments is
// updated when a new list comment is created, so later revisions of the same
// pass edit it instead of adding another.
func (b *Bridge) webrevNotifier(pr model.PullRequest, botUser model.User, comments []model.IssueComment) archive.WebrevNotification {
	var mu sync.Mutex
	return func(ctx context.Context, index int, webrevs []model.WebrevDescription) error {
		mu.Lock()
		defer mu.Unlock()

		existing := slices.IndexFunc(comments, func(c model.IssueComment) bool {
			return c.Author.ID == botUser.ID && archive.IsWebrevComment(c.Body)
		})
		previous := ""
		if existing >= 0 {
			previous = comments[existing].Body
		}
		body, changed := archive.WebrevComment(pr, previous, index, webrevs)
		if !changed {
			b.logger.Debug("webrev links already posted", "pr", pr.Number, "index", index)
			return nil
		}

		if existing >= 0 {
			if err := b.deps.Writer.UpdateComment(ctx, pr.Repo.FullName, comments[existing].ID, body); err != nil {
				return fmt.Errorf("update webrev comment: %w", err)
			}
			comments[existing].Body = body
			return nil
		}
		c, err := b.deps.Writer.AddComment(ctx, pr.Repo.FullName, pr.Number, body)
		if err != nil {
			return fmt.Errorf("add webrev comment: %w", err)
		}
		comments = append(comments, c)
		return nil
	}
}

func (b *Bridge) appendToArchive(ctx context.Context, pr model.PullRequest, file driven.ArchiveFile, emails []model.Email) error {
	var contents strings.Builder
	contents.WriteString(file.Contents)
	archiveRecipient := model.Address{Address: fmt.Sprintf("%d@mbox", pr.Number)}
	for _, e := range emails {
		e.Recipients = append(slices.Clone(e.Recipients), archiveRecipient)
		contents.WriteString(mbox.Format(e))
	}
	file.Contents = contents.String()

	message := fmt.Sprintf("Adding comments for PR %s/%d", pr.Repo.FullName, pr.Number)
	if err := b.deps.Archive.Write(ctx, file, message); err != nil {
		return fmt.Errorf("write archive %s: %w", file.Path, err)
	}
	return nil
}

// post sends the archived emails to the lists without the PR-* protocol
// headers.
func (b *Bridge) post(ctx context.Context, pr model.PullRequest, ra *archive.ReviewArchive, recipients []model.Address, emails []model.Email) error {
	for _, e := range emails {
		out := e.WithoutHeaderPrefix(archive.HeaderPrefix)
		for _, h := range b.cfg.Headers {
			out.SetHeader(h.Name, h.Value)
		}
		out.Recipients = recipients
		if err := b.deps.Mail.Post(ctx, out); err != nil {
			return fmt.Errorf("post %s: %w", out.ID.Address, err)
		}

		if b.deps.Notifier != nil && ra.StartsThread(e) {
			if err := b.deps.Notifier.NewThread(ctx, pr, out); err != nil {
				b.logger.Warn("new thread notification failed", "pr", pr.Number, "error", err)
			}
		}
	}
	return nil
}
