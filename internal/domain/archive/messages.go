package archive

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// WebrevUnavailable replaces a webrev link when the diff was too large to
// publish.
const WebrevUnavailable = "Webrev is not available because diff is too large"

const maxListedCommits = 10

var issueInTitle = regexp.MustCompile(`^(?:[A-Za-z][A-Za-z0-9]*-)?([0-9]+)[:\s]`)

var numberWords = [...]string{"no", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

func formatNumber(n int) string {
	if n >= 0 && n < len(numberWords) {
		return numberWords[n]
	}
	return strconv.Itoa(n)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func describeCommits(commits []model.Commit, adjective string) string {
	s := formatNumber(len(commits))
	if strings.TrimSpace(adjective) != "" {
		s += " " + adjective
	}
	return s + " commit" + plural(len(commits))
}

func noMessage(c model.Commit) string {
	return c.Abbrev() + ": <no commit message found>"
}

func commitBrief(c model.Commit) string {
	if len(c.Message) == 0 {
		return " - " + noMessage(c)
	}
	return " - " + c.Message[0]
}

func commitInList(c model.Commit) string {
	if len(c.Message) == 0 {
		return " - " + noMessage(c)
	}
	return " - " + strings.Join(c.Message, "\n   ")
}

func singleCommit(c model.Commit) string {
	if len(c.Message) == 0 {
		return "  " + noMessage(c)
	}
	return "  " + strings.Join(c.Message, "\n  ")
}

func commitList(commits []model.Commit, format func(model.Commit) string, moreLink string) string {
	lines := make([]string, 0, min(len(commits), maxListedCommits))
	for _, c := range commits[:min(len(commits), maxListedCommits)] {
		lines = append(lines, format(c))
	}
	s := strings.Join(lines, "\n")
	if len(commits) > maxListedCommits {
		s += fmt.Sprintf("\n - ... and %d more: %s", len(commits)-maxListedCommits, moreLink)
	}
	return s
}

// commitMessagesFull lists the full messages of commits; empty when there
// are none.
func commitMessagesFull(commits []model.Commit, moreLink string) string {
	switch len(commits) {
	case 0:
		return ""
	case 1:
		return singleCommit(commits[0])
	default:
		return commitList(commits, commitInList, moreLink)
	}
}

func commitMessagesBrief(commits []model.Commit, moreLink string) string {
	if len(commits) == 0 {
		return ""
	}
	return commitList(commits, commitBrief, moreLink)
}

func formatStats(s model.DiffStats) string {
	lines := s.Lines()
	return fmt.Sprintf("%d line%s in %d file%s changed: %d ins; %d del; %d mod",
		lines, plural(lines), s.Files, plural(s.Files), s.Added, s.Removed, s.Modified)
}

func issueURL(pr model.PullRequest, tracker, prefix string) string {
	if tracker == "" {
		return ""
	}
	m := issueInTitle.FindStringSubmatch(pr.Title)
	if m == nil {
		return ""
	}
	return strings.TrimSuffix(tracker, "/") + "/" + prefix + "-" + m[1]
}

func webrevLine(indent string, w model.WebrevDescription) string {
	switch {
	case w.DiffTooLarge:
		return indent + WebrevUnavailable + "\n"
	case w.URL != "":
		return indent + w.URL + "\n"
	default:
		return ""
	}
}

func replySubject(parentSubject string) string {
	if strings.HasPrefix(parentSubject, "Re: ") {
		return parentSubject
	}
	return "Re: " + parentSubject
}

// replyDate formats t like RFC 1123 with an unpadded day, using "GMT" for
// UTC.
func replyDate(t time.Time) string {
	if _, offset := t.Zone(); offset == 0 {
		return t.UTC().Format("Mon, 2 Jan 2006 15:04:05") + " GMT"
	}
	return t.Format("Mon, 2 Jan 2006 15:04:05 -0700")
}

func replyHeader(parentCreated time.Time, parentAuthor model.Address) string {
	return "On " + replyDate(parentCreated) + ", " + parentAuthor.String() + " wrote:"
}

func replyFooter(pr model.PullRequest) string {
	return "PR: " + pr.WebURL()
}

func conversationBody(pr model.PullRequest) string {
	if body := FilterText(pr.Body); body != "" {
		return body
	}
	return pr.Title
}

// trailer is the Stats/Patch/Fetch/PR block shared by every revision footer.
func trailer(pr model.PullRequest, stats model.DiffStats) string {
	return "  Stats: " + formatStats(stats) + "\n" +
		"  Patch: " + pr.DiffURL() + "\n" +
		"  Fetch: " + pr.FetchCommand() + "\n\n" +
		replyFooter(pr)
}

func conversationFooter(pr model.PullRequest, issue string, commits []model.Commit, moreLink string,
	webrev model.WebrevDescription, stats model.DiffStats) string {
	var b strings.Builder
	b.WriteString("Commit messages:\n")
	b.WriteString(commitMessagesBrief(commits, moreLink))
	b.WriteString("\n\n")
	b.WriteString("Changes: " + pr.ChangesURL() + "\n")
	b.WriteString(webrevLine("  Webrev: ", webrev))
	if issue != "" {
		b.WriteString("  Issue: " + issue + "\n")
	}
	b.WriteString(trailer(pr, stats))
	return b.String()
}

func mergeConversationFooter(pr model.PullRequest, commits []model.Commit, moreLink string,
	webrevs []model.WebrevDescription, stats model.DiffStats) string {
	var b strings.Builder
	b.WriteString("Commit messages:\n")
	b.WriteString(commitMessagesBrief(commits, moreLink))
	b.WriteString("\n\n")
	b.WriteString(mergeWebrevLinks(pr, webrevs))
	b.WriteString("Changes: " + pr.ChangesURL() + "\n")
	b.WriteString(trailer(pr, stats))
	return b.String()
}

func mergeWebrevLinks(pr model.PullRequest, webrevs []model.WebrevDescription) string {
	if len(webrevs) == 0 {
		return "The merge commit only contains trivial merges, so no merge-specific webrevs have been generated.\n\n"
	}
	var available, conflicts, mergeDiffs bool
	for _, w := range webrevs {
		available = available || w.Available()
		conflicts = conflicts || w.Type == model.WebrevMergeConflict
		mergeDiffs = mergeDiffs || w.Type == model.WebrevMergeTarget || w.Type == model.WebrevMergeSource
	}
	if !available {
		return ""
	}

	var b strings.Builder
	if len(webrevs) > 1 {
		b.WriteString("The webrevs contain ")
	} else {
		b.WriteString("The webrev contains ")
	}
	if conflicts {
		b.WriteString("the conflicts with " + pr.TargetRef)
	}
	if conflicts && mergeDiffs {
		b.WriteString(" and ")
	}
	if mergeDiffs {
		b.WriteString("the adjustments done while merging with regards to each parent branch")
	}
	b.WriteString(":\n")
	lines := make([]string, 0, len(webrevs))
	for _, w := range webrevs {
		target := w.URL
		if w.DiffTooLarge {
			target = WebrevUnavailable
		}
		lines = append(lines, fmt.Sprintf(" - %s: %s", w.ShortLabel(), target))
	}
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
	return b.String()
}

func rebasedFooter(pr model.PullRequest, full model.WebrevDescription, stats model.DiffStats) string {
	return "Changes: " + pr.ChangesURL() + "\n" +
		webrevLine("  Webrev: ", full) +
		trailer(pr, stats)
}

func incrementalFooter(pr model.PullRequest, full, incremental model.WebrevDescription, lastHead string, stats model.DiffStats) string {
	var b strings.Builder
	b.WriteString("Changes:\n")
	b.WriteString("  - all: " + pr.ChangesURL() + "\n")
	b.WriteString("  - new: " + pr.ChangesSinceURL(lastHead) + "\n\n")
	if full.Available() {
		b.WriteString("Webrevs:\n")
	}
	b.WriteString(webrevLine(" - full: ", full))
	if line := webrevLine(" - incr: ", incremental); line != "" {
		b.WriteString(line + "\n")
	}
	b.WriteString(trailer(pr, stats))
	return b.String()
}

func incrementalRevisionBody(author string, incremental, noIncrementalCommits bool, commits []model.Commit, moreLink string) string {
	var b strings.Builder
	b.WriteString(author)
	messages := commitMessagesFull(commits, moreLink)
	switch {
	case incremental:
		b.WriteString(" has updated the pull request incrementally")
		if messages == "" {
			b.WriteString(".")
		} else {
			b.WriteString(" with " + describeCommits(commits, "additional") + " since the last revision:\n\n" + messages)
		}
	case noIncrementalCommits:
		b.WriteString(" has refreshed the contents of this pull request, and previous commits have been removed. ")
		b.WriteString("Incremental views are not available.")
		if messages != "" {
			b.WriteString(" The pull request now contains " + describeCommits(commits, "") + ":\n\n" + messages)
		}
	default:
		b.WriteString(" has refreshed the contents of this pull request, and previous commits have been removed. ")
		b.WriteString("The incremental views will show differences compared to the previous content of the PR.")
		if messages != "" {
			b.WriteString(" The pull request contains " + describeCommits(commits, "new") + " since the last revision:\n\n" + messages)
		}
	}
	return b.String()
}

func rebasedRevisionBody(author string, commits []model.Commit, moreLink string) string {
	s := author + " has updated the pull request with a new target base due to a merge or a rebase. " +
		"The incremental webrev excludes the unrelated changes brought in by the merge/rebase."
	if messages := commitMessagesFull(commits, moreLink); messages != "" {
		s += " The pull request contains " + describeCommits(commits, "additional") + " since the last revision:\n\n" + messages
	}
	return s
}

func fullRevisionBody(author string, commits []model.Commit, moreLink string) string {
	s := author + " has updated the pull request with a new target base due to a merge or a rebase."
	if messages := commitMessagesFull(commits, moreLink); messages != "" {
		s += " The pull request now contains " + describeCommits(commits, "") + ":\n\n" + messages
	}
	return s
}

// reviewVerdict renders an approval or change request; empty for plain
// comment reviews.
func reviewVerdict(verdict model.ReviewVerdict, username, role string) string {
	switch verdict {
	case model.VerdictApproved:
		return fmt.Sprintf("Marked as reviewed by %s (%s).", username, role)
	case model.VerdictDisapproved:
		return fmt.Sprintf("Changes requested by %s (%s).", username, role)
	default:
		return ""
	}
}

func reviewBody(r model.Review, verdict string) string {
	if strings.TrimSpace(r.Body) != "" {
		return FilterText(r.Body)
	}
	return verdict
}

func reviewFooter(pr model.PullRequest, r model.Review, verdict string) string {
	var b strings.Builder
	if strings.TrimSpace(r.Body) != "" && verdict != "" {
		b.WriteString(verdict + "\n\n")
	}
	b.WriteString("PR Review: " + pr.ReviewURL(r.ID))
	return b.String()
}

// reviewCommentContext renders the location header of a thread-starting
// review comment. contents is nil when the file could not be read.
func reviewCommentContext(rc model.ReviewComment, contents []string, readErr error) string {
	var b strings.Builder
	b.WriteString(rc.Path)
	if rc.Line > 0 {
		b.WriteString(" line " + strconv.Itoa(rc.Line))
	}
	b.WriteString(":\n\n")
	if rc.CommitID == "" || rc.Line <= 0 {
		return b.String()
	}
	if readErr != nil {
		b.WriteString("> (failed to retrieve contents of file, check the PR for context)\n")
		return b.String()
	}
	for i := max(0, rc.Line-3); i < min(len(contents), rc.Line); i++ {
		fmt.Fprintf(&b, "> %d: %s\n", i+1, contents[i])
	}
	b.WriteString("\n")
	return b.String()
}

const closedNotice = "This pull request has been closed without being integrated."

func integratedNotice(c model.Commit, commitURL string, stats model.DiffStats) string {
	var b strings.Builder
	b.WriteString("This pull request has now been integrated.\n\n")
	b.WriteString("Changeset: " + c.Abbrev() + "\n")
	b.WriteString("Author:    " + c.Author.String() + "\n")
	if c.Author != c.Committer {
		b.WriteString("Committer: " + c.Committer.String() + "\n")
	}
	b.WriteString("URL:       " + commitURL + "\n")
	b.WriteString("Stats:     " + formatStats(stats) + "\n")
	b.WriteString("\n")
	b.WriteString(strings.Join(c.Message, "\n"))
	return b.String()
}
