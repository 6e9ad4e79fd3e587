package archive

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// Errors returned while building the reply tree.
var (
	// ErrReviewCommentMissing indicates a review comment thread references a
	// comment that produced no item.
	ErrReviewCommentMissing = errors.New("review comment item missing")
	// ErrParentNotFound indicates that an item's parent was never archived.
	ErrParentNotFound = errors.New("parent email not found")
)

var mention = regexp.MustCompile(`@([\w-]+)`)

// candidates holds the items a new comment may reply to.
type candidates struct {
	replies []*Item // Comments and reviews created before the comment.
	bridged []*Item
}

// parentTier is one step of comment parent resolution. Tiers are tried in
// order and the first match wins.
type parentTier struct {
	name  string
	match func(body string, c candidates) *Item
}

var commentParentTiers = []parentTier{
	{name: "mention", match: func(body string, c candidates) *Item {
		return lastMention(body, c.replies)
	}},
	{name: "quote", match: func(body string, c candidates) *Item {
		return lastQuoted(body, slices.Concat(c.replies, c.bridged))
	}},
}

// lastMention returns the latest candidate whose author is the first user
// @-mentioned on the first line of body.
func lastMention(body string, items []*Item) *Item {
	firstLine, _, _ := strings.Cut(body, "\n")
	m := mention.FindStringSubmatch(firstLine)
	if m == nil {
		return nil
	}
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].author.Login == m[1] {
			return items[i]
		}
	}
	return nil
}

// lastQuoted returns the latest candidate whose body contains the leading
// quote of body.
func lastQuoted(body string, items []*Item) *Item {
	for i := len(items) - 1; i >= 0; i-- {
		if containsQuote(body, items[i].Body()) {
			return items[i]
		}
	}
	return nil
}

// lastRevisionBefore returns the latest revision item created before t, or
// the first item.
func lastRevisionBefore(generated []*Item, t time.Time) *Item {
	last := generated[0]
	for _, it := range generated {
		if strings.HasPrefix(it.id, prefixRevision) && it.created.Before(t) {
			last = it
		}
	}
	return last
}

// findCommentParent picks the item a general comment replies to.
func findCommentParent(generated, bridged []*Item, body string, created time.Time) *Item {
	c := candidates{bridged: bridged}
	for _, it := range generated {
		if (strings.HasPrefix(it.id, prefixComment) || strings.HasPrefix(it.id, prefixReview)) && it.created.Before(created) {
			c.replies = append(c.replies, it)
		}
	}
	for _, tier := range commentParentTiers {
		if p := tier.match(body, c); p != nil {
			return p
		}
	}
	return lastRevisionBefore(generated, created)
}

// findRevisionItem returns the revision item whose head is hash. An empty
// hash resolves to the first item and an unknown one to the latest revision.
func findRevisionItem(generated []*Item, hash string) *Item {
	last := generated[0]
	if hash == "" {
		return last
	}
	for _, it := range generated {
		if !it.isRevision() {
			continue
		}
		if it.headHash == hash {
			return it
		}
		if strings.HasPrefix(it.id, prefixRevision) {
			last = it
		}
	}
	return last
}

// findReviewCommentParent picks the item an inline review comment replies
// to. thread holds the comments of its thread in archive order.
func findReviewCommentParent(generated []*Item, thread []model.ReviewComment, rc model.ReviewComment) (*Item, error) {
	var eligible []*Item
	for _, prev := range thread {
		if prev.ID == rc.ID {
			break
		}
		id := fmt.Sprintf("%s%d", prefixReviewComent, prev.ID)
		idx := slices.IndexFunc(generated, func(it *Item) bool { return it.id == id })
		if idx < 0 {
			return nil, fmt.Errorf("finding parent of review comment %d: %w: %s", rc.ID, ErrReviewCommentMissing, id)
		}
		eligible = append(eligible, generated[idx])
	}
	if len(eligible) == 0 {
		return findRevisionItem(generated, rc.CommitID), nil
	}
	if p := lastMention(rc.Body, eligible); p != nil {
		return p, nil
	}
	return eligible[len(eligible)-1], nil
}

// parentsToQuote walks up from item collecting at most limit ancestors that
// have not been quoted yet in the same email.
func parentsToQuote(item *Item, limit int, quoted map[*Item]bool) []*Item {
	var parents []*Item
	for p := item.parent; p != nil && len(parents) < limit; p = p.parent {
		if quoted[p] {
			break
		}
		parents = append(parents, p)
	}
	return parents
}

// quoteSelectedParents nests the parents' bodies as quotes, oldest outermost.
// Nothing is quoted when first already quotes its direct parent.
func quoteSelectedParents(parents []*Item, first *Item) string {
	if len(parents) == 0 || containsQuote(first.Body(), parents[0].Body()) {
		return ""
	}
	ret := ""
	for i := len(parents) - 1; i >= 0; i-- {
		if strings.TrimSpace(ret) == "" {
			ret = quoteBody(parents[i].Body())
		} else {
			ret = quoteBody(ret) + "\n>\n" + quoteBody(parents[i].Body())
		}
	}
	return ret
}
