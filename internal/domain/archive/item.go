package archive

import (
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// Item id prefixes.
const (
	idFirst            = "fc"
	prefixRevision     = "ha"
	prefixComment      = "pc"
	prefixReview       = "rv"
	prefixReviewComent = "rc"
	prefixBridged      = "br"
	idClosed           = "cn"
	idIntegrated       = "in"
)

// memo computes a value on first use and caches it.
type memo[T any] struct {
	once sync.Once
	fn   func() T
	val  T
}

func newMemo[T any](fn func() T) *memo[T] {
	return &memo[T]{fn: fn}
}

func (m *memo[T]) get() T {
	m.once.Do(func() {
		m.val = m.fn()
		m.fn = nil
	})
	return m.val
}

func fixed(s string) *memo[string] {
	return newMemo(func() string { return s })
}

// footerText is the result of a footer computation, which may fail when a
// webrev cannot be generated or published.
type footerText struct {
	text string
	err  error
}

// Item is one archivable event of a pull request. Items are rebuilt on every
// pass from the sent archive and the live forge state; only the emails they
// render are persisted.
type Item struct {
	id       string
	created  time.Time
	updated  time.Time
	author   model.User
	headers  []model.Header // Persisted protocol state, e.g. PR-Head-Hash.
	parent   *Item
	headHash string // Set on revision items.

	subject *memo[string]
	header  *memo[string]
	body    *memo[string]
	footer  *memo[footerText]
}

// ID returns the local item id, such as "fc" or "pc1234".
func (i *Item) ID() string { return i.id }

// Created returns when the underlying event happened.
func (i *Item) Created() time.Time { return i.created }

// Updated returns when the underlying event was last edited.
func (i *Item) Updated() time.Time { return i.updated }

// Author returns the user who produced the event.
func (i *Item) Author() model.User { return i.author }

// Parent returns the item this one replies to, or nil for the first item.
func (i *Item) Parent() *Item { return i.parent }

// ExtraHeaders returns the protocol headers persisted with the item's email.
func (i *Item) ExtraHeaders() []model.Header { return i.headers }

// Subject returns the email subject.
func (i *Item) Subject() string { return i.subject.get() }

// Header returns the attribution line placed above the body, possibly empty.
func (i *Item) Header() string { return i.header.get() }

// Body returns the message text.
func (i *Item) Body() string { return i.body.get() }

// Footer returns the footer text. Computing it may generate webrevs.
func (i *Item) Footer() (string, error) {
	f := i.footer.get()
	return f.text, f.err
}

func (i *Item) isRevision() bool {
	return i.id == idFirst || strings.HasPrefix(i.id, prefixRevision)
}
