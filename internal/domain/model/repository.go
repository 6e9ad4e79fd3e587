package model

import (
	"net/url"
	"path"
)

// Repository identifies a hosted repository.
type Repository struct {
	FullName string // "owner/name".
	WebURL   string // e.g. "https://github.com/owner/name", without trailing slash.
}

// Name returns the last path element of FullName.
func (r Repository) Name() string {
	return path.Base(r.FullName)
}

// Host returns the host part of WebURL, or "localhost" if it cannot be parsed.
func (r Repository) Host() string {
	u, err := url.Parse(r.WebURL)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}

// CloneURL returns the git URL of the repository.
func (r Repository) CloneURL() string {
	return r.WebURL + ".git"
}

// CommitURL returns the browser URL of a commit.
func (r Repository) CommitURL(hash string) string {
	return r.WebURL + "/commit/" + hash
}

// CompareURL returns the browser URL comparing two revisions.
func (r Repository) CompareURL(from, to string) string {
	return r.WebURL + "/compare/" + from + "..." + to
}
