package model

import (
	"fmt"
	"time"
)

// Signature identifies a commit author or committer.
type Signature struct {
	Name  string
	Email string
}

// String formats the signature as "Name <email>".
func (s Signature) String() string {
	return fmt.Sprintf("%s <%s>", s.Name, s.Email)
}

// Commit holds the metadata of a single commit.
type Commit struct {
	Hash       string
	Parents    []string
	Author     Signature
	Committer  Signature
	AuthoredAt time.Time
	Message    []string // One entry per line.
}

// Abbrev returns the abbreviated hash.
func (c Commit) Abbrev() string {
	return Abbreviate(c.Hash)
}

// Abbreviate shortens a commit hash to eight characters.
func Abbreviate(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// DiffStats summarises a diff. Modified counts lines changed in place; a
// hunk replacing n lines with m lines contributes min(n, m) modified lines.
type DiffStats struct {
	Added    int
	Removed  int
	Modified int
	Files    int
}

// Lines returns the total number of changed lines.
func (s DiffStats) Lines() int {
	return s.Added + s.Removed + s.Modified
}
