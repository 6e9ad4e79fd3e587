// Package census maps forge accounts to project contributors using a YAML
// directory file.
package census

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// Project roles, most privileged first.
const (
	RoleLead      = "Lead"
	RoleReviewer  = "Reviewer"
	RoleCommitter = "Committer"
	RoleAuthor    = "Author"
)

const (
	noRole     = "no project role"
	noUsername = "no known username"
)

// Compile-time interface satisfaction check.
var _ driven.Directory = (*Census)(nil)

// Contributor is one entry of the directory file.
type Contributor struct {
	Username string `yaml:"username"`
	FullName string `yaml:"full_name"`
	ForgeID  string `yaml:"forge_id"`
	Role     string `yaml:"role"`
}

type file struct {
	Domain       string        `yaml:"domain"`
	Namespace    string        `yaml:"namespace"`
	Contributors []Contributor `yaml:"contributors"`
}

// Census is an immutable contributor directory keyed by forge user id.
type Census struct {
	domain    string
	namespace string
	byID      map[string]Contributor
}

// Load reads the directory file at path.
func Load(path string) (*Census, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading census %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("census %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a directory file.
func Parse(data []byte) (*Census, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing census: %w", err)
	}
	if f.Domain == "" {
		return nil, fmt.Errorf("census domain is required")
	}

	c := &Census{domain: f.Domain, namespace: f.Namespace, byID: make(map[string]Contributor, len(f.Contributors))}
	for i, contributor := range f.Contributors {
		if contributor.Username == "" || contributor.ForgeID == "" {
			return nil, fmt.Errorf("contributor %d: username and forge_id are required", i)
		}
		role, err := normalizeRole(contributor.Role)
		if err != nil {
			return nil, fmt.Errorf("contributor %s: %w", contributor.Username, err)
		}
		contributor.Role = role
		if _, dup := c.byID[contributor.ForgeID]; dup {
			return nil, fmt.Errorf("duplicate forge_id %s", contributor.ForgeID)
		}
		c.byID[contributor.ForgeID] = contributor
	}
	return c, nil
}

// Empty returns a directory without contributors.
func Empty() *Census {
	return &Census{byID: map[string]Contributor{}}
}

// Len returns the number of contributors.
func (c *Census) Len() int {
	return len(c.byID)
}

// EmailAuthor returns username@domain for contributors and the zero address
// for anyone else.
func (c *Census) EmailAuthor(user model.User) model.Address {
	contributor, ok := c.byID[user.ID]
	if !ok {
		return model.Address{}
	}
	name := contributor.FullName
	if name == "" {
		name = user.FullName
	}
	return model.Address{Name: name, Address: contributor.Username + "@" + c.domain}
}

// Username returns the contributor's username, or login@namespace for users
// outside the census.
func (c *Census) Username(user model.User) string {
	if contributor, ok := c.byID[user.ID]; ok {
		return contributor.Username
	}
	if c.namespace == "" {
		return user.Login
	}
	return user.Login + "@" + c.namespace
}

func (c *Census) Role(user model.User) string {
	contributor, ok := c.byID[user.ID]
	if !ok {
		return noUsername
	}
	if contributor.Role == "" {
		return noRole
	}
	return contributor.Role
}

func normalizeRole(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "":
		return "", nil
	case "lead":
		return RoleLead, nil
	case "reviewer":
		return RoleReviewer, nil
	case "committer":
		return RoleCommitter, nil
	case "author":
		return RoleAuthor, nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}
