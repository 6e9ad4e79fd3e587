package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/mlbridge/internal/application"
	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

const defaultCooldown = time.Minute

// Archive backends.
const (
	ArchiveGitHub = "github"
	ArchiveSQLite = "sqlite"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses values such as "90s" or "2m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ArchiveSettings selects where the mbox archive is kept.
type ArchiveSettings struct {
	Backend    string `yaml:"backend"`
	Repository string `yaml:"repository"` // GitHub backend only.
	Ref        string `yaml:"ref"`
}

// SMTPSettings configures the mail transport.
type SMTPSettings struct {
	Addr     string   `yaml:"addr"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Interval Duration `yaml:"interval"`
}

// WebrevSettings configures where diff artifacts are written and served.
type WebrevSettings struct {
	Dir     string `yaml:"dir"`
	URL     string `yaml:"url"`
	MaxSize int    `yaml:"max_size"`
}

// SlackSettings configures new-thread notifications.
type SlackSettings struct {
	Webhook  string `yaml:"webhook"`
	Username string `yaml:"username"`
}

type senderFile struct {
	Name string `yaml:"name"`
	Mail string `yaml:"mail"`
}

type readyCommentFile struct {
	User    string `yaml:"user"`
	Pattern string `yaml:"pattern"`
}

type listFile struct {
	Address string   `yaml:"address"`
	Labels  []string `yaml:"labels"`
}

type repositoryFile struct {
	Repository string            `yaml:"repository"`
	WebURL     string            `yaml:"web_url"`
	Lists      []listFile        `yaml:"lists"`
	Headers    map[string]string `yaml:"headers"`
	RepoName   bool              `yaml:"reponame"`
	BranchName string            `yaml:"branchname"`
	Issues     string            `yaml:"issues"`
}

type bridgeFile struct {
	Sender  senderFile `yaml:"sender"`
	Ignored struct {
		Users    []string `yaml:"users"`
		Comments []string `yaml:"comments"`
	} `yaml:"ignored"`
	Ready struct {
		Labels   []string           `yaml:"labels"`
		Comments []readyCommentFile `yaml:"comments"`
	} `yaml:"ready"`
	Cooldown     *Duration        `yaml:"cooldown"`
	Issues       string           `yaml:"issues"`
	IssuePrefix  string           `yaml:"issue_prefix"`
	Archive      ArchiveSettings  `yaml:"archive"`
	SMTP         SMTPSettings     `yaml:"smtp"`
	Webrevs      WebrevSettings   `yaml:"webrevs"`
	Census       string           `yaml:"census"`
	Slack        SlackSettings    `yaml:"slack"`
	Repositories []repositoryFile `yaml:"repositories"`
}

// Bridge is the validated content of the bridge file.
type Bridge struct {
	Sender  model.Address
	Bridges []application.BridgeConfig
	Archive ArchiveSettings
	SMTP    SMTPSettings
	Webrevs WebrevSettings
	Census  string // Path of the census file; empty when not configured.
	Slack   SlackSettings
}

// LoadBridge reads and validates the bridge file at path.
func LoadBridge(path string) (*Bridge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bridge config: %w", err)
	}
	b, err := ParseBridge(data)
	if err != nil {
		return nil, fmt.Errorf("bridge config %s: %w", path, err)
	}
	return b, nil
}

// ParseBridge decodes and validates a bridge file. Regular expressions are
// compiled here so that a bad pattern fails at startup.
func ParseBridge(data []byte) (*Bridge, error) {
	var f bridgeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	if f.Sender.Mail == "" {
		return nil, errors.New("sender.mail is required")
	}
	sender := model.Address{Name: f.Sender.Name, Address: f.Sender.Mail}

	ignoredComments, err := compileAll("ignored.comments", f.Ignored.Comments)
	if err != nil {
		return nil, err
	}

	readyComments := make([]application.ReadyComment, 0, len(f.Ready.Comments))
	for i, rc := range f.Ready.Comments {
		if rc.User == "" {
			return nil, fmt.Errorf("ready.comments[%d]: user is required", i)
		}
		pattern, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("ready.comments[%d]: %w", i, err)
		}
		readyComments = append(readyComments, application.ReadyComment{User: rc.User, Pattern: pattern})
	}

	cooldown := defaultCooldown
	if f.Cooldown != nil {
		cooldown = time.Duration(*f.Cooldown)
	}
	if cooldown < 0 {
		return nil, fmt.Errorf("cooldown must not be negative, got %s", cooldown)
	}

	archive, err := validateArchive(f.Archive)
	if err != nil {
		return nil, err
	}

	if len(f.Repositories) == 0 {
		return nil, errors.New("at least one repository is required")
	}

	b := &Bridge{
		Sender:  sender,
		Archive: archive,
		SMTP:    f.SMTP,
		Webrevs: f.Webrevs,
		Census:  f.Census,
		Slack:   f.Slack,
	}
	seen := make(map[string]bool, len(f.Repositories))
	for i, rf := range f.Repositories {
		cfg, err := repositoryConfig(rf)
		if err != nil {
			return nil, fmt.Errorf("repositories[%d]: %w", i, err)
		}
		if seen[cfg.Repo.FullName] {
			return nil, fmt.Errorf("repositories[%d]: duplicate repository %s", i, cfg.Repo.FullName)
		}
		seen[cfg.Repo.FullName] = true

		cfg.Sender = sender
		cfg.IgnoredUsers = f.Ignored.Users
		cfg.IgnoredComments = ignoredComments
		cfg.ReadyLabels = f.Ready.Labels
		cfg.ReadyComments = readyComments
		cfg.Cooldown = cooldown
		if cfg.IssueTracker == "" {
			cfg.IssueTracker = f.Issues
		}
		cfg.IssuePrefix = f.IssuePrefix
		b.Bridges = append(b.Bridges, cfg)
	}
	return b, nil
}

func repositoryConfig(rf repositoryFile) (application.BridgeConfig, error) {
	owner, name, ok := strings.Cut(rf.Repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return application.BridgeConfig{}, fmt.Errorf("repository %q: expected owner/name", rf.Repository)
	}
	webURL := strings.TrimSuffix(rf.WebURL, "/")
	if webURL == "" {
		webURL = "https://github.com/" + rf.Repository
	}

	if len(rf.Lists) == 0 {
		return application.BridgeConfig{}, fmt.Errorf("%s: at least one list is required", rf.Repository)
	}
	lists := make([]application.MailingList, 0, len(rf.Lists))
	for _, l := range rf.Lists {
		addr, err := model.ParseAddress(l.Address)
		if err != nil {
			return application.BridgeConfig{}, fmt.Errorf("%s: %w", rf.Repository, err)
		}
		lists = append(lists, application.MailingList{Address: addr, Labels: l.Labels})
	}

	names := make([]string, 0, len(rf.Headers))
	for k := range rf.Headers {
		names = append(names, k)
	}
	slices.Sort(names)
	headers := make([]model.Header, 0, len(names))
	for _, k := range names {
		headers = append(headers, model.Header{Name: k, Value: rf.Headers[k]})
	}

	cfg := application.BridgeConfig{
		Repo:          model.Repository{FullName: rf.Repository, WebURL: webURL},
		Lists:         lists,
		Headers:       headers,
		RepoInSubject: rf.RepoName,
		IssueTracker:  rf.Issues,
	}
	if rf.BranchName != "" {
		re, err := regexp.Compile("^(?:" + rf.BranchName + ")$")
		if err != nil {
			return application.BridgeConfig{}, fmt.Errorf("%s: branchname: %w", rf.Repository, err)
		}
		cfg.BranchInSubject = re
	}
	return cfg, nil
}

func validateArchive(a ArchiveSettings) (ArchiveSettings, error) {
	if a.Backend == "" {
		a.Backend = ArchiveSQLite
	}
	switch a.Backend {
	case ArchiveSQLite:
	case ArchiveGitHub:
		if a.Repository == "" {
			return a, errors.New("archive.repository is required for the github backend")
		}
		if a.Ref == "" {
			a.Ref = "master"
		}
	default:
		return a, fmt.Errorf("archive.backend %q: expected %s or %s", a.Backend, ArchiveGitHub, ArchiveSQLite)
	}
	return a, nil
}

func compileAll(field string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, re)
	}
	return out, nil
}
