package model

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"
)

// Address is an RFC 5322 address, also used for message ids.
type Address struct {
	Name    string
	Address string
}

// ParseAddress parses "Name <local@domain>", "<local@domain>" or
// "local@domain".
func ParseAddress(s string) (Address, error) {
	a, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	return Address{Name: a.Name, Address: a.Address}, nil
}

// LocalPart returns the part before the last "@".
func (a Address) LocalPart() string {
	if i := strings.LastIndex(a.Address, "@"); i >= 0 {
		return a.Address[:i]
	}
	return a.Address
}

// Domain returns the part after the last "@".
func (a Address) Domain() string {
	if i := strings.LastIndex(a.Address, "@"); i >= 0 {
		return a.Address[i+1:]
	}
	return ""
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Address == ""
}

// String formats the address for use in a header. Plain names are left
// unquoted.
func (a Address) String() string {
	if a.Name == "" {
		return "<" + a.Address + ">"
	}
	if !strings.ContainsFunc(a.Name, needsQuoting) {
		return a.Name + " <" + a.Address + ">"
	}
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

func needsQuoting(r rune) bool {
	return r > '~' || r < ' ' || strings.ContainsRune(`"(),.:;<>@[\]`, r)
}

// Obfuscated formats the address as "local at domain (Name)" for public
// archives.
func (a Address) Obfuscated() string {
	s := a.LocalPart() + " at " + a.Domain()
	if a.Name != "" {
		s += " (" + a.Name + ")"
	}
	return s
}

// Header is a single named email header. Names compare case-insensitively.
type Header struct {
	Name  string
	Value string
}

// Email is a single message, either parsed from an archive or about to be
// sent.
type Email struct {
	ID         Address
	Date       time.Time
	Subject    string
	Body       string
	Author     Address
	Sender     Address
	Recipients []Address
	Headers    []Header // Extra headers in insertion order, excluding the standard ones above.
}

// Header returns the value of the named header.
func (e Email) Header(name string) (string, bool) {
	for _, h := range e.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// HasHeader reports whether the named header is present.
func (e Email) HasHeader(name string) bool {
	_, ok := e.Header(name)
	return ok
}

// SetHeader replaces the named header, or appends it if absent. The header
// slice is copied first so that copies of e are unaffected.
func (e *Email) SetHeader(name, value string) {
	e.Headers = slices.Clone(e.Headers)
	for i, h := range e.Headers {
		if strings.EqualFold(h.Name, name) {
			e.Headers[i].Value = value
			return
		}
	}
	e.Headers = append(e.Headers, Header{Name: name, Value: value})
}

// WithoutHeaderPrefix returns a copy of e without headers whose names start
// with prefix.
func (e Email) WithoutHeaderPrefix(prefix string) Email {
	kept := make([]Header, 0, len(e.Headers))
	for _, h := range e.Headers {
		if len(h.Name) >= len(prefix) && strings.EqualFold(h.Name[:len(prefix)], prefix) {
			continue
		}
		kept = append(kept, h)
	}
	e.Headers = kept
	return e
}

// NewReply creates a message replying to parent, extending its References
// chain.
func NewReply(parent Email, subject, body string) Email {
	references := parent.ID.String()
	if refs, ok := parent.Header("References"); ok {
		references = refs + " " + references
	}

	reply := Email{Subject: subject, Body: body}
	reply.SetHeader("In-Reply-To", parent.ID.String())
	reply.SetHeader("References", references)
	return reply
}
