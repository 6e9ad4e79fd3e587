// Package mbox reads and writes the mbox archive format used for the
// per-pull-request mail archives.
package mbox

import (
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

const (
	ctimeLayout   = "Mon Jan 02 15:04:05 2006"
	rfc1123Layout = "Mon, 2 Jan 2006 15:04:05 -0700"
)

var (
	fromEncode = regexp.MustCompile(`(?m)^(>*From )`)
	fromDecode = regexp.MustCompile(`(?m)^>(>*From )`)
	obfuscated = regexp.MustCompile(`^(\S+) at (\S+?)(?: \((.*)\))?$`)

	errNoHeaders   = errors.New("message has no header block")
	errNoMessageID = errors.New("message has no Message-Id")
)

var decoder = new(mime.WordDecoder)

// Format renders e as one mbox entry, including the leading blank line and
// the "From " separator.
func Format(e model.Email) string {
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "From %s  %s\n", e.Sender.Address, e.Date.UTC().Format(ctimeLayout))
	fmt.Fprintf(&b, "From: %s\n", encode(e.Author.Obfuscated()))
	if e.Author != e.Sender && !e.Sender.IsZero() {
		fmt.Fprintf(&b, "Sender: %s\n", encode(e.Sender.Obfuscated()))
	}
	if len(e.Recipients) > 0 {
		to := make([]string, len(e.Recipients))
		for i, r := range e.Recipients {
			to[i] = encode(r.String())
		}
		fmt.Fprintf(&b, "To: %s\n", strings.Join(to, ", "))
	}
	fmt.Fprintf(&b, "Date: %s\n", e.Date.Format(rfc1123Layout))
	fmt.Fprintf(&b, "Subject: %s\n", encode(e.Subject))
	fmt.Fprintf(&b, "Message-Id: %s\n", e.ID.String())
	for _, h := range e.Headers {
		fmt.Fprintf(&b, "%s: %s\n", h.Name, encode(h.Value))
	}
	b.WriteString("\n")
	b.WriteString(fromEncode.ReplaceAllString(e.Body, ">$1"))
	b.WriteString("\n")
	return b.String()
}

func encode(s string) string {
	return mime.QEncoding.Encode("utf-8", s)
}

// Parse splits an mbox file into emails in file order. When sender is set it
// overrides the Sender of every message. Entries that fail to parse are
// merged into the preceding entry, which recovers bodies where a "From "
// line was left unescaped.
func Parse(text string, sender model.Address) []model.Email {
	chunks := split(text)

	var parsed []model.Email
	pending := ""
	for i := len(chunks) - 1; i >= 0; i-- {
		pending = chunks[i] + pending
		e, err := parseMessage(fromDecode.ReplaceAllString(pending, "$1"))
		if err != nil {
			continue
		}
		if !sender.IsZero() {
			e.Sender = sender
		}
		parsed = append(parsed, e)
		pending = ""
	}

	for i, j := 0, len(parsed)-1; i < j; i, j = i+1, j-1 {
		parsed[i], parsed[j] = parsed[j], parsed[i]
	}
	return parsed
}

// split cuts text before every "From " line that starts the file or follows
// a blank line.
func split(text string) []string {
	var chunks []string
	var current strings.Builder
	lines := strings.SplitAfter(text, "\n")
	previousBlank := true
	for _, line := range lines {
		if strings.HasPrefix(line, "From ") && previousBlank {
			if strings.HasPrefix(current.String(), "From ") {
				chunks = append(chunks, current.String())
			}
			current.Reset()
		}
		current.WriteString(line)
		previousBlank = strings.TrimRight(line, "\r\n") == ""
	}
	if strings.HasPrefix(current.String(), "From ") {
		chunks = append(chunks, current.String())
	} else if len(chunks) > 0 {
		chunks[len(chunks)-1] += current.String()
	}
	return chunks
}

func parseMessage(chunk string) (model.Email, error) {
	chunk = strings.ReplaceAll(chunk, "\r\n", "\n")
	nl := strings.IndexByte(chunk, '\n')
	if nl < 0 {
		return model.Email{}, errNoHeaders
	}
	rest := chunk[nl+1:]
	end := strings.Index(rest, "\n\n")
	if end < 0 {
		return model.Email{}, errNoHeaders
	}
	headers, err := parseHeaders(rest[:end])
	if err != nil {
		return model.Email{}, err
	}

	var e model.Email
	e.Body = strings.TrimRight(rest[end+2:], "\n")
	for _, h := range headers {
		switch strings.ToLower(h.Name) {
		case "from":
			if e.Author, err = parseAddress(h.Value); err != nil {
				return model.Email{}, fmt.Errorf("parse From: %w", err)
			}
		case "sender":
			if e.Sender, err = parseAddress(h.Value); err != nil {
				return model.Email{}, fmt.Errorf("parse Sender: %w", err)
			}
		case "to":
			list, err := mail.ParseAddressList(h.Value)
			if err != nil {
				return model.Email{}, fmt.Errorf("parse To: %w", err)
			}
			for _, a := range list {
				e.Recipients = append(e.Recipients, model.Address{Name: a.Name, Address: a.Address})
			}
		case "date":
			if e.Date, err = mail.ParseDate(h.Value); err != nil {
				return model.Email{}, fmt.Errorf("parse Date: %w", err)
			}
		case "subject":
			e.Subject = h.Value
		case "message-id":
			if e.ID, err = model.ParseAddress(h.Value); err != nil {
				return model.Email{}, fmt.Errorf("parse Message-Id: %w", err)
			}
		default:
			e.Headers = append(e.Headers, h)
		}
	}
	if e.ID.IsZero() {
		return model.Email{}, errNoMessageID
	}
	if e.Sender.IsZero() {
		e.Sender = e.Author
	}
	if e.Date.IsZero() {
		e.Date = time.Unix(0, 0).UTC()
	}
	return e, nil
}

func parseHeaders(block string) ([]model.Header, error) {
	var headers []model.Header
	for _, line := range strings.Split(block, "\n") {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(headers) == 0 {
				return nil, fmt.Errorf("continuation line without header: %q", line)
			}
			headers[len(headers)-1].Value += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line: %q", line)
		}
		headers = append(headers, model.Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	for i := range headers {
		if decoded, err := decoder.DecodeHeader(headers[i].Value); err == nil {
			headers[i].Value = decoded
		}
	}
	return headers, nil
}

// parseAddress accepts both regular and obfuscated ("local at domain (Name)")
// addresses.
func parseAddress(s string) (model.Address, error) {
	if m := obfuscated.FindStringSubmatch(s); m != nil {
		return model.Address{Name: m[3], Address: m[1] + "@" + m[2]}, nil
	}
	return model.ParseAddress(s)
}
