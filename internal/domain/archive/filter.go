package archive

import (
	"html"
	"regexp"
	"slices"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// AutoUpdateMarker separates the author's description from the section the
// bots regenerate.
const AutoUpdateMarker = "<!-- Anything below this marker will be automatically updated, please do not edit -->"

var (
	htmlComment    = regexp.MustCompile(`(?s)<!--.*?-->`)
	commandLine    = regexp.MustCompile(`^\s*/([A-Za-z]+)(\s.*)?$`)
	backslashEsc   = regexp.MustCompile("\\\\([!\"#$%&'()*+,\\-./:;<=>?@\\[\\\\\\]^_`{|}~])")
	emojiShortcode = regexp.MustCompile(`:([a-z0-9_+\-]+):`)
	fenceLine      = regexp.MustCompile("^ {0,3}(```+|~~~+)")

	// Commands whose arguments continue on the following lines.
	multiLineCommands = []string{"summary"}

	markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser()
	tagStripper    = bluemonday.StrictPolicy()
)

var emoji = map[string]string{
	"+1":         "\U0001F44D",
	"thumbsup":   "\U0001F44D",
	"-1":         "\U0001F44E",
	"thumbsdown": "\U0001F44E",
	"smile":      "\U0001F604",
	"laughing":   "\U0001F606",
	"confused":   "\U0001F615",
	"heart":      "❤️",
	"tada":       "\U0001F389",
	"hooray":     "\U0001F389",
	"rocket":     "\U0001F680",
	"eyes":       "\U0001F440",
}

// FilterText turns a forge comment or description into plain mail text. It
// drops the bot-maintained section, HTML comments and command lines, then
// removes markdown formatting while leaving code untouched.
func FilterText(body string) string {
	if i := strings.Index(body, AutoUpdateMarker); i >= 0 {
		body = body[:i]
	}
	body = htmlComment.ReplaceAllString(body, "")
	body = FilterCommands(body)
	return strings.TrimSpace(markdownToText(body))
}

// FilterCommands removes bot command lines, including the continuation lines
// of multi-line commands.
func FilterCommands(body string) string {
	var b strings.Builder
	inArgs := false
	for _, line := range splitLines(body) {
		if m := commandLine.FindStringSubmatch(line); m != nil {
			inArgs = slices.Contains(multiLineCommands, strings.ToLower(m[1]))
			continue
		}
		if !inArgs {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

type spanKind int

const (
	spanCode spanKind = iota
	spanFence
	spanHTML
)

type span struct {
	start, stop int
	kind        spanKind
}

// markdownToText rewrites prose outside code: fence lines are dropped, HTML is
// reduced to its text, backslash escapes are resolved and emoji shortcodes
// are replaced.
func markdownToText(body string) string {
	src := []byte(body)
	doc := markdownParser.Parse(text.NewReader(src))

	var spans []span
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock:
			spans = append(spans, fencedSpans(src, node)...)
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			spans = append(spans, lineSpans(node.Lines(), spanCode)...)
			return ast.WalkSkipChildren, nil
		case *ast.CodeSpan:
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					spans = append(spans, span{t.Segment.Start, t.Segment.Stop, spanCode})
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			spans = append(spans, lineSpans(node.Lines(), spanHTML)...)
			if node.HasClosure() {
				spans = append(spans, span{node.ClosureLine.Start, node.ClosureLine.Stop, spanHTML})
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			spans = append(spans, lineSpans(node.Segments, spanHTML)...)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	slices.SortStableFunc(spans, func(a, b span) int { return a.start - b.start })

	var b strings.Builder
	pos := 0
	for _, s := range spans {
		if s.start < pos || s.stop > len(src) {
			continue
		}
		b.WriteString(prose(body[pos:s.start]))
		switch s.kind {
		case spanCode:
			b.WriteString(body[s.start:s.stop])
		case spanHTML:
			b.WriteString(html.UnescapeString(tagStripper.Sanitize(body[s.start:s.stop])))
		case spanFence:
		}
		pos = s.stop
	}
	b.WriteString(prose(body[pos:]))
	return b.String()
}

func lineSpans(lines *text.Segments, kind spanKind) []span {
	spans := make([]span, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		spans = append(spans, span{seg.Start, seg.Stop, kind})
	}
	return spans
}

// fencedSpans returns the fence lines of a fenced code block as spans to drop
// and its content as code.
func fencedSpans(src []byte, node *ast.FencedCodeBlock) []span {
	lines := node.Lines()
	var opening int
	switch {
	case lines.Len() > 0:
		opening = lineStart(src, lines.At(0).Start-1)
	case node.Info != nil:
		opening = lineStart(src, node.Info.Segment.Start)
	default:
		return nil
	}

	openingEnd := lineEnd(src, opening)
	if !fenceLine.Match(src[opening:openingEnd]) {
		return nil
	}
	spans := []span{{opening, openingEnd, spanFence}}
	spans = append(spans, lineSpans(lines, spanCode)...)

	closing := openingEnd
	if lines.Len() > 0 {
		closing = lines.At(lines.Len() - 1).Stop
	}
	if closing < len(src) && closing > 0 && src[closing-1] != '\n' {
		closing = lineEnd(src, closing)
	}
	if closing < len(src) {
		closingEnd := lineEnd(src, closing)
		if fenceLine.Match(src[closing:closingEnd]) {
			spans = append(spans, span{closing, closingEnd, spanFence})
		}
	}
	return spans
}

// lineStart returns the offset of the start of the line containing pos.
func lineStart(src []byte, pos int) int {
	for pos > 0 && src[pos-1] != '\n' {
		pos--
	}
	return max(pos, 0)
}

// lineEnd returns the offset just past the newline ending the line that
// starts at pos.
func lineEnd(src []byte, pos int) int {
	for pos < len(src) && src[pos] != '\n' {
		pos++
	}
	if pos < len(src) {
		pos++
	}
	return pos
}

func prose(s string) string {
	s = backslashEsc.ReplaceAllString(s, "$1")
	return emojiShortcode.ReplaceAllStringFunc(s, func(m string) string {
		if e, ok := emoji[m[1:len(m)-1]]; ok {
			return e
		}
		return m
	})
}
