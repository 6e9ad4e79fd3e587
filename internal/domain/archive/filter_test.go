package archive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/mlbridge/internal/domain/archive"
)

func TestFilterText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text unchanged",
			in:   "Looks good to me.",
			want: "Looks good to me.",
		},
		{
			name: "auto update section dropped",
			in:   "Fixes the crash.\n\n" + archive.AutoUpdateMarker + "\n### Progress\n- [ ] Review",
			want: "Fixes the crash.",
		},
		{
			name: "html comments removed",
			in:   "Before <!-- hidden\nnote --> after",
			want: "Before  after",
		},
		{
			name: "command lines removed",
			in:   "/integrate\nThanks!\n  /reviewers 2",
			want: "Thanks!",
		},
		{
			name: "multi-line summary swallowed",
			in:   "Ready.\n/summary\nThis is the summary\nspanning lines\n/integrate",
			want: "Ready.",
		},
		{
			name: "backslash escapes resolved",
			in:   `Use \*args\* and 1\. item`,
			want: "Use *args* and 1. item",
		},
		{
			name: "emoji shortcode mapped",
			in:   "Great work :+1: :unknown:",
			want: "Great work \U0001F44D :unknown:",
		},
		{
			name: "inline code kept verbatim",
			in:   "Call `a\\*b` now",
			want: "Call `a\\*b` now",
		},
		{
			name: "fence lines dropped, code kept",
			in:   "See:\n\n```java\nint x = a\\*b; // :+1:\n```\n\nDone.",
			want: "See:\n\nint x = a\\*b; // :+1:\n\nDone.",
		},
		{
			name: "html tags reduced to text",
			in:   "<details>\n<summary>Log</summary>\n\nbody\n\n</details>",
			want: "Log\n\nbody",
		},
		{
			name: "inline html tags stripped",
			in:   "a <b>bold</b> &amp; more",
			want: "a bold &amp; more",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, archive.FilterText(tt.in))
		})
	}
}

func TestFilterCommands(t *testing.T) {
	assert.Empty(t, archive.FilterCommands("/integrate\n/sponsor"))
	assert.Equal(t, "text", archive.FilterCommands("  /reviewers 2\ntext\n"))
	assert.Equal(t, "a\nb", archive.FilterCommands("a\r\nb"))
}
