package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mlbridge/internal/domain/archive"
	"github.com/ericfisherdev/mlbridge/internal/domain/mbox"
	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

func writeArchive(t *testing.T) string {
	t.Helper()
	date := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice := model.Address{Name: "Alice", Address: "alice@example.com"}
	bob := model.Address{Name: "Bob", Address: "bob@example.com"}

	root := model.Email{
		ID:      model.Address{Address: "root@mlbridge.example"},
		Date:    date,
		Subject: "RFR: 7: Fix threading",
		Body:    "First",
		Author:  alice,
		Sender:  alice,
		Headers: []model.Header{{Name: "PR-Head-Hash", Value: "abc123"}},
	}
	reply := model.Email{
		ID:      model.Address{Address: "reply@mlbridge.example"},
		Date:    date.Add(time.Hour),
		Subject: "Re: RFR: 7: Fix threading",
		Body:    "Looks good",
		Author:  bob,
		Sender:  bob,
		Headers: []model.Header{{Name: "In-Reply-To", Value: "<root@mlbridge.example>"}},
	}

	path := filepath.Join(t.TempDir(), "7.mbox")
	require.NoError(t, os.WriteFile(path, []byte(mbox.Format(root)+mbox.Format(reply)), 0o644))
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"mboxtool"}, args...))
	return out.String(), err
}

func TestThreads(t *testing.T) {
	path := writeArchive(t)

	out, err := runApp(t, "threads", path)

	require.NoError(t, err)
	assert.Equal(t,
		"root@mlbridge.example  RFR: 7: Fix threading  (alice@example.com)\n"+
			"  reply@mlbridge.example  Re: RFR: 7: Fix threading  (bob@example.com)\n",
		out)
}

func TestItems(t *testing.T) {
	path := writeArchive(t)

	out, err := runApp(t, "items", path)

	require.NoError(t, err)
	assert.Equal(t,
		"root\t2026-03-01T12:00:00Z\tRFR: 7: Fix threading\n"+
			"\tPR-Head-Hash: abc123\n"+
			"reply\t2026-03-01T13:00:00Z\tRe: RFR: 7: Fix threading\n",
		out)
}

func TestStableID(t *testing.T) {
	out, err := runApp(t, "stable-id", "--repo", "openjdk/skara", "--pr", "7", "--item", "fc")

	require.NoError(t, err)
	want := archive.NewMessageIDs("openjdk/skara", 7, "github.com").Stable("fc")
	assert.Equal(t, want+"\n", out)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "threads without file", args: []string{"threads"}},
		{name: "missing file", args: []string{"items", filepath.Join(t.TempDir(), "missing.mbox")}},
		{name: "bad sender", args: []string{"items", "--sender", "not an address", "x.mbox"}},
		{name: "non-positive pr", args: []string{"stable-id", "--repo", "a/b", "--pr", "0", "--item", "fc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
