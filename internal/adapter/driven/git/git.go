// Package git implements the local repository ports on top of the git
// command-line client.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Identity used for the scratch commits created by Rebase and MergeConflicts.
const (
	committerName  = "mlbridge"
	committerEmail = "mlbridge@localhost"
)

// commandError carries the stderr of a failed git invocation.
type commandError struct {
	args   []string
	stderr string
	err    error
}

func (e *commandError) Error() string {
	msg := strings.TrimSpace(e.stderr)
	if msg == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.args, " "), e.err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.args, " "), e.err, msg)
}

func (e *commandError) Unwrap() error {
	return e.err
}

// exitCode returns the exit status of a failed git invocation, or -1 if the
// process did not run to completion.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// run executes git in dir and returns its trimmed standard output.
func run(ctx context.Context, dir string, args ...string) (string, error) {
	full := append([]string{
		"-c", "user.name=" + committerName,
		"-c", "user.email=" + committerEmail,
		"-c", "commit.gpgsign=false",
	}, args...)

	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &commandError{args: args, stderr: stderr.String(), err: err}
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}
