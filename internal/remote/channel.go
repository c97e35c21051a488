// Package remote drives the production host over a remote command channel.
package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/yz4230/shipyard/internal/entity"
)

// CommandResult is the outcome of a command that ran to completion.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Channel executes shell commands on the production host.
type Channel interface {
	Execute(ctx context.Context, command string) (*CommandResult, error)
	// Upload copies a local file to remotePath on the host.
	Upload(ctx context.Context, localPath, remotePath string) error
}

// ConnectionError means the channel itself could not be established.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == entity.ErrRemoteConnection }

// CommandError means the command ran but exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed with code %d: %s", e.ExitCode, strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Is(target error) bool { return target == entity.ErrRemoteCommand }

// quote wraps s in single quotes for a POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
