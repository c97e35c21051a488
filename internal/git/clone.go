package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Clone makes a shallow single-branch copy of repoURL in dir.
func Clone(ctx context.Context, repoURL, branch, dir string) (string, error) {
	log := zerolog.Ctx(ctx)
	out, err := run(ctx, "", "clone", "--depth", "1", "--branch", branch, "--", repoURL, dir)
	if err != nil {
		return out, fmt.Errorf("git clone: %w", err)
	}
	log.Debug().Str("repo", repoURL).Str("branch", branch).Str("dir", dir).Msg("cloned repository")
	return out, nil
}

// Head returns the sha and subject of the checked out commit.
func Head(ctx context.Context, dir string) (sha, subject string, err error) {
	out, err := run(ctx, dir, "log", "-1", "--format=%H%n%s")
	if err != nil {
		return "", "", fmt.Errorf("git log: %w", err)
	}
	sha, subject, _ = strings.Cut(strings.TrimSpace(out), "\n")
	return sha, subject, nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return buf.String(), fmt.Errorf("%w: %s", err, strings.TrimSpace(buf.String()))
	}
	return buf.String(), nil
}
