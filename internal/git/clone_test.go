package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitOrSkip(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("git unavailable: %v: %s", err, out)
	}
}

func TestCloneAndHead(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	src := t.TempDir()
	gitOrSkip(t, src, "init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(src, "README"), []byte("hi"), 0o644))
	gitOrSkip(t, src, "add", ".")
	gitOrSkip(t, src, "commit", "-m", "first commit")

	dst := filepath.Join(t.TempDir(), "ws")
	_, err := Clone(context.Background(), "file://"+src, "main", dst)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dst, "README"))

	sha, subject, err := Head(context.Background(), dst)
	require.NoError(t, err)
	assert.Len(t, sha, 40)
	assert.Equal(t, "first commit", subject)
}

func TestCloneUnknownBranch(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	src := t.TempDir()
	gitOrSkip(t, src, "init", "-b", "main")
	gitOrSkip(t, src, "commit", "--allow-empty", "-m", "x")

	_, err := Clone(context.Background(), "file://"+src, "nope", filepath.Join(t.TempDir(), "ws"))
	assert.Error(t, err)
}
