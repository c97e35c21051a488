package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InstallPostReceiveHook points a bare repository's post-receive hook at binary.
func InstallPostReceiveHook(repodir, binary, endpoint string) (string, error) {
	if _, err := os.Stat(filepath.Join(repodir, "HEAD")); err != nil {
		return "", fmt.Errorf("%s is not a git directory: %w", repodir, err)
	}
	hooksDir := filepath.Join(repodir, "hooks")
	if err := os.MkdirAll(hooksDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("create hooks dir: %w", err)
	}

	scriptPath := filepath.Join(hooksDir, "post-receive")
	scriptContent := shellScript(fmt.Sprintf("cat | %q hook post-receive --endpoint %q", binary, endpoint))
	if err := os.WriteFile(scriptPath, []byte(scriptContent), 0o755); err != nil {
		return "", fmt.Errorf("write post-receive hook: %w", err)
	}
	return scriptPath, nil
}

func shellScript(lines ...string) string {
	return "#!/bin/sh\n" + strings.Join(lines, "\n") + "\n"
}
