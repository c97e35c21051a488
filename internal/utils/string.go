package utils

import (
	"net/url"
	"strings"

	giturls "github.com/whilp/git-urls"
)

// SanitizeName lowercases s and replaces anything outside [a-z0-9_.-] with '-'.
func SanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ParseGitHubRepo extracts owner and repository name from an https or scp-style GitHub URL.
func ParseGitHubRepo(rawurl string) (owner, repo string, ok bool) {
	u, err := giturls.Parse(rawurl)
	if err != nil || !strings.EqualFold(u.Hostname(), "github.com") {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}

// SafeURL drops any password or token embedded in a repository URL.
func SafeURL(rawurl string) string {
	u, err := giturls.Parse(rawurl)
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
