package github

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidRepoURL marks catalog entries whose repo reference cannot be parsed.
var ErrInvalidRepoURL = errors.New("invalid repository reference")

// ParseRepoURL extracts owner and repository name from a GitHub URL or an
// "owner/name" shorthand.
func ParseRepoURL(raw string) (string, string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidRepoURL)
	}

	path := value
	if strings.Contains(value, "://") {
		parsed, err := url.Parse(value)
		if err != nil {
			return "", "", fmt.Errorf("%w: %s", ErrInvalidRepoURL, value)
		}
		host := strings.ToLower(parsed.Hostname())
		if host != "github.com" && host != "www.github.com" {
			return "", "", fmt.Errorf("%w: unsupported host %q", ErrInvalidRepoURL, parsed.Hostname())
		}
		path = parsed.Path
	} else if rest, ok := strings.CutPrefix(strings.ToLower(value), "github.com/"); ok {
		path = value[len(value)-len(rest):]
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidRepoURL, value)
	}

	owner := parts[0]
	name := strings.TrimSuffix(parts[1], ".git")
	if owner == "" || name == "" || strings.ContainsAny(owner+name, " \t") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidRepoURL, value)
	}
	return owner, name, nil
}
