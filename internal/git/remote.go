package git

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/waabox/dockworker/internal/domain"
)

// ErrNoOrigin is returned when no enclosing repository has an origin remote.
var ErrNoOrigin = errors.New("no origin remote found")

// DetectRepository walks up from dir to the nearest .git/config and returns
// the repository its origin remote points at. Running dockworker inside a
// clone of the pusher fork is enough to configure owner and repo.
func DetectRepository(dir string) (domain.Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return domain.Repository{}, fmt.Errorf("resolving %s: %w", dir, err)
	}
	for {
		configPath := filepath.Join(abs, ".git", "config")
		if _, err := os.Stat(configPath); err == nil {
			return readOrigin(configPath)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return domain.Repository{}, ErrNoOrigin
		}
		abs = parent
	}
}

func readOrigin(configPath string) (domain.Repository, error) {
	f, err := os.Open(configPath)
	if err != nil {
		return domain.Repository{}, fmt.Errorf("could not open .git/config: %w", err)
	}
	defer f.Close()

	var inOrigin bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") {
			inOrigin = line == `[remote "origin"]`
			continue
		}
		if !inOrigin {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if ok && strings.TrimSpace(key) == "url" {
			return ParseRemoteURL(strings.TrimSpace(value))
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.Repository{}, fmt.Errorf("reading .git/config: %w", err)
	}
	return domain.Repository{}, fmt.Errorf("%w in %s", ErrNoOrigin, configPath)
}

// ParseRemoteURL parses a git remote URL and returns a Repository.
// Supports HTTPS (https://github.com/owner/repo.git), scp-like SSH
// (git@github.com:owner/repo.git) and ssh:// URLs. RemoteURL keeps the input.
func ParseRemoteURL(rawURL string) (domain.Repository, error) {
	var path string
	switch {
	case strings.Contains(rawURL, "://"):
		u, err := url.Parse(rawURL)
		if err != nil {
			return domain.Repository{}, fmt.Errorf("invalid remote URL %s: %w", rawURL, err)
		}
		switch u.Scheme {
		case "https", "http", "ssh", "git":
		default:
			return domain.Repository{}, fmt.Errorf("unsupported remote URL scheme: %s", rawURL)
		}
		path = u.Path
	case strings.Contains(rawURL, "@") && strings.Contains(rawURL, ":"):
		_, after, _ := strings.Cut(rawURL, ":")
		path = after
	default:
		return domain.Repository{}, fmt.Errorf("unsupported remote URL format: %s", rawURL)
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	owner, name, ok := strings.Cut(path, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return domain.Repository{}, fmt.Errorf("remote URL %s does not name owner/repo", rawURL)
	}
	return domain.Repository{
		Owner:     owner,
		Name:      name,
		RemoteURL: rawURL,
	}, nil
}
