// Package image normalizes container image references for the private registry.
package image

import (
	"errors"
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// Normalize strips registry host and namespace from ref, keeping the last
// repository path component plus its tag and digest.
// "docker.io/library/nginx:1.27" and "nginx:1.27" both become "nginx:1.27".
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("image reference is empty")
	}
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("parsing image reference %q: %w", ref, err)
	}
	path := reference.Path(named)
	name := path[strings.LastIndex(path, "/")+1:]
	if tagged, ok := named.(reference.Tagged); ok {
		name += ":" + tagged.Tag()
	}
	if digested, ok := named.(reference.Digested); ok {
		name += "@" + digested.Digest().String()
	}
	return name, nil
}

// FullName returns the pullable location of name inside the private registry.
// Empty registry or namespace segments are omitted.
func FullName(registry, namespace, name string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{registry, namespace, name} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}
