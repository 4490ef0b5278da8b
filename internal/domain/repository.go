package domain

import "fmt"

// Repository is the GitHub repository that hosts the image-pusher workflows.
type Repository struct {
	Owner     string
	Name      string
	RemoteURL string
}

// Slug returns "owner/name".
func (r Repository) Slug() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// URL returns the web URL of the repository.
func (r Repository) URL() string {
	return "https://github.com/" + r.Slug()
}
