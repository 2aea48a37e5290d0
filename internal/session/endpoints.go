package session

import (
	"net/url"
	"strings"
)

// Endpoints classifies request paths as public or protected.
//
// Entries are relative to the API base path. An entry ending in "/" matches
// that path and everything below it; any other entry must match exactly.
// Unlike plain substring search, "token/refresh/" does not match
// "/api/admin/token/refresh/".
type Endpoints struct {
	basePath string
	public   []string
}

// NewEndpoints creates an Endpoints matcher for the API rooted at baseURL.
func NewEndpoints(baseURL string, public []string) *Endpoints {
	basePath := "/"
	if u, err := url.Parse(baseURL); err == nil && u.Path != "" {
		basePath = u.Path
	}
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}

	entries := make([]string, 0, len(public))
	for _, p := range public {
		p = strings.TrimSpace(strings.TrimPrefix(p, "/"))
		if p == "" {
			continue
		}
		entries = append(entries, p)
	}

	return &Endpoints{basePath: basePath, public: entries}
}

// IsPublic reports whether path needs no credential and never triggers a refresh.
func (e *Endpoints) IsPublic(path string) bool {
	if e == nil {
		return false
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasPrefix(path, e.basePath) {
		return false
	}
	rel := strings.TrimPrefix(path, e.basePath)

	for _, ep := range e.public {
		if rel == ep {
			return true
		}
		if strings.HasSuffix(ep, "/") && strings.HasPrefix(rel, ep) {
			return true
		}
	}
	return false
}
