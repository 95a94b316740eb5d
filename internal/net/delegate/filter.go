package delegate

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned for malformed URL patterns
var ErrInvalidPattern = errors.New("invalid URL pattern")

// AllURLs matches every URL with a scheme
const AllURLs = "<all_urls>"

// Pattern matches URLs of the form <scheme>://<host><path>.
//
// Scheme "*" matches http and https. Host "*" matches any host and "*.a.com"
// matches a.com and its subdomains. The path is a doublestar glob: "*" stays
// within a segment, "/**" spans segments.
type Pattern struct {
	raw        string
	all        bool
	scheme     string
	host       string
	subdomains bool
	path       string
}

// ParsePattern parses a single URL pattern
func ParsePattern(raw string) (Pattern, error) {
	if raw == AllURLs {
		return Pattern{raw: raw, all: true}, nil
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return Pattern{}, fmt.Errorf("%w: %q: missing scheme", ErrInvalidPattern, raw)
	}

	host, path := rest, "/**"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host, path = rest[:i], rest[i:]
	}
	if host == "" && scheme != "file" {
		return Pattern{}, fmt.Errorf("%w: %q: missing host", ErrInvalidPattern, raw)
	}

	p := Pattern{raw: raw, scheme: strings.ToLower(scheme), host: strings.ToLower(host), path: path}
	if strings.HasPrefix(p.host, "*.") {
		p.subdomains = true
		p.host = p.host[2:]
	} else if strings.Contains(p.host, "*") && p.host != "*" {
		return Pattern{}, fmt.Errorf("%w: %q: wildcard must lead the host", ErrInvalidPattern, raw)
	}
	if !doublestar.ValidatePattern(p.path) {
		return Pattern{}, fmt.Errorf("%w: %q: bad path glob", ErrInvalidPattern, raw)
	}
	return p, nil
}

// String returns the pattern as written
func (p Pattern) String() string {
	return p.raw
}

// Match reports whether u matches the pattern
func (p Pattern) Match(u *url.URL) bool {
	if u == nil || u.Scheme == "" {
		return false
	}
	if p.all {
		return true
	}

	switch p.scheme {
	case "*":
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
	default:
		if p.scheme != u.Scheme {
			return false
		}
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case p.host == "*":
	case p.subdomains:
		if host != p.host && !strings.HasSuffix(host, "."+p.host) {
			return false
		}
	case host != p.host:
		return false
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	ok, err := doublestar.Match(p.path, path)
	return err == nil && ok
}

// Filter is a set of patterns. An empty filter matches everything.
type Filter struct {
	patterns []Pattern
}

// NewFilter parses patterns into a filter
func NewFilter(patterns ...string) (*Filter, error) {
	f := &Filter{patterns: make([]Pattern, 0, len(patterns))}
	for _, raw := range patterns {
		p, err := ParsePattern(raw)
		if err != nil {
			return nil, err
		}
		f.patterns = append(f.patterns, p)
	}
	return f, nil
}

// Match reports whether any pattern matches u
func (f *Filter) Match(u *url.URL) bool {
	if f == nil || len(f.patterns) == 0 {
		return true
	}
	for _, p := range f.patterns {
		if p.Match(u) {
			return true
		}
	}
	return false
}

// Patterns returns the raw pattern strings
func (f *Filter) Patterns() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.patterns))
	for i, p := range f.patterns {
		out[i] = p.raw
	}
	return out
}
