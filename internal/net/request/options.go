package request

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrUnsupportedProtocol = errors.New("protocol not supported")
	ErrUnescapedPath       = errors.New("Request path contains unescaped characters")
)

// Options describe a request to originate
type Options struct {
	Method   string
	URL      string
	Redirect RedirectMode
	// Headers are applied as extra headers before the first write
	Headers http.Header
}

// URLParts describe a target when no URL is given. Host wins over
// Hostname and Port.
type URLParts struct {
	Protocol string
	Host     string
	Hostname string
	Port     string
	Path     string
}

// ComposeURL builds a URL from parts. Protocol defaults to "http:",
// Hostname to "localhost" and Path to "/".
func ComposeURL(p URLParts) (string, error) {
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http:"
	}
	if protocol != "http:" && protocol != "https:" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}

	host := p.Host
	if host == "" {
		host = p.Hostname
		if host == "" {
			host = "localhost"
		}
		if p.Port != "" {
			host = net.JoinHostPort(host, p.Port)
		}
	}

	if strings.Contains(p.Path, " ") {
		return "", ErrUnescapedPath
	}
	path := p.Path
	if path == "" {
		path = "/"
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path: %w", err)
	}

	u := url.URL{
		Scheme:   strings.TrimSuffix(protocol, ":"),
		Host:     host,
		Path:     ref.Path,
		RawPath:  ref.RawPath,
		RawQuery: ref.RawQuery,
		Fragment: ref.Fragment,
	}
	return u.String(), nil
}
