package article

import (
	"net/url"
	"strings"
)

// CanonicalKey derives the normalized identity of a URL: lowercase
// scheme and host, the path with any trailing slash removed, and the
// query string and fragment dropped entirely. Two URLs differing only
// in tracking parameters or fragments produce the same key. Returns ""
// when the input cannot be parsed as an absolute URL.
func CanonicalKey(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}

	host := strings.ToLower(parsed.Host)
	path := parsed.EscapedPath()
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "/" {
		path = ""
	}

	return scheme + "://" + host + path
}
