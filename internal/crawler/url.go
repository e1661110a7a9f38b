package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL produces the canonical form used for duplicate detection.
// Scheme and host are lowercased, default ports and the fragment are dropped,
// query parameters are sorted and a trailing slash on a non-root path is removed.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse url: %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// Hostname returns the lowercased host of rawURL without port, or "" when it
// cannot be parsed.
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// ResolveReference resolves href against base. It returns "" for empty,
// javascript: and fragment-only hrefs.
func ResolveReference(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

// SameSite reports whether a and b share a host, ignoring a leading "www.".
func SameSite(a, b string) bool {
	ha := strings.TrimPrefix(Hostname(a), "www.")
	hb := strings.TrimPrefix(Hostname(b), "www.")
	return ha != "" && ha == hb
}
