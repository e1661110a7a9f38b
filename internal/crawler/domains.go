package crawler

import (
	"net/url"
	"strings"
)

// DomainPatterns matches hosts against exact names and suffix wildcards
// ("*.example.com" or ".example.com").
type DomainPatterns struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainPatterns compiles patterns. A nil result matches nothing.
func NewDomainPatterns(patterns ...[]string) *DomainPatterns {
	matcher := &DomainPatterns{
		exact: make(map[string]struct{}),
	}
	for _, group := range patterns {
		for _, raw := range group {
			matcher.add(raw)
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (d *DomainPatterns) add(raw string) {
	value := strings.TrimSpace(strings.ToLower(raw))
	switch {
	case value == "":
	case strings.HasPrefix(value, "*."):
		d.addSuffix(strings.TrimPrefix(value, "*."))
	case strings.HasPrefix(value, "."):
		d.addSuffix(strings.TrimPrefix(value, "."))
	default:
		d.exact[value] = struct{}{}
	}
}

func (d *DomainPatterns) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range d.suffixes {
		if existing == suffix {
			return
		}
	}
	d.suffixes = append(d.suffixes, suffix)
}

// MatchHost reports whether host matches any pattern.
func (d *DomainPatterns) MatchHost(host string) bool {
	if d == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, exact := d.exact[host]; exact {
		return true
	}
	for _, suffix := range d.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// MatchURL reports whether the host of rawURL matches any pattern.
func (d *DomainPatterns) MatchURL(rawURL string) bool {
	if d == nil {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return d.MatchHost(u.Hostname())
}
