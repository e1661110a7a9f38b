// Package session persists browser cookies per target domain so a later run
// can resume an established session.
package session

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// DefaultTTL bounds how long a saved session is considered usable.
const DefaultTTL = 24 * time.Hour

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9.\-]+`)

// domainKey turns a domain into a filesystem and key safe token.
func domainKey(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, ".")
	d = unsafeKeyChars.ReplaceAllString(d, "_")
	d = strings.Trim(d, "._")
	return d
}

// newSession stamps cookies for persistence. Expired cookies are kept; they
// are filtered when the session is loaded.
func newSession(domain string, cookies []crawler.Cookie, now time.Time, ttl time.Duration) crawler.Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cp := make([]crawler.Cookie, len(cookies))
	copy(cp, cookies)
	return crawler.Session{
		Domain:    domain,
		Cookies:   cp,
		SavedAt:   now.UTC(),
		ExpiresAt: now.UTC().Add(ttl),
	}
}

// liveCookies drops the whole session past ExpiresAt and any cookie whose own
// expiry has passed.
func liveCookies(s crawler.Session, now time.Time) []crawler.Cookie {
	if !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(now) {
		return []crawler.Cookie{}
	}
	out := make([]crawler.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if c.Expired(now) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Merge combines cookie jars read from several browser contexts. Cookies are
// keyed by domain, path and name; the one with the later expiry wins, a
// session cookie outranks a dated one, and on a tie the later jar wins.
func Merge(jars ...[]crawler.Cookie) []crawler.Cookie {
	type cookieKey struct{ domain, path, name string }
	index := map[cookieKey]int{}
	var out []crawler.Cookie
	for _, jar := range jars {
		for _, c := range jar {
			k := cookieKey{strings.ToLower(strings.TrimPrefix(c.Domain, ".")), c.Path, c.Name}
			i, ok := index[k]
			if !ok {
				index[k] = len(out)
				out = append(out, c)
				continue
			}
			if !outlives(out[i], c) {
				out[i] = c
			}
		}
	}
	if out == nil {
		return []crawler.Cookie{}
	}
	return out
}

// outlives reports whether a expires strictly later than b.
func outlives(a, b crawler.Cookie) bool {
	switch {
	case a.Expires.IsZero():
		return !b.Expires.IsZero()
	case b.Expires.IsZero():
		return false
	default:
		return a.Expires.After(b.Expires)
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Noop is a SessionStore that never persists anything.
type Noop struct{}

// Save discards cookies.
func (Noop) Save(context.Context, string, []crawler.Cookie) error { return nil }

// Load always returns an empty set.
func (Noop) Load(context.Context, string) []crawler.Cookie { return []crawler.Cookie{} }
