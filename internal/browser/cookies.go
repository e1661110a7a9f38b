package browser

import (
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

func fromNetworkCookies(raw []*network.Cookie) []crawler.Cookie {
	out := make([]crawler.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		ck := crawler.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		}
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			ck.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		out = append(out, ck)
	}
	return out
}

func toSetCookie(c crawler.Cookie) *network.SetCookieParams {
	params := network.SetCookie(c.Name, c.Value).
		WithDomain(c.Domain).
		WithPath(c.Path).
		WithSecure(c.Secure).
		WithHTTPOnly(c.HTTPOnly)
	if c.Path == "" {
		params = params.WithPath("/")
	}
	switch network.CookieSameSite(c.SameSite) {
	case network.CookieSameSiteStrict, network.CookieSameSiteLax, network.CookieSameSiteNone:
		params = params.WithSameSite(network.CookieSameSite(c.SameSite))
	}
	if !c.Expires.IsZero() {
		exp := cdp.TimeSinceEpoch(c.Expires)
		params = params.WithExpires(&exp)
	}
	return params
}
