// Package scraper implements Stage 1: loading a keyword's search result page
// and turning its listing containers into raw listings.
package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// SearchSite describes how search result pages of the target site are addressed.
// Pagination is always an explicit query parameter so any page can be retried alone.
type SearchSite struct {
	BaseURL      string            `mapstructure:"base_url"`
	KeywordParam string            `mapstructure:"keyword_param"`
	PageParam    string            `mapstructure:"page_param"`
	FirstPage    int               `mapstructure:"first_page"`
	PageStep     int               `mapstructure:"page_step"`
	ExtraParams  map[string]string `mapstructure:"extra_params"`
}

func (s SearchSite) withDefaults() SearchSite {
	if s.KeywordParam == "" {
		s.KeywordParam = "q"
	}
	if s.PageParam == "" {
		s.PageParam = "page"
	}
	if s.PageStep <= 0 {
		s.PageStep = 1
	}
	return s
}

// Name is the host the listings come from, used as JobRecord.SourceSite.
func (s SearchSite) Name() string {
	return strings.TrimPrefix(crawler.Hostname(s.BaseURL), "www.")
}

// BuildURL returns the search URL for keyword and the 1-based page number.
// The query is encoded with sorted keys so equal inputs give equal URLs.
func (s SearchSite) BuildURL(keyword string, page int) (string, error) {
	s = s.withDefaults()
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return "", errors.New("empty keyword")
	}
	if page < 1 {
		return "", fmt.Errorf("page %d out of range", page)
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid search base url %q", s.BaseURL)
	}
	q := u.Query()
	for k, v := range s.ExtraParams {
		q.Set(k, v)
	}
	q.Set(s.KeywordParam, keyword)
	q.Set(s.PageParam, strconv.Itoa(s.FirstPage+(page-1)*s.PageStep))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
