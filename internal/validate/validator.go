// Package validate decides whether a captured URL plausibly points at a job
// posting and names the applicant tracking system behind it.
package validate

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// Rejection reasons returned by InvalidReason.
const (
	ReasonEmpty         = "empty url"
	ReasonTooShort      = "url shorter than minimum length"
	ReasonUnparseable   = "url cannot be parsed"
	ReasonScheme        = "url scheme is not http or https"
	ReasonBrokenPattern = "broken short pattern"
	ReasonPathDepth     = "insufficient path depth"
	ReasonNotJobLike    = "no job keyword in path and host is not a known ATS"
)

// Defaults used when Config fields are zero.
const (
	DefaultMinLength       = 12
	DefaultMinPathSegments = 2
)

var brokenPattern = regexp.MustCompile(`(?i)^https?://[^/]+/jobs?/\d+/?$`)

var defaultJobKeywords = []string{
	"job", "jobs", "career", "careers", "position", "positions", "opening", "openings",
	"posting", "postings", "vacancy", "vacancies", "requisition", "apply", "recruiting",
	"opportunity", "opportunities", "employment",
}

// Config tunes the validator.
type Config struct {
	MinLength        int
	MinPathSegments  int
	ExtraATSDomains  []string
	ExtraJobKeywords []string
}

// Validator classifies candidate job URLs. It is immutable and safe for concurrent use.
type Validator struct {
	minLength       int
	minPathSegments int
	ats             *crawler.DomainPatterns
	keywords        map[string]struct{}
}

// New builds a Validator from cfg.
func New(cfg Config) *Validator {
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if cfg.MinPathSegments <= 0 {
		cfg.MinPathSegments = DefaultMinPathSegments
	}
	keywords := make(map[string]struct{}, len(defaultJobKeywords)+len(cfg.ExtraJobKeywords))
	for _, kw := range append(append([]string{}, defaultJobKeywords...), cfg.ExtraJobKeywords...) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords[kw] = struct{}{}
		}
	}
	return &Validator{
		minLength:       cfg.MinLength,
		minPathSegments: cfg.MinPathSegments,
		ats:             crawler.NewDomainPatterns(atsPatterns(), cfg.ExtraATSDomains),
		keywords:        keywords,
	}
}

// IsValid reports whether rawURL looks like a job posting.
func (v *Validator) IsValid(rawURL string) bool {
	return v.InvalidReason(rawURL) == ""
}

// InvalidReason returns why rawURL is rejected, or "" when it is valid.
func (v *Validator) InvalidReason(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ReasonEmpty
	}
	if len(raw) < v.minLength {
		return ReasonTooShort
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ReasonUnparseable
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return ReasonScheme
	}
	if brokenPattern.MatchString(raw) {
		return ReasonBrokenPattern
	}
	segments := pathSegments(u.Path)
	if len(segments) < v.minPathSegments {
		return ReasonPathDepth
	}
	if v.hasJobKeyword(segments) || v.ats.MatchHost(u.Hostname()) {
		return ""
	}
	return ReasonNotJobLike
}

// IsKnownATS reports whether rawURL is hosted on a recognized applicant tracking system.
func (v *Validator) IsKnownATS(rawURL string) bool {
	return v.ats.MatchURL(rawURL)
}

func (v *Validator) hasJobKeyword(segments []string) bool {
	for _, seg := range segments {
		seg = strings.ToLower(seg)
		if _, ok := v.keywords[seg]; ok {
			return true
		}
		for _, token := range strings.FieldsFunc(seg, isTokenSeparator) {
			if _, ok := v.keywords[token]; ok {
				return true
			}
		}
	}
	return false
}

func isTokenSeparator(r rune) bool {
	return r == '-' || r == '_' || r == '.' || r == '+' || r == '~'
}

func pathSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
