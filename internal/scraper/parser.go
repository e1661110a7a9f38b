package scraper

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

const (
	maxCompanyRunes = 60
	maxCompanyWords = 8
)

var (
	salaryPattern = regexp.MustCompile(`(?i)[$€£¥₹]\s?\d|\b(?:per|an|a)\s+(?:hour|year|annum|month|week)\b|/\s?(?:hr|hour|yr|year)\b|\b(?:cad|usd|eur|gbp)\b`)
	regionCode    = regexp.MustCompile(`,\s*([A-Z]{2})\b`)
	ratingLine    = regexp.MustCompile(`^\d(?:\.\d)?$`)
)

var subdivisionCodes = map[string]struct{}{
	// Canada
	"AB": {}, "BC": {}, "MB": {}, "NB": {}, "NL": {}, "NS": {}, "NT": {}, "NU": {}, "ON": {}, "PE": {}, "QC": {}, "SK": {}, "YT": {},
	// United States
	"AL": {}, "AK": {}, "AZ": {}, "AR": {}, "CA": {}, "CO": {}, "CT": {}, "DE": {}, "DC": {}, "FL": {}, "GA": {}, "HI": {},
	"ID": {}, "IL": {}, "IN": {}, "IA": {}, "KS": {}, "KY": {}, "LA": {}, "ME": {}, "MD": {}, "MA": {}, "MI": {}, "MN": {},
	"MS": {}, "MO": {}, "MT": {}, "NE": {}, "NV": {}, "NH": {}, "NJ": {}, "NM": {}, "NY": {}, "NC": {}, "ND": {}, "OH": {},
	"OK": {}, "OR": {}, "PA": {}, "RI": {}, "SC": {}, "SD": {}, "TN": {}, "TX": {}, "UT": {}, "VT": {}, "VA": {}, "WA": {},
	"WV": {}, "WI": {}, "WY": {},
}

// DefaultLocationTokens are place names and work arrangements recognized as a location line.
var DefaultLocationTokens = []string{
	"remote", "hybrid", "on-site", "onsite", "in-person",
	"ontario", "quebec", "british columbia", "alberta", "manitoba", "saskatchewan",
	"nova scotia", "new brunswick", "newfoundland", "prince edward island", "canada",
	"toronto", "montreal", "montréal", "vancouver", "calgary", "edmonton", "ottawa", "winnipeg",
	"halifax", "mississauga", "waterloo", "kitchener", "victoria", "hamilton", "markham",
	"new york", "san francisco", "seattle", "austin", "boston", "chicago", "los angeles",
	"denver", "atlanta", "united states", "london", "berlin", "dublin", "amsterdam",
}

var (
	noiseLines    = map[string]struct{}{"new": {}, "today": {}, "just posted": {}, "more...": {}}
	noisePrefixes = []string{
		"urgently hiring", "hiring multiple", "easily apply", "responsive employer",
		"posted ", "employer active", "actively hiring", "view similar", "save job",
	}
	activeLine = regexp.MustCompile(`(?i)^active \d+\+? days? ago`)
)

// LineParser classifies the visible text of a listing container line by line.
// The first non-empty line is the title. Later lines are salary when they carry
// a currency marker, location when they name a known place, otherwise the first
// short line is the company and the rest becomes the summary.
type LineParser struct {
	places *regexp.Regexp
}

// NewLineParser returns a parser that also recognizes extra location tokens.
func NewLineParser(extraLocations ...string) *LineParser {
	tokens := make([]string, 0, len(DefaultLocationTokens)+len(extraLocations))
	for _, t := range append(append([]string(nil), DefaultLocationTokens...), extraLocations...) {
		t = strings.TrimSpace(strings.ToLower(t))
		if t != "" {
			tokens = append(tokens, regexp.QuoteMeta(t))
		}
	}
	return &LineParser{places: regexp.MustCompile(`(?i)(?:^|[^\pL])(?:` + strings.Join(tokens, "|") + `)(?:$|[^\pL])`)}
}

var _ crawler.ListingParser = (*LineParser)(nil)

// Parse implements crawler.ListingParser. It reports false when text has no lines.
func (p *LineParser) Parse(text string) (crawler.ParsedListing, bool) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return crawler.ParsedListing{}, false
	}
	out := crawler.ParsedListing{Title: lines[0]}
	var summary []string
	for _, line := range lines[1:] {
		switch {
		case isNoise(line):
			continue
		case salaryPattern.MatchString(line):
			if out.Salary == "" {
				out.Salary = line
			} else {
				summary = append(summary, line)
			}
		case p.isLocation(line):
			if out.Location == "" {
				out.Location = line
			} else {
				summary = append(summary, line)
			}
		case out.Company == "" && isShort(line):
			out.Company = line
		default:
			summary = append(summary, line)
		}
	}
	out.Summary = strings.Join(summary, " ")
	return out, true
}

func (p *LineParser) isLocation(line string) bool {
	if m := regionCode.FindStringSubmatch(line); m != nil {
		if _, ok := subdivisionCodes[m[1]]; ok {
			return true
		}
	}
	return utf8.RuneCountInString(line) <= maxCompanyRunes*2 && p.places.MatchString(line)
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func isNoise(line string) bool {
	if ratingLine.MatchString(line) {
		return true
	}
	lower := strings.ToLower(line)
	if _, ok := noiseLines[lower]; ok {
		return true
	}
	for _, p := range noisePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return activeLine.MatchString(line)
}

func isShort(line string) bool {
	if strings.HasSuffix(line, ".") || strings.HasPrefix(line, "•") {
		return false
	}
	return utf8.RuneCountInString(line) <= maxCompanyRunes && len(strings.Fields(line)) <= maxCompanyWords
}
