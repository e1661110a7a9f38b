package validate

import (
	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// Apply-system labels for hosts outside the ATS catalog.
const (
	ApplySystemDirect   = "direct"
	ApplySystemExternal = "external"
)

type atsEntry struct {
	name     string
	patterns []string
}

var atsCatalog = []atsEntry{
	{"greenhouse", []string{"*.greenhouse.io"}},
	{"lever", []string{"*.lever.co"}},
	{"workday", []string{"*.myworkdayjobs.com", "*.myworkdaysite.com", "*.workday.com"}},
	{"smartrecruiters", []string{"*.smartrecruiters.com"}},
	{"ashby", []string{"*.ashbyhq.com"}},
	{"icims", []string{"*.icims.com"}},
	{"jobvite", []string{"*.jobvite.com"}},
	{"bamboohr", []string{"*.bamboohr.com"}},
	{"taleo", []string{"*.taleo.net"}},
	{"successfactors", []string{"*.successfactors.com", "*.successfactors.eu"}},
	{"workable", []string{"*.workable.com"}},
	{"breezy", []string{"*.breezy.hr"}},
	{"recruitee", []string{"*.recruitee.com"}},
	{"jazzhr", []string{"*.applytojob.com"}},
	{"ultipro", []string{"*.ultipro.com", "*.ukg.com"}},
	{"paylocity", []string{"*.paylocity.com"}},
	{"dayforce", []string{"*.dayforcehcm.com"}},
	{"adp", []string{"workforcenow.adp.com", "myjobs.adp.com"}},
	{"oracle", []string{"*.oraclecloud.com"}},
	{"teamtailor", []string{"*.teamtailor.com"}},
	{"personio", []string{"*.jobs.personio.de", "*.jobs.personio.com"}},
	{"pinpoint", []string{"*.pinpointhq.com"}},
}

type atsMatcher struct {
	name string
	dp   *crawler.DomainPatterns
}

var atsMatchers = func() []atsMatcher {
	out := make([]atsMatcher, 0, len(atsCatalog))
	for _, entry := range atsCatalog {
		out = append(out, atsMatcher{name: entry.name, dp: crawler.NewDomainPatterns(entry.patterns)})
	}
	return out
}()

func atsPatterns() []string {
	var out []string
	for _, entry := range atsCatalog {
		out = append(out, entry.patterns...)
	}
	return out
}

// ApplySystem names the ATS hosting rawURL. URLs on the search site itself are
// "direct" and any other host is "external".
func ApplySystem(rawURL, searchSiteURL string) string {
	for _, m := range atsMatchers {
		if m.dp.MatchURL(rawURL) {
			return m.name
		}
	}
	if searchSiteURL != "" && crawler.SameSite(rawURL, searchSiteURL) {
		return ApplySystemDirect
	}
	return ApplySystemExternal
}
