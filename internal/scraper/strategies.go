package scraper

import "github.com/JakeFAU/joblisting-crawler/internal/crawler"

// DefaultStrategies are tried in order until one matches at least one container.
var DefaultStrategies = []crawler.SelectorStrategy{
	{Name: "job-card", Container: "div.job_seen_beacon", Title: "h2.jobTitle"},
	{Name: "result-list", Container: "ul.jobsearch-ResultsList > li div.cardOutline", Title: "h2 a"},
	{Name: "data-jk", Container: "[data-jk]", Title: "a[data-jk], h2"},
	{Name: "article", Container: "article[data-testid*='job'], article.job-card", Title: "h2, h3"},
	{Name: "generic", Container: "li[class*='job'], div[class*='job-card']", Title: "a, h2, h3"},
}
