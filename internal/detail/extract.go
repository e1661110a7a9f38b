package detail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// DefaultDescriptionSelectors locate the description block of a detail page, most specific first.
var DefaultDescriptionSelectors = []string{
	"#jobDescriptionText",
	"[data-testid='jobDescriptionText']",
	"#job-description",
	".job-description",
	"[class*='description']",
	"article",
	"main",
}

// Page is what a detail page contributes to a record.
type Page struct {
	Title       string
	Company     string
	Location    string
	Salary      string
	Description string
}

// jobPosting is the subset of schema.org JobPosting read from JSON-LD.
type jobPosting struct {
	Type               any    `json:"@type"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	HiringOrganization struct {
		Name string `json:"name"`
	} `json:"hiringOrganization"`
	JobLocation json.RawMessage `json:"jobLocation"`
	BaseSalary  struct {
		Currency string `json:"currency"`
		Value    struct {
			MinValue any    `json:"minValue"`
			MaxValue any    `json:"maxValue"`
			Value    any    `json:"value"`
			UnitText string `json:"unitText"`
		} `json:"value"`
	} `json:"baseSalary"`
}

type place struct {
	Address struct {
		Locality string `json:"addressLocality"`
		Region   string `json:"addressRegion"`
	} `json:"address"`
}

// Extract reads a detail page. JSON-LD JobPosting data is used when present;
// the description otherwise comes from the first matching selector, as Markdown.
func Extract(body []byte, pageURL string, selectors []string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse detail page: %w", err)
	}
	var page Page
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if jp, ok := findJobPosting([]byte(s.Text())); ok {
			page = fromJobPosting(jp, pageURL)
			return false
		}
		return true
	})
	if page.Description == "" {
		for _, sel := range selectors {
			node := doc.Find(sel).First()
			if node.Length() == 0 {
				continue
			}
			html, err := goquery.OuterHtml(node)
			if err != nil {
				continue
			}
			if text := toMarkdown(html, pageURL); text != "" {
				page.Description = text
				break
			}
		}
	}
	if page.Title == "" {
		page.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if page.Company == "" {
		page.Company, _ = doc.Find(`meta[property="og:site_name"]`).Attr("content")
	}
	return page, nil
}

func findJobPosting(raw []byte) (jobPosting, bool) {
	raw = bytes.TrimSpace(raw)
	var candidates []json.RawMessage
	if bytes.HasPrefix(raw, []byte("[")) {
		if err := json.Unmarshal(raw, &candidates); err != nil {
			return jobPosting{}, false
		}
	} else {
		var graph struct {
			Graph []json.RawMessage `json:"@graph"`
		}
		if err := json.Unmarshal(raw, &graph); err == nil && len(graph.Graph) > 0 {
			candidates = graph.Graph
		} else {
			candidates = []json.RawMessage{raw}
		}
	}
	for _, c := range candidates {
		var jp jobPosting
		if err := json.Unmarshal(c, &jp); err != nil {
			continue
		}
		if isJobPosting(jp.Type) {
			return jp, true
		}
	}
	return jobPosting{}, false
}

func isJobPosting(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "JobPosting"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "JobPosting" {
				return true
			}
		}
	}
	return false
}

func fromJobPosting(jp jobPosting, pageURL string) Page {
	page := Page{
		Title:   strings.TrimSpace(jp.Title),
		Company: strings.TrimSpace(jp.HiringOrganization.Name),
	}
	if jp.Description != "" {
		page.Description = toMarkdown(jp.Description, pageURL)
	}
	page.Location = locationOf(jp.JobLocation)
	page.Salary = salaryOf(jp)
	return page
}

func locationOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var places []place
	if err := json.Unmarshal(raw, &places); err != nil {
		var one place
		if err := json.Unmarshal(raw, &one); err != nil {
			return ""
		}
		places = []place{one}
	}
	for _, p := range places {
		parts := make([]string, 0, 2)
		for _, v := range []string{p.Address.Locality, p.Address.Region} {
			if v = strings.TrimSpace(v); v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}
	return ""
}

func salaryOf(jp jobPosting) string {
	v := jp.BaseSalary.Value
	var amount string
	switch {
	case v.MinValue != nil && v.MaxValue != nil:
		amount = fmt.Sprintf("%v - %v", v.MinValue, v.MaxValue)
	case v.Value != nil:
		amount = fmt.Sprintf("%v", v.Value)
	default:
		return ""
	}
	out := amount
	if jp.BaseSalary.Currency != "" {
		out = jp.BaseSalary.Currency + " " + out
	}
	if v.UnitText != "" {
		out += " per " + strings.ToLower(v.UnitText)
	}
	return out
}

func toMarkdown(html, baseURL string) string {
	converted, err := md.NewConverter(baseURL, true, nil).ConvertString(html)
	if err != nil {
		doc, derr := goquery.NewDocumentFromReader(strings.NewReader(html))
		if derr != nil {
			return ""
		}
		return strings.Join(strings.Fields(doc.Text()), " ")
	}
	return strings.TrimSpace(converted)
}
