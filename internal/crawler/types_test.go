package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobFilterMatches(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := JobRecord{Status: JobStatusScraped, SourceSite: "example.ca", Keyword: "go", ScrapedAt: at}

	assert.True(t, JobFilter{}.Matches(rec))
	assert.True(t, JobFilter{Status: JobStatusScraped, SourceSite: "example.ca", Keyword: "go", Since: at}.Matches(rec))
	assert.False(t, JobFilter{Status: JobStatusDuplicate}.Matches(rec))
	assert.False(t, JobFilter{SourceSite: "other.ca"}.Matches(rec))
	assert.False(t, JobFilter{Keyword: "rust"}.Matches(rec))
	assert.False(t, JobFilter{Since: at.Add(time.Minute)}.Matches(rec))
}

func TestJobUpdateApply(t *testing.T) {
	t.Parallel()

	rec := JobRecord{Title: "Go Developer", Salary: "", Status: JobStatusScraped, URL: "https://a.example/jobs/1"}
	status := JobStatusFailed
	salary := "$100k"
	got := JobUpdate{Status: &status, Salary: &salary}.Apply(rec)

	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "$100k", got.Salary)
	assert.Equal(t, rec.URL, got.URL)
	assert.Equal(t, "Go Developer", got.Title)
	assert.Equal(t, JobStatusScraped, rec.Status, "original untouched")
}

func TestJobStatusValid(t *testing.T) {
	t.Parallel()

	for _, s := range []JobStatus{JobStatusScraped, JobStatusDuplicate, JobStatusInvalid, JobStatusFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, JobStatus("archived").Valid())
	assert.False(t, JobStatus("").Valid())
}

func TestScrapingTaskAttempts(t *testing.T) {
	t.Parallel()

	task := ScrapingTask{ID: "t1", MaxRetries: 1}
	assert.False(t, task.Exhausted())
	next := task.NextAttempt()
	assert.Equal(t, 1, next.RetryCount)
	assert.True(t, next.Exhausted())
	assert.Equal(t, 0, task.RetryCount)

	zero := ScrapingTask{}
	assert.True(t, zero.Exhausted())
}

func TestClickableRefKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "div.job_seen_beacon#3", ClickableRef{Selector: "div.job_seen_beacon", Index: 3}.Key())
}
