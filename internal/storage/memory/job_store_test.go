package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

func record(title, url string, at time.Time) crawler.JobRecord {
	return crawler.JobRecord{
		Title:      title,
		Company:    "Acme",
		URL:        url,
		SourceSite: "example.ca",
		Keyword:    "python",
		ScrapedAt:  at,
		Status:     crawler.JobStatusScraped,
	}
}

func TestJobStoreAddAndGet(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	id1, err := store.AddJob(ctx, record("Backend Developer", "https://boards.greenhouse.io/acme/jobs/1", base.Add(time.Minute)))
	require.NoError(t, err)
	id2, err := store.AddJob(ctx, record("Data Engineer", "https://jobs.lever.co/acme/2", base))
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	all, err := store.GetJobs(ctx, crawler.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Data Engineer", all[0].Title)

	limited, err := store.GetJobs(ctx, crawler.JobFilter{Keyword: "python", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	none, err := store.GetJobs(ctx, crawler.JobFilter{Status: crawler.JobStatusInvalid})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestJobStoreRejectsDuplicateURL(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()
	now := time.Now()

	id, err := store.AddJob(ctx, record("A", "https://boards.greenhouse.io/acme/jobs/1", now))
	require.NoError(t, err)
	existing, err := store.AddJob(ctx, record("B", "https://BOARDS.greenhouse.io/acme/jobs/1/", now))
	require.ErrorIs(t, err, crawler.ErrDuplicateJob)
	require.Equal(t, id, existing)
	require.Equal(t, 1, store.Len())
}

func TestJobStoreUpdate(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()
	now := time.Now()
	id1, err := store.AddJob(ctx, record("A", "https://boards.greenhouse.io/acme/jobs/1", now))
	require.NoError(t, err)
	id2, err := store.AddJob(ctx, record("B", "https://boards.greenhouse.io/acme/jobs/2", now))
	require.NoError(t, err)

	desc := "Build things."
	require.NoError(t, store.UpdateJob(ctx, id1, crawler.JobUpdate{Description: &desc}))

	taken := "https://boards.greenhouse.io/acme/jobs/2"
	require.ErrorIs(t, store.UpdateJob(ctx, id1, crawler.JobUpdate{URL: &taken}), crawler.ErrDuplicateJob)

	moved := "https://boards.greenhouse.io/acme/jobs/3"
	require.NoError(t, store.UpdateJob(ctx, id2, crawler.JobUpdate{URL: &moved}))
	_, err = store.AddJob(ctx, record("C", "https://boards.greenhouse.io/acme/jobs/2", now))
	require.NoError(t, err)

	bad := crawler.JobStatus("bogus")
	require.Error(t, store.UpdateJob(ctx, id1, crawler.JobUpdate{Status: &bad}))
	require.ErrorIs(t, store.UpdateJob(ctx, "missing", crawler.JobUpdate{}), crawler.ErrJobNotFound)

	got, err := store.GetJobs(ctx, crawler.JobFilter{})
	require.NoError(t, err)
	require.Equal(t, "Build things.", got[0].Description)
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return "id-" + string(rune('a'+s.n-1)), nil
}

func TestJobStoreUsesIDGenerator(t *testing.T) {
	t.Parallel()

	store := NewJobStore(&seqIDs{})
	id, err := store.AddJob(context.Background(), record("A", "https://jobs.lever.co/acme/1", time.Now()))
	require.NoError(t, err)
	require.Equal(t, "id-a", id)
}
