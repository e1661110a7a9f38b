package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

type seqIDs struct{ next string }

func (s seqIDs) NewID() (string, error) { return s.next, nil }

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *JobStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewJobStoreWithPool(mock, "jobs", seqIDs{next: "job-1"})
	require.NoError(t, err)
	return mock, store
}

func sampleRecord() crawler.JobRecord {
	return crawler.JobRecord{
		Title:       "Python Developer",
		Company:     "Acme",
		Location:    "Toronto, ON",
		URL:         "https://boards.greenhouse.io/acme/jobs/1?utm_source=x",
		ApplySystem: "greenhouse",
		SourceSite:  "example.ca",
		Keyword:     "python",
		ScrapedAt:   time.Unix(1700000000, 0).UTC(),
		Status:      crawler.JobStatusScraped,
	}
}

func TestNewJobStoreWithPool_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewJobStoreWithPool(nil, "jobs", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewJobStoreWithPool(mock, "jobs; DROP TABLE x", nil)
	require.Error(t, err)
}

func TestAddJob_InsertsRow(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(
			"job-1",
			rec.Title,
			rec.Company,
			rec.Location,
			rec.Salary,
			rec.Description,
			rec.URL,
			pgxmock.AnyArg(),
			rec.ApplySystem,
			rec.SourceSite,
			rec.Keyword,
			rec.ScrapedAt,
			"scraped",
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("job-1"))

	id, err := store.AddJob(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "job-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

// insertArgs matches the thirteen columns AddJob binds.
func insertArgs() []any {
	args := make([]any, 13)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestAddJob_ConflictReturnsExistingID(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(insertArgs()...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM jobs WHERE url_key").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("job-0"))

	id, err := store.AddJob(context.Background(), sampleRecord())
	require.ErrorIs(t, err, crawler.ErrDuplicateJob)
	require.Equal(t, "job-0", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddJob_UniqueViolationIsDuplicate(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(insertArgs()...).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery("SELECT id FROM jobs").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("job-0"))

	_, err := store.AddJob(context.Background(), sampleRecord())
	require.ErrorIs(t, err, crawler.ErrDuplicateJob)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddJob_OtherErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(insertArgs()...).
		WillReturnError(errors.New("connection reset"))

	_, err := store.AddJob(context.Background(), sampleRecord())
	require.Error(t, err)
	require.NotErrorIs(t, err, crawler.ErrDuplicateJob)
	require.Contains(t, err.Error(), "insert job")
}

func TestAddJob_RejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	_, store := newMockStore(t)
	rec := sampleRecord()
	rec.Status = "bogus"
	_, err := store.AddJob(context.Background(), rec)
	require.Error(t, err)
}

func TestGetJobs_BuildsFilteredQuery(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	rec := sampleRecord()
	cols := []string{"id", "title", "company", "location", "salary", "description", "url",
		"apply_system", "source_site", "keyword", "scraped_at", "status"}

	mock.ExpectQuery(`WHERE status = \$1 AND keyword = \$2 ORDER BY scraped_at, id LIMIT \$3`).
		WithArgs("scraped", "python", 10).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"job-1", rec.Title, rec.Company, rec.Location, rec.Salary, rec.Description, rec.URL,
			rec.ApplySystem, rec.SourceSite, rec.Keyword, rec.ScrapedAt, "scraped",
		))

	got, err := store.GetJobs(context.Background(), crawler.JobFilter{
		Status:  crawler.JobStatusScraped,
		Keyword: "python",
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "job-1", got[0].ID)
	require.Equal(t, crawler.JobStatusScraped, got[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJob(t *testing.T) {
	t.Parallel()

	t.Run("applies fields", func(t *testing.T) {
		t.Parallel()
		mock, store := newMockStore(t)
		status := crawler.JobStatusFailed
		desc := "updated"
		mock.ExpectExec(`UPDATE jobs SET status = \$1, description = \$2 WHERE id = \$3`).
			WithArgs("failed", "updated", "job-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, store.UpdateJob(context.Background(), "job-1", crawler.JobUpdate{Status: &status, Description: &desc}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing id", func(t *testing.T) {
		t.Parallel()
		mock, store := newMockStore(t)
		salary := "$1"
		mock.ExpectExec(`UPDATE jobs SET salary = \$1 WHERE id = \$2`).
			WithArgs("$1", "nope").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := store.UpdateJob(context.Background(), "nope", crawler.JobUpdate{Salary: &salary})
		require.ErrorIs(t, err, crawler.ErrJobNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("url collision", func(t *testing.T) {
		t.Parallel()
		mock, store := newMockStore(t)
		u := "https://jobs.lever.co/acme/1"
		mock.ExpectExec(`UPDATE jobs SET url = \$1, url_key = \$2 WHERE id = \$3`).
			WithArgs(u, pgxmock.AnyArg(), "job-1").
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := store.UpdateJob(context.Background(), "job-1", crawler.JobUpdate{URL: &u})
		require.ErrorIs(t, err, crawler.ErrDuplicateJob)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid status", func(t *testing.T) {
		t.Parallel()
		_, store := newMockStore(t)
		bad := crawler.JobStatus("bogus")
		require.Error(t, store.UpdateJob(context.Background(), "job-1", crawler.JobUpdate{Status: &bad}))
	})

	t.Run("no fields", func(t *testing.T) {
		t.Parallel()
		_, store := newMockStore(t)
		require.NoError(t, store.UpdateJob(context.Background(), "job-1", crawler.JobUpdate{}))
	})
}
