// Package cmd defines the jobcrawler CLI.
//
// Architecture overview:
//   - crawl runs one crawl for the configured search profile (or --keyword flags), prints the
//     run's stats as JSON and exits non-zero when the run fails.
//   - serve exposes internal/api over HTTP: runs are started with POST /v1/runs and polled
//     with GET /v1/runs/{run_id}; stored jobs are listed with GET /v1/jobs.
//   - Both commands build their services through internal/app from a Viper config: a
//     chromedp browser, the persistence sink (memory/Postgres), the session store
//     (file/Redis), optional snapshot blobs (local/GCS) and optional job-saved
//     notifications (Pub/Sub/Kafka).
//
// Operational notes:
//   - SIGINT/SIGTERM cancel the crawl in progress. serve stops accepting requests, cancels
//     running crawls and waits up to server.shutdown_timeout for them to persist what they have.
//   - Environment overrides use the JOBCRAWLER_ prefix, e.g. JOBCRAWLER_PIPELINE_RESOLVE_WORKERS=4.
package cmd
