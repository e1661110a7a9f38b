// Package crawler defines the domain types, collaborator interfaces, error
// taxonomy and run statistics shared by the job-listing crawl pipeline.
package crawler
