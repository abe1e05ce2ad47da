// Package crawler defines the shared vocabulary of the job crawler: postings,
// crawl tasks, fetch requests, and the collaborator interfaces (content store,
// fetchers, caches, publishers) the frontier and ingest pipeline depend on.
package crawler
