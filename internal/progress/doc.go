// Package progress carries crawl run milestones from the frontier to pluggable
// sinks. Emit never blocks the crawl; a background goroutine batches events
// and fans them out to logging, Prometheus and run-store sinks.
package progress
