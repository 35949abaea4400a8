// Package download implements the download stage: it resolves the cached
// title selection for a job, drives the downloader tool, and lands the
// produced video at its canonical path on bulk storage.
//
// The adapter is deliberately thin. It owns selection-cache policy (missing
// rows are retryable, no-candidate rows are terminal), output-file
// discovery, and size bookkeeping; claiming, committing, retries, and disk
// back-pressure all belong to the stage runner.
package download
