// Package pipeline drives jobs through the download and transcription
// stages with disk-aware worker pools.
//
// A StageRunner is a generic claim → execute → commit loop instantiated
// once per stage with its own concurrency, transient stage, and pause
// predicate. The download runner pauses against the disk monitor's
// thresholds; the transcription runner never pauses, because its cleanup is
// what frees the space the download workers are waiting for. The Pipeline
// reaps orphaned claims once at startup, runs both pools, and shuts down
// cooperatively: workers finish their current job within a grace period or
// leave it in its transient stage for the next startup's reap.
package pipeline
