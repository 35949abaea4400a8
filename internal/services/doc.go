// Package services defines the error taxonomy shared by the stage adapters
// and the scoped runner used to invoke external tools.
//
// Adapters tag failures with sentinel markers (ErrMissingSelection,
// ErrDownloader, ErrCleanup, ...) via Wrap; the stage runner classifies the
// tagged error with Retryable and Terminal to decide between re-queueing and
// failing the job. Run executes a subprocess with a wall-clock limit and
// captured output so that every exit path releases its handles.
package services
