package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStore marks queue/database failures. Retryable: the runner reverts
	// or fails the job like any other failure, then backs off before
	// re-entering its claim loop.
	ErrStore = errors.New("store error")

	// ErrMissingSelection marks a download attempted before the selection
	// cache has a row for the anime. Retryable up to the job limit so an
	// operator can repopulate the cache and call retry.
	ErrMissingSelection = errors.New("missing selection")

	// ErrUnselectable marks an anime whose selection recorded no usable
	// candidates. Terminal on first encounter.
	ErrUnselectable = errors.New("unselectable anime")

	// ErrDownloader marks downloader tool failures (non-zero exit, missing
	// output file, I/O errors around the download).
	ErrDownloader = errors.New("downloader error")

	// ErrMissingInput marks a transcribe attempt whose video has vanished.
	// Terminal until the download stage is re-run.
	ErrMissingInput = errors.New("missing input")

	// ErrExtraction marks audio extraction failures.
	ErrExtraction = errors.New("extraction error")

	// ErrTranscription marks speech-to-text failures.
	ErrTranscription = errors.New("transcription error")

	// ErrCleanup marks artifact deletion failures after a successful
	// transcription. Logged, never fatal: the stage still commits.
	ErrCleanup = errors.New("cleanup error")

	// ErrDiskFull marks writes rejected for lack of space. Retryable; the
	// runner additionally backs off before the next disk check.
	ErrDiskFull = errors.New("disk full")

	// ErrTimeout marks a subprocess that exceeded its wall-clock limit.
	// Treated as a normal retryable failure.
	ErrTimeout = errors.New("timeout")
)

// Wrap tags err with marker and stage/operation context so the runner can
// classify it later. A nil marker defaults to ErrStore.
func Wrap(marker error, stage, operation string, err error) error {
	if marker == nil {
		marker = ErrStore
	}
	detail := buildDetail(stage, operation)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Wrapf tags a formatted message with marker and stage context.
func Wrapf(marker error, stage, operation, format string, args ...any) error {
	return Wrap(marker, stage, operation, fmt.Errorf(format, args...))
}

// Terminal reports whether err must fail the job immediately, regardless of
// remaining retries.
func Terminal(err error) bool {
	return errors.Is(err, ErrUnselectable) || errors.Is(err, ErrMissingInput)
}

// Retryable reports whether the job may be returned to its predecessor stage
// for another attempt.
func Retryable(err error) bool {
	return err != nil && !Terminal(err)
}

// Kind returns the canonical failure label recorded in job error messages,
// the stable surface operators grep for.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrMissingSelection):
		return "MissingSelection"
	case errors.Is(err, ErrUnselectable):
		return "UnselectableAnime"
	case errors.Is(err, ErrDownloader):
		return "DownloaderError"
	case errors.Is(err, ErrMissingInput):
		return "MissingInput"
	case errors.Is(err, ErrExtraction):
		return "ExtractionError"
	case errors.Is(err, ErrTranscription):
		return "TranscriptionError"
	case errors.Is(err, ErrCleanup):
		return "CleanupError"
	case errors.Is(err, ErrDiskFull):
		return "DiskFull"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrStore):
		return "StoreError"
	default:
		return "Error"
	}
}

func buildDetail(stage, operation string) string {
	parts := make([]string, 0, 2)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
