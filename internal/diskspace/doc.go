// Package diskspace measures combined disk usage under the bulk and work
// roots and turns it into back-pressure for the download workers.
//
// Measurements recursively stat every file and are cached for a configured
// interval; workers that delete large artifacts call Invalidate so the next
// reading is fresh. The pause and resume thresholds form a band
// (resume < pause < hard) so the pipeline does not oscillate while
// transcription frees space. The monitor is the only component whose
// observations drive scheduling decisions; workers never inspect the
// filesystem for this purpose themselves.
package diskspace
