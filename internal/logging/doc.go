// Package logging builds the slog loggers used across hanasu.
//
// Two handler formats are supported: a compact console handler that renders
// "TIME LEVEL component: message key=value ..." lines, and the stdlib JSON
// handler with normalized keys. NewFromConfig tees output to stdout and the
// work-root log file and auto-selects the format based on whether stdout is
// a terminal. Attr helpers keep call sites terse and typo-free.
package logging
