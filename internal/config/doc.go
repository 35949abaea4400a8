// Package config loads, validates, and defaults hanasu's TOML configuration.
//
// Configuration covers the two storage roots, disk thresholds, per-stage
// worker counts, external tool binaries and timeouts, and logging. Load
// resolves the file from an explicit flag, the user config directory, or
// the working directory, then normalizes paths and validates threshold
// ordering before any component sees the values.
package config
