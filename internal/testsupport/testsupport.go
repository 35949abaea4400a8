// Package testsupport provides per-test configuration and store helpers.
package testsupport

import (
	"path/filepath"
	"testing"

	"hanasu/internal/config"
	"hanasu/internal/queue"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.BulkRoot = filepath.Join(base, "bulk")
	cfg.Paths.WorkRoot = filepath.Join(base, "work")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxRetries overrides the per-job retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workers.MaxRetries = n
	}
}

// MustOpenStore opens a queue store for the config and closes it with the
// test.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
