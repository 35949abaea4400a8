package queue_test

import (
	"context"
	"testing"

	"hanasu/internal/queue"
	"hanasu/internal/testsupport"
)

func TestSelectionRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	missing, err := store.GetSelection(ctx, 5114)
	if err != nil {
		t.Fatalf("GetSelection: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected no selection, got %+v", missing)
	}

	malEpisodes := 64
	selEpisodes := 64
	sel := &queue.Selection{
		MALID:            5114,
		AnimeTitle:       "Fullmetal Alchemist: Brotherhood",
		SearchQuery:      "fullmetal alchemist brotherhood",
		SelectedIndex:    3,
		SelectedTitle:    "Fullmetal Alchemist: Brotherhood (64 eps)",
		Confidence:       queue.ConfidenceHigh,
		Reason:           "exact title match",
		MALEpisodes:      &malEpisodes,
		SelectedEpisodes: &selEpisodes,
		EpisodeMatch:     queue.EpisodeMatchExact,
	}
	if err := store.UpsertSelection(ctx, sel); err != nil {
		t.Fatalf("UpsertSelection: %v", err)
	}

	fetched, err := store.GetSelection(ctx, 5114)
	if err != nil {
		t.Fatalf("GetSelection: %v", err)
	}
	if fetched == nil || fetched.SelectedIndex != 3 || fetched.Confidence != queue.ConfidenceHigh {
		t.Fatalf("unexpected selection: %+v", fetched)
	}
	if fetched.MALEpisodes == nil || *fetched.MALEpisodes != 64 {
		t.Fatalf("expected episode reconciliation fields, got %+v", fetched)
	}

	// Operator override replaces the row in place.
	sel.SelectedIndex = 1
	sel.Confidence = queue.ConfidenceMedium
	if err := store.UpsertSelection(ctx, sel); err != nil {
		t.Fatalf("UpsertSelection override: %v", err)
	}
	overridden, _ := store.GetSelection(ctx, 5114)
	if overridden.SelectedIndex != 1 || overridden.Confidence != queue.ConfidenceMedium {
		t.Fatalf("expected override applied, got %+v", overridden)
	}
}

func TestSelectionUnselectable(t *testing.T) {
	cases := []struct {
		name     string
		sel      queue.Selection
		expected bool
	}{
		{"no candidates", queue.Selection{Confidence: queue.ConfidenceNoCandidates, SelectedIndex: -1}, true},
		{"negative index", queue.Selection{Confidence: queue.ConfidenceLow, SelectedIndex: -1}, true},
		{"usable", queue.Selection{Confidence: queue.ConfidenceHigh, SelectedIndex: 1}, false},
	}
	for _, tc := range cases {
		if got := tc.sel.Unselectable(); got != tc.expected {
			t.Fatalf("%s: Unselectable = %v, expected %v", tc.name, got, tc.expected)
		}
	}
}

func TestSelectionSearchTitle(t *testing.T) {
	sel := queue.Selection{SelectedTitle: "Attack on Titan (25 eps)"}
	if got := sel.SearchTitle(); got != "Attack on Titan" {
		t.Fatalf("expected suffix stripped, got %q", got)
	}
	plain := queue.Selection{SelectedTitle: "Steins;Gate"}
	if got := plain.SearchTitle(); got != "Steins;Gate" {
		t.Fatalf("expected title untouched, got %q", got)
	}
}

func TestWorkerRegistry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := store.RegisterWorker(ctx, "dl-1", "download"); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	if err := store.RegisterWorker(ctx, "tx-1", "transcribe"); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	if err := store.TouchWorker(ctx, "dl-1"); err != nil {
		t.Fatalf("TouchWorker: %v", err)
	}

	workers, err := store.Workers(ctx)
	if err != nil {
		t.Fatalf("Workers: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(workers))
	}
	for _, worker := range workers {
		if worker.LastHeartbeat.IsZero() {
			t.Fatalf("expected heartbeat recorded for %s", worker.ID)
		}
	}
}
