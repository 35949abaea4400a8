package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"hanasu/internal/queue"
)

func newSelectionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selection",
		Short: "Inspect and override the title-selection cache",
	}
	cmd.AddCommand(newSelectionShowCommand(ctx))
	cmd.AddCommand(newSelectionSetCommand(ctx))
	return cmd
}

func newSelectionShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <mal_id>",
		Short: "Show the cached selection for an anime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			malID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid mal_id %q", args[0])
			}
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			sel, err := store.GetSelection(context.Background(), malID)
			if err != nil {
				return err
			}
			if sel == nil {
				cmd.Printf("no selection cached for mal_id %d\n", malID)
				return nil
			}

			cmd.Printf("mal_id:          %d\n", sel.MALID)
			cmd.Printf("anime title:     %s\n", sel.AnimeTitle)
			cmd.Printf("search query:    %s\n", sel.SearchQuery)
			cmd.Printf("selected index:  %d\n", sel.SelectedIndex)
			cmd.Printf("selected title:  %s\n", sel.SelectedTitle)
			cmd.Printf("confidence:      %s\n", sel.Confidence)
			if sel.Reason != "" {
				cmd.Printf("reason:          %s\n", sel.Reason)
			}
			if sel.MALEpisodes != nil {
				cmd.Printf("mal episodes:    %d\n", *sel.MALEpisodes)
			}
			if sel.SelectedEpisodes != nil {
				cmd.Printf("source episodes: %d\n", *sel.SelectedEpisodes)
			}
			if sel.EpisodeMatch != "" {
				cmd.Printf("episode match:   %s\n", sel.EpisodeMatch)
			}
			return nil
		},
	}
}

func newSelectionSetCommand(ctx *commandContext) *cobra.Command {
	var (
		index      int
		title      string
		confidence string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "set <mal_id> <anime_title>",
		Short: "Write a selection-cache row by hand",
		Long: `Write a selection-cache row by hand.

This is the recovery path for jobs failed with MissingSelection or a wrong
automatic pick: set the correct source title and 1-based index, then run
"hanasu queue retry".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			malID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid mal_id %q", args[0])
			}
			switch confidence {
			case queue.ConfidenceHigh, queue.ConfidenceMedium, queue.ConfidenceLow, queue.ConfidenceNoCandidates:
			default:
				return fmt.Errorf("invalid confidence %q", confidence)
			}
			if confidence == queue.ConfidenceNoCandidates && index >= 0 {
				index = -1
			}

			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			sel := &queue.Selection{
				MALID:         malID,
				AnimeTitle:    args[1],
				SearchQuery:   args[1],
				SelectedIndex: index,
				SelectedTitle: title,
				Confidence:    confidence,
				Reason:        reason,
			}
			if sel.SelectedTitle == "" {
				sel.SelectedTitle = args[1]
			}
			if err := store.UpsertSelection(context.Background(), sel); err != nil {
				return err
			}
			cmd.Printf("selection cached for mal_id %d (index %d, %s)\n", malID, sel.SelectedIndex, sel.Confidence)
			return nil
		},
	}

	cmd.Flags().IntVar(&index, "index", 1, "1-based candidate index in the source's search results")
	cmd.Flags().StringVar(&title, "title", "", "Source title to search with (defaults to the anime title)")
	cmd.Flags().StringVar(&confidence, "confidence", queue.ConfidenceHigh, "Selection confidence: high, medium, low, no_candidates")
	cmd.Flags().StringVar(&reason, "reason", "manual override", "Free-form reason recorded with the selection")
	return cmd
}
