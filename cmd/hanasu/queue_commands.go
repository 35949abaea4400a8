package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hanasu/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}
	cmd.AddCommand(newQueueListCommand(ctx))
	cmd.AddCommand(newQueueStatsCommand(ctx))
	cmd.AddCommand(newQueueRetryCommand(ctx))
	cmd.AddCommand(newQueueClearFailedCommand(ctx))
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var stageFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in claim order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var stages []queue.Stage
			if stageFilter != "" {
				stage, ok := queue.ParseStage(stageFilter)
				if !ok {
					return fmt.Errorf("unknown stage %q (known: %s)", stageFilter, stageNames())
				}
				stages = append(stages, stage)
			}

			jobs, err := store.List(context.Background(), stages...)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				cmd.Println("queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					job.AnimeTitle,
					strconv.Itoa(job.Episode),
					string(job.Stage),
					fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
					sizeCell(job.VideoSizeBytes, job.VideoDeleted),
					errorCell(job.ErrorMessage),
				})
			}
			cmd.Println(renderTable(
				[]string{"ID", "Title", "Ep", "Stage", "Retries", "Video", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&stageFilter, "stage", "", "Only show jobs in this stage")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-stage job counts and preserved byte totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(context.Background())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(stats.ByStage)+1)
			for _, stage := range queue.AllStages() {
				count, ok := stats.ByStage[stage]
				if !ok {
					continue
				}
				rows = append(rows, []string{string(stage), strconv.Itoa(count)})
			}
			rows = append(rows, []string{"total", strconv.Itoa(stats.Total)})
			cmd.Println(renderTable([]string{"Stage", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))

			cmd.Printf("video bytes:      %s\n", humanize.IBytes(uint64(stats.VideoBytes)))
			cmd.Printf("audio bytes:      %s\n", humanize.IBytes(uint64(stats.AudioBytes)))
			cmd.Printf("transcript bytes: %s\n", humanize.IBytes(uint64(stats.TranscriptBytes)))
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset failed jobs with remaining retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			reqCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			count, err := store.RetryFailed(reqCtx)
			if err != nil {
				return err
			}
			cmd.Printf("requeued %d failed job(s)\n", count)
			return nil
		},
	}
}

func newQueueClearFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Delete failed jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := store.ClearFailed(context.Background())
			if err != nil {
				return err
			}
			cmd.Printf("removed %d failed job(s)\n", count)
			return nil
		},
	}
}

func sizeCell(size *int64, deleted bool) string {
	if size == nil {
		return "-"
	}
	cell := humanize.IBytes(uint64(*size))
	if deleted {
		cell += " (deleted)"
	}
	return cell
}

func errorCell(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return ""
	}
	const max = 60
	if len(message) > max {
		return message[:max-3] + "..."
	}
	return message
}

func stageNames() string {
	names := make([]string, 0, len(queue.AllStages()))
	for _, stage := range queue.AllStages() {
		names = append(names, string(stage))
	}
	return strings.Join(names, ", ")
}
