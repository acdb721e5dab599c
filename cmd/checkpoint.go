package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/gosuri/uitable"
	"github.com/mangaraw/harvester/internal/pkg/checkpoint"
	"github.com/mangaraw/harvester/internal/pkg/config"
	"github.com/spf13/cobra"
)

func checkpointCMDs() *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset the stage checkpoints of a job",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			return config.GenerateCrawlConfig()
		},
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 {
				cmd.Help()
			}
		},
	}

	checkpointCmd.PersistentFlags().String("job", "", "Job name of the checkpoint.")
	checkpointCmd.PersistentFlags().String("checkpoint-backend", config.Default.CheckpointBackend, "Checkpoint store: file or sqlite.")
	checkpointCmd.PersistentFlags().String("checkpoint-path", config.Default.CheckpointPath, "Path of the checkpoint. Defaults to the job directory.")

	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointResetCmd)

	return checkpointCmd
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show [stage...]",
	Short: "Show the checkpoint of every stage, or of the given ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoint(func(ctx context.Context, store checkpoint.Store) error {
			records, err := showRecords(ctx, store, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), recordsTable(records))
			return nil
		})
	},
}

var checkpointResetCmd = &cobra.Command{
	Use:   "reset <stage...>",
	Short: "Forget the checkpoint of stages, the next run starts them over",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoint(func(ctx context.Context, store checkpoint.Store) error {
			for _, stage := range args {
				if err := store.Reset(ctx, stage); err != nil {
					return fmt.Errorf("unable to reset %s: %w", stage, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "checkpoint of %s reset\n", stage)
			}
			return nil
		})
	},
}

func withCheckpoint(fn func(ctx context.Context, store checkpoint.Store) error) error {
	store, err := checkpoint.Open(cfg.CheckpointBackend, cfg.CheckpointPath)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(context.Background(), store)
}

func showRecords(ctx context.Context, store checkpoint.Store, stages []string) ([]checkpoint.Record, error) {
	if len(stages) == 0 {
		return store.List(ctx)
	}

	records := make([]checkpoint.Record, 0, len(stages))
	for _, stage := range stages {
		rec, err := store.Load(ctx, stage)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordsTable(records []checkpoint.Record) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("STAGE", "LAST KEY", "COMPLETED", "PROCESSED", "BATCH SIZE", "RUN ID", "UPDATED")

	for _, rec := range records {
		last, updated := "-", "never"
		if rec.LastProcessedKey != nil {
			last = rec.LastProcessedKey.String()
		}
		if !rec.UpdatedAt.IsZero() {
			updated = rec.UpdatedAt.Local().Format(time.DateTime)
		}
		table.AddRow(rec.Stage, last, rec.Completed, rec.Processed, rec.BatchSize, rec.RunID, updated)
	}

	return table
}
