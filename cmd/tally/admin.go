package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tally/internal/api"
	"tally/internal/config"
)

func newAdminCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}

	cmd.AddCommand(newAdminGCBlobsCmd(cfg, jsonOutput))
	return cmd
}

func newAdminGCBlobsCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		dryRun    bool
		apply     bool
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "gc-blobs",
		Short: "Reclaim orphaned blobs now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apply && dryRun {
				return fmt.Errorf("--apply and --dry-run are mutually exclusive")
			}
			if batchSize < 0 {
				return fmt.Errorf("--batch-size must be >= 0")
			}

			return withClient(cfg, func(client *api.Client) error {
				req := api.BlobGCRequest{DryRun: !apply, BatchSize: batchSize}
				resp, err := client.AdminGCBlobs(cmd.Context(), req, apply)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				mode := "dry run"
				if !resp.DryRun {
					mode = "applied"
				}
				if err := writePlain("%s: candidates=%d deleted=%d failed=%d reclaimed=%s\n",
					mode, resp.CandidateCount, resp.DeletedCount, resp.FailedCount,
					humanize.Bytes(uint64(resp.ReclaimedBytes))); err != nil {
					return err
				}
				for _, id := range resp.FailedBlobIDs {
					if err := writePlain("  failed: %s\n", id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be reclaimed (default)")
	cmd.Flags().BoolVar(&apply, "apply", false, "delete orphaned blobs")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "orphans listed per batch (default: server gc.batch_size)")
	return cmd
}
