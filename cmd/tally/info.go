package main

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tally/internal/api"
	"tally/internal/config"
)

func newInfoCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show store, blob and schema info",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.GetInfo(cmd.Context())
				if err != nil {
					return err
				}

				if *jsonOutput {
					return writeJSON(resp)
				}

				_ = writePlain("driver: %s\n", resp.Driver)
				_ = writePlain("schema_version: %d\n", resp.SchemaVersion)
				_ = writePlain("blob_backend: %s\n", resp.BlobBackend)
				_ = writePlain("expenses: %d\n", resp.Expenses)
				_ = writePlain("attachments: %d\n", resp.Attachments)
				_ = writePlain("blobs: %d\n", resp.Blobs)
				_ = writePlain("  orphaned: %d\n", resp.OrphanedBlobs)
				return writePlain("referenced_bytes: %s\n", humanize.Bytes(uint64(resp.ReferencedBytes)))
			})
		},
	}
}
