package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tally/internal/api"
	"tally/internal/config"
	"tally/internal/models"
)

func newAttachmentCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{Use: "attachment", Aliases: []string{"attach"}, Short: "Manage expense attachments"}
	cmd.AddCommand(
		newAttachmentAddCmd(cfg, jsonOutput),
		newAttachmentRefCmd(cfg, jsonOutput),
		newAttachmentLinkCmd(cfg, jsonOutput),
		newAttachmentListCmd(cfg, jsonOutput),
		newAttachmentShowCmd(cfg, jsonOutput),
		newAttachmentGetCmd(cfg),
		newAttachmentRenameCmd(cfg, jsonOutput),
		newAttachmentRemoveCmd(cfg, jsonOutput),
	)
	return cmd
}

func newAttachmentAddCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		names     []string
		mediaType string
	)

	cmd := &cobra.Command{
		Use:   "add <expense-id> <path>...",
		Short: "Upload files and attach them to an expense",
		Long: "Upload files and attach them to an expense. With a single path and " +
			"several --name values, one blob is shared by all the named attachments.",
		Args: requireAtLeastArgs(2, "expense id and at least one path are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args[1:]
			if len(paths) > 1 && len(names) > 0 && len(names) != len(paths) {
				return fmt.Errorf("--name must be given once per path")
			}

			files := make([]api.UploadFile, 0, len(paths))
			for _, path := range paths {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				files = append(files, api.UploadFile{
					Filename:  filepath.Base(path),
					MediaType: detectMediaType(path, mediaType),
					Content:   f,
				})
			}

			return withClient(cfg, func(client *api.Client) error {
				created, err := client.UploadAttachments(cmd.Context(), args[0], names, files)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(created)
				}
				return writeAttachmentList(created)
			})
		},
	}

	cmd.Flags().StringArrayVar(&names, "name", nil, "attachment name (repeatable; defaults to the file name)")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "media type (default: from file extension)")
	return cmd
}

func newAttachmentRefCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var req api.AttachmentRefRequest

	cmd := &cobra.Command{
		Use:   "ref <expense-id> <name>",
		Short: "Attach an already stored blob under another name",
		Args:  requireExactlyArgs(2, "expense id and name are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.BlobID) == "" {
				return fmt.Errorf("--blob-id is required")
			}
			req.Kind = string(models.AttachmentKindFile)
			req.Name = args[1]
			return withClient(cfg, func(client *api.Client) error {
				created, err := client.CreateAttachmentRef(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				return writeAttachment(created, *jsonOutput)
			})
		},
	}

	cmd.Flags().StringVar(&req.BlobID, "blob-id", "", "blob to reference (required)")
	cmd.Flags().StringVar(&req.Filename, "filename", "", "display filename")
	cmd.Flags().StringVar(&req.MimeType, "media-type", "", "media type")
	return cmd
}

func newAttachmentLinkCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var req api.AttachmentRefRequest

	cmd := &cobra.Command{
		Use:   "link <expense-id> <name>",
		Short: "Attach an external URL",
		Args:  requireExactlyArgs(2, "expense id and name are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.URL) == "" {
				return fmt.Errorf("--url is required")
			}
			req.Kind = string(models.AttachmentKindLink)
			req.Name = args[1]
			return withClient(cfg, func(client *api.Client) error {
				created, err := client.CreateAttachmentRef(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				return writeAttachment(created, *jsonOutput)
			})
		},
	}

	cmd.Flags().StringVar(&req.URL, "url", "", "external URL (required)")
	return cmd
}

func newAttachmentListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list <expense-id>",
		Short: "List the attachments of an expense",
		Args:  requireExactlyArgs(1, "expense id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				attachments, err := client.ListAttachments(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(attachments)
				}
				return writeAttachmentList(attachments)
			})
		},
	}
}

func newAttachmentShowCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "show <attachment-id>",
		Short: "Show attachment metadata",
		Args:  requireExactlyArgs(1, "attachment id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				attachment, err := client.GetAttachment(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeAttachment(attachment, *jsonOutput)
			})
		},
	}
}

func newAttachmentGetCmd(cfg *config.Config) *cobra.Command {
	var (
		outPath   string
		force     bool
		thumbnail string
	)

	cmd := &cobra.Command{
		Use:   "get <attachment-id>",
		Short: "Download attachment content or a thumbnail",
		Args:  requireExactlyArgs(1, "attachment id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if thumbnail != "" && thumbnail != "360" && thumbnail != "720" {
				return fmt.Errorf("--thumbnail must be 360 or 720")
			}
			if strings.TrimSpace(outPath) == "" {
				return fmt.Errorf("--output is required")
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("output file exists (use --force to overwrite)")
				}
			}

			return withClient(cfg, func(client *api.Client) error {
				download := func(w io.Writer) error {
					_, err := client.DownloadAttachment(cmd.Context(), args[0], w)
					return err
				}
				if thumbnail != "" {
					attachment, err := client.GetAttachment(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					file, err := thumbnailFile(attachment.Attachment, thumbnail)
					if err != nil {
						return err
					}
					download = func(w io.Writer) error {
						_, err := client.DownloadThumbnail(cmd.Context(), args[0], file, w)
						return err
					}
				}

				f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
				if err != nil {
					return err
				}
				if err := download(f); err != nil {
					_ = f.Close()
					_ = os.Remove(outPath)
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				return writePlain("%s\n", outPath)
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite output path if it exists")
	cmd.Flags().StringVar(&thumbnail, "thumbnail", "", "download a preview instead (360 or 720)")
	return cmd
}

func newAttachmentRenameCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <attachment-id> <name>",
		Short: "Rename an attachment",
		Args:  requireExactlyArgs(2, "attachment id and name are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				attachment, err := client.RenameAttachment(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return writeAttachment(attachment, *jsonOutput)
			})
		},
	}
}

func newAttachmentRemoveCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		expenseID string
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "rm [attachment-id]...",
		Short: "Remove attachments",
		Long: "Remove attachments by id. With --expense, the ids are scoped to that " +
			"expense in one transaction; --all removes every attachment of it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && expenseID == "":
				return fmt.Errorf("--all requires --expense")
			case all && len(args) > 0:
				return fmt.Errorf("--all cannot be combined with attachment ids")
			case !all && len(args) == 0:
				return fmt.Errorf("at least one attachment id is required")
			case expenseID == "" && len(args) > 1:
				return fmt.Errorf("removing several attachments requires --expense")
			}

			return withClient(cfg, func(client *api.Client) error {
				var (
					resp api.DeleteResponse
					err  error
				)
				if expenseID != "" {
					resp, err = client.DeleteAttachments(cmd.Context(), expenseID, args)
				} else {
					resp, err = client.DeleteAttachment(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				return writeDeleteResult(resp)
			})
		},
	}

	cmd.Flags().StringVar(&expenseID, "expense", "", "expense owning the attachments")
	cmd.Flags().BoolVar(&all, "all", false, "remove every attachment of --expense")
	return cmd
}

func writeAttachment(attachment api.AttachmentResponse, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(attachment)
	}
	return writeAttachmentDetail(attachment)
}

// thumbnailFile names the stored preview variant of an image attachment.
func thumbnailFile(a models.Attachment, size string) (string, error) {
	if a.File == nil || a.File.Image == nil || a.File.Image.ThumbnailsExtension == "" {
		return "", fmt.Errorf("attachment %s has no thumbnails", a.ID)
	}
	return "outside-" + size + "." + a.File.Image.ThumbnailsExtension, nil
}

// detectMediaType prefers an explicit value, then the file extension.
func detectMediaType(path, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
