package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"chatvault/internal/api"
	"chatvault/internal/config"
	"chatvault/internal/models"
)

func newSendCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		filePath string
		kind     string
	)

	cmd := &cobra.Command{
		Use:   "send <author> [text...]",
		Short: "Post a text message, or a file message with --file",
		Args:  requireAtLeastArgs(1, "author is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			author := strings.TrimSpace(args[0])
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if filePath == "" && text == "" {
				return fmt.Errorf("message text or --file is required")
			}
			if filePath != "" && text != "" {
				return fmt.Errorf("a message carries either text or --file, not both")
			}

			return withClient(cfg, func(client *api.Client) error {
				var (
					req api.MessageCreateRequest
					err error
				)
				if filePath != "" {
					uploaded, err := uploadPath(cmd, client, filePath, kind, "")
					if err != nil {
						return err
					}
					req, err = api.NewFileMessageRequest(author, uploaded.BlobID)
					if err != nil {
						return err
					}
				} else {
					req, err = api.NewTextMessageRequest(author, text)
					if err != nil {
						return err
					}
				}

				msg, err := client.CreateMessage(cmd.Context(), req)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(msg)
				}
				return writePlain("%s\n", formatMessageLine(msg))
			})
		},
	}

	cmd.Flags().StringVar(&filePath, "file", "", "upload this file and post it as a file message")
	cmd.Flags().StringVar(&kind, "kind", string(models.BlobKindGeneral), "upload kind (general, audio)")
	return cmd
}

func newLogCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the message log in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tail < 0 {
				return fmt.Errorf("--tail must be >= 0")
			}
			return withClient(cfg, func(client *api.Client) error {
				messages, err := client.ListMessages(cmd.Context())
				if err != nil {
					return err
				}
				if tail > 0 && len(messages) > tail {
					messages = messages[len(messages)-tail:]
				}
				if *jsonOutput {
					return writeStructured(messages)
				}
				return writeMessageList(messages)
			})
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 0, "show only the last N messages")
	return cmd
}

func newRetainCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "retain <message-id>...",
		Short: "Keep only the listed messages and delete every other one",
		Args:  requireAtLeastOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force && !dryRun {
				dryRun = true
			}

			return withClient(cfg, func(client *api.Client) error {
				if dryRun {
					return previewRetain(cmd, client, args, *jsonOutput)
				}
				resp, err := client.RetainMessages(cmd.Context(), api.RetainRequest{RetainedIDs: args})
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(resp)
				}
				if err := writePlain("deleted %d messages and %d files\n", len(resp.DeletedMessageIDs), len(resp.DeletedBlobIDs)); err != nil {
					return err
				}
				for _, id := range resp.FailedBlobIDs {
					if err := writePlain("  failed to delete file %s\n", id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be deleted without deleting")
	cmd.Flags().BoolVar(&force, "force", false, "actually delete messages (required for non-dry-run)")
	return cmd
}

func previewRetain(cmd *cobra.Command, client *api.Client, retained []string, jsonOutput bool) error {
	messages, err := client.ListMessages(cmd.Context())
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(retained))
	for _, id := range retained {
		keep[id] = struct{}{}
	}
	doomed := make([]string, 0)
	for _, msg := range messages {
		if _, ok := keep[msg.ID]; !ok {
			doomed = append(doomed, msg.ID)
		}
	}
	if jsonOutput {
		return writeStructured(api.RetainResponse{DeletedMessageIDs: doomed, DeletedBlobIDs: []string{}})
	}
	if err := writePlain("dry run: %d messages would be deleted\n", len(doomed)); err != nil {
		return err
	}
	for _, id := range doomed {
		if err := writePlain("  %s\n", id); err != nil {
			return err
		}
	}
	return nil
}

func uploadPath(cmd *cobra.Command, client *api.Client, path, kind, contentType string) (api.FileUploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return api.FileUploadResponse{}, err
	}
	defer f.Close()

	return client.UploadFile(cmd.Context(), api.FileUpload{
		Filename:    filepath.Base(path),
		Kind:        kind,
		ContentType: contentType,
		Body:        f,
	})
}
