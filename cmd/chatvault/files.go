package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"chatvault/internal/api"
	"chatvault/internal/config"
	"chatvault/internal/models"
)

func newUploadCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		kind        string
		contentType string
	)

	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a file without posting a message",
		Args:  requireExactlyArgs(1, "path is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := models.ParseBlobKind(kind); err != nil {
				return err
			}
			return withClient(cfg, func(client *api.Client) error {
				resp, err := uploadPath(cmd, client, args[0], kind, contentType)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(resp)
				}
				return writePlain("%s %s %s %s (%d chunks)\n", resp.BlobID, resp.Filename, resp.ContentType, formatBytes(resp.Size), resp.ChunkCount)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(models.BlobKindGeneral), "upload kind (general, audio)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "declared content type; sniffed when empty")
	return cmd
}

func newDownloadCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <blob-id>",
		Short: "Download a file to disk or stdout",
		Args:  requireExactlyArgs(1, "blob id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				if output == "" || output == "-" {
					_, err := client.DownloadFile(cmd.Context(), args[0], stdout)
					return err
				}
				return downloadToFile(cmd, client, args[0], output, *jsonOutput)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this path instead of stdout")
	return cmd
}

func downloadToFile(cmd *cobra.Command, client *api.Client, blobID, path string, jsonOutput bool) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chatvault-download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	counter := &countingWriter{w: tmp}
	contentType, err := client.DownloadFile(cmd.Context(), blobID, counter)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}

	if jsonOutput {
		return writeStructured(map[string]any{
			"blob_id":      blobID,
			"path":         path,
			"content_type": contentType,
			"size":         counter.n,
		})
	}
	return writePlain("saved %s (%s, %s)\n", path, contentType, formatBytes(counter.n))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
