package main

import (
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatvault/internal/api"
	"chatvault/internal/config"
)

type infoOutput struct {
	api.InfoResponse
	DBPath string `json:"db_path"`
}

func newInfoCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show database, storage and subscriber info",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.GetInfo(cmd.Context())
				if err != nil {
					return err
				}

				if *jsonOutput {
					return writeStructured(infoOutput{InfoResponse: resp, DBPath: cfg.DBPath})
				}

				_ = writePlain("db_path: %s\n", cfg.DBPath)
				_ = writePlain("schema_version: %d\n", resp.SchemaVersion)
				_ = writePlain("chunk_backend: %s\n", resp.ChunkBackend)
				_ = writePlain("total_messages: %s\n", humanize.Comma(int64(resp.TotalMessages)))

				types := make([]string, 0, len(resp.MessageCounts))
				for messageType := range resp.MessageCounts {
					types = append(types, messageType)
				}
				sort.Strings(types)
				for _, messageType := range types {
					_ = writePlain("  %s: %d\n", messageType, resp.MessageCounts[messageType])
				}
				_ = writePlain("saved_messages: %d\n", resp.SavedMessages)
				_ = writePlain("blobs: %d (%s in %d chunks)\n", resp.Blobs, formatBytes(resp.BlobBytes), resp.Chunks)
				_ = writePlain("users: %d\n", resp.Users)
				_ = writePlain("subscribers: %d\n", resp.Subscribers)
				return nil
			})
		},
	}
	return cmd
}
