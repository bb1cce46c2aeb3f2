package main

import (
	"github.com/spf13/cobra"

	"chatvault/internal/api"
	"chatvault/internal/config"
)

func newAdminCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}

	cmd.AddCommand(newAdminGCOrphansCmd(cfg, jsonOutput))
	return cmd
}

func newAdminGCOrphansCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		dryRun bool
		apply  bool
	)

	cmd := &cobra.Command{
		Use:   "gc-orphans",
		Short: "Remove chunks left behind by interrupted uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !apply && !dryRun {
				dryRun = true
			}

			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.SweepOrphans(cmd.Context(), apply && !dryRun)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(resp)
				}
				mode := "dry run"
				if !resp.DryRun {
					mode = "applied"
				}
				if err := writePlain("%s: orphans=%d failed=%d\n", mode, resp.Count, len(resp.Failed)); err != nil {
					return err
				}
				for _, id := range resp.BlobIDs {
					if err := writePlain("  %s\n", id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show orphaned blobs without deleting")
	cmd.Flags().BoolVar(&apply, "apply", false, "delete orphaned chunks")
	return cmd
}
