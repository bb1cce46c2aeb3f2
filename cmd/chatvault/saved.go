package main

import (
	"github.com/spf13/cobra"

	"chatvault/internal/api"
	"chatvault/internal/config"
)

func newSavedCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saved",
		Short: "Manage saved copies of messages",
	}
	cmd.AddCommand(newSavedAddCmd(cfg, jsonOutput))
	cmd.AddCommand(newSavedListCmd(cfg, jsonOutput))
	cmd.AddCommand(newSavedRemoveCmd(cfg, jsonOutput))
	return cmd
}

func newSavedAddCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "add <message-id>",
		Short: "Save a copy of one message",
		Args:  requireExactlyArgs(1, "message id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				saved, err := client.SaveMessage(cmd.Context(), api.SaveMessageRequest{MessageID: args[0]})
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(saved)
				}
				return writePlain("saved %s as %s\n", saved.OriginalMessageID, saved.ID)
			})
		},
	}
}

func newSavedListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				saved, err := client.ListSaved(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(saved)
				}
				return writeSavedList(saved)
			})
		},
	}
}

func newSavedRemoveCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <message-id>",
		Short: "Remove every saved copy of one message",
		Args:  requireExactlyArgs(1, "message id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.DeleteSaved(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(resp)
				}
				return writePlain("removed %d saved copies\n", resp.Deleted)
			})
		},
	}
}
