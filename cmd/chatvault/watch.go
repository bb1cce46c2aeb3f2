package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatvault/internal/api"
	"chatvault/internal/config"
	"chatvault/internal/models"
	"chatvault/internal/reconcile"
)

func newWatchCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the room live, reconnecting and backfilling as needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				eventsURL, err := client.EventsURL()
				if err != nil {
					return err
				}

				rc, err := reconcile.NewClient(reconcile.Options{
					EventsURL: eventsURL,
					Header:    client.AuthHeader(),
					Lister:    client,
					Logger:    slog.Default(),
					OnMessage: func(msg models.Message) {
						if *jsonOutput {
							_ = writeStructured(msg)
							return
						}
						_ = writePlain("%s\n", formatMessageLine(msg))
					},
					OnSync: func(added int) {
						slog.Debug("backfill complete", "added", added)
					},
				})
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return rc.Run(ctx)
			})
		},
	}
}
