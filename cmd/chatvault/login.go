package main

import (
	"strings"

	"github.com/spf13/cobra"

	"chatvault/internal/api"
	"chatvault/internal/config"
)

func newLoginCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Check a username and password against the server",
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if passwordStdin {
				read, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = read
			}

			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.Login(cmd.Context(), api.LoginRequest{Username: args[0], Password: password})
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(resp)
				}
				return writePlain("login ok for %s\n", strings.ToLower(strings.TrimSpace(args[0])))
			})
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newNotifyCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "notify <from-user> [text...]",
		Short: "Notify the other users that there is new activity",
		Args:  requireAtLeastArgs(1, "from-user is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.NotifyRequest{
				FromUser: args[0],
				Text:     strings.TrimSpace(strings.Join(args[1:], " ")),
			}
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.Notify(cmd.Context(), req)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(resp)
				}
				return writePlain("notified %s\n", strings.Join(resp.Recipients, ", "))
			})
		},
	}
}
