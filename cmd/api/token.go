package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inspectsync/inspectsync-go/internal/config"
	"github.com/inspectsync/inspectsync-go/internal/crypto"
)

func newTokenCmd(cfg func() config.Config) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a signed access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			token, err := crypto.GenerateToken(args[0], email, c.JWTSecret, c.JWTExpiry)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim to embed in the token")
	return cmd
}
