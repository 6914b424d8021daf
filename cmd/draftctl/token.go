package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/app"
)

var errNoCredentials = errors.New("marketplace credentials not configured: set MARKETPLACE_CLIENT_ID and MARKETPLACE_CLIENT_SECRET")

func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage control API and marketplace tokens",
	}
	cmd.AddCommand(tokenAPICmd(), tokenConsentCmd(), tokenExchangeCmd(), tokenRefreshCmd())
	return cmd
}

func tokenAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Mint a bearer token for the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return withApp(cmd, func(a *app.App) error {
				if !a.APIAuth.Enabled() {
					return errors.New("JWT_SECRET not set; the control API does not check tokens")
				}
				tok, err := a.APIAuth.IssueToken(subject, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok)
				return nil
			})
		},
	}
	cmd.Flags().String("subject", "draftctl", "Token subject")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func tokenConsentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consent",
		Short: "Print the marketplace consent URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				if a.Credentials == nil {
					return errNoCredentials
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.Credentials.AuthCodeURL(uuid.NewString()))
				return nil
			})
		},
	}
}

func tokenExchangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exchange <code>",
		Short: "Trade an authorization code for a refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				if a.Credentials == nil {
					return errNoCredentials
				}
				if err := a.Credentials.Exchange(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "token stored, expires %s\n",
					a.Credentials.Expiry().Format(time.RFC3339))
				return nil
			})
		},
	}
}

func tokenRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the marketplace access token now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				if a.Credentials == nil {
					return errNoCredentials
				}
				if err := a.Credentials.Refresh(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "token refreshed, expires %s\n",
					a.Credentials.Expiry().Format(time.RFC3339))
				return nil
			})
		},
	}
}
