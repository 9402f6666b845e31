package main

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/auth"
	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	var (
		subject     string
		displayName string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for API clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if err := appConfig.RequireSigning(); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = appConfig.TokenTTL
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueToken(subject, displayName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Session subject (user id)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
