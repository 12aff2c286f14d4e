package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "devguard/internal/jwt_token"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/platform/middleware/admin"
)

func (c *cli) tokenCmd() *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Manage operator API tokens",
	}

	var subject, role string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for the server's admin routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := c.cfg.Server.JWTSigningKey
			if key == "" {
				return dErrors.New(dErrors.CodeInvalidInput, "server.jwt_signing_key is not configured")
			}
			svc := jwttoken.NewJWTService(key, c.cfg.Server.JWTIssuer)
			signed, err := svc.GenerateToken(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "operator id (required)")
	issue.Flags().StringVar(&role, "role", admin.RoleAdmin, "role claim")
	issue.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = issue.MarkFlagRequired("subject")

	token.AddCommand(issue)
	return token
}
