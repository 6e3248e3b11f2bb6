package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-pdu/internal/auth"
)

var (
	flagTokenRole string
	flagTokenTTL  int
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API bearer token signed with api.auth.jwt_secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.API.Auth.JWTSecret == "" {
			return fmt.Errorf("api.auth.jwt_secret is not set (env: PDUBRIDGE_JWT_SECRET)")
		}

		ttl := cfg.TokenTTL()
		if flagTokenTTL > 0 {
			cfg.API.Auth.TokenTTL = flagTokenTTL
			ttl = cfg.TokenTTL()
		}

		token, err := auth.GenerateToken(args[0], auth.Role(flagTokenRole), cfg.API.Auth.JWTSecret, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagTokenRole, "role", string(auth.RoleViewer), "Token role: viewer, operator, admin")
	tokenCmd.Flags().IntVar(&flagTokenTTL, "ttl", 0, "Lifetime in minutes (default: api.auth.token_ttl)")
	rootCmd.AddCommand(tokenCmd)
}
