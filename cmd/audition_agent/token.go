package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/config"
	"github.com/jonathan/role-audition/internal/server"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for local testing",
	Long:  "Sign a token with JWT_SECRET for the given user id. Intended for development against a local server.",
	RunE:  runToken,
}

var tokenUserID string

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "User id (default: a new random id)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return fmt.Errorf("failed to create JWT config: %w", err)
	}
	userID := uuid.New()
	if tokenUserID != "" {
		if userID, err = uuid.Parse(tokenUserID); err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
	}
	token, err := server.NewJWTService(jwtConfig).GenerateToken(userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "user_id: %s\n", userID)
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
