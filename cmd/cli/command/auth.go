package command

import (
	"fmt"
	"os"
	"time"

	"loudfits/cmd/cli/authentication"
	"loudfits/internal/auth"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// auth.go handles token management for the loudfits CLI.
// Tokens come from the identity provider; the CLI only stores them.

// authCmd represents the auth command for authentication related subcommands
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  `Store, inspect and forget the bearer token used against the Loudfits API.`,
}

// setTokenCmd stores a token issued by the identity provider
var setTokenCmd = &cobra.Command{
	Use:   "set-token <jwt>",
	Short: "Store a bearer token in the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := authentication.FromToken(args[0])
		if err != nil {
			return err
		}
		if err := authentication.StoreTokens(creds); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		color.Green("✓ Token stored for user %s (role %s)", creds.UserID, creds.Role)
		return nil
	},
}

// whoamiCmd prints the identity the stored token carries
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity of the current token",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials()
		if err != nil {
			return err
		}
		fmt.Printf("UserID: %s\nRole:   %s\n", creds.UserID, creds.Role)
		if creds.ExpiresAt > 0 {
			fmt.Printf("Expires: %s\n", time.Unix(creds.ExpiresAt, 0).Format(time.RFC1123))
		}
		return nil
	},
}

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := authentication.DeleteTokens(); err != nil {
			return err
		}
		fmt.Println("✓ Successfully logged out.")
		return nil
	},
}

// devTokenCmd signs a local token with JWT_SECRET, for development against a local server
var devTokenCmd = &cobra.Command{
	Use:   "dev-token",
	Short: "Issue and store a development token signed with JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("JWT_SECRET is not set")
		}
		userID, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		signed, err := auth.IssueToken(secret, userID, role, ttl)
		if err != nil {
			return err
		}
		creds, err := authentication.FromToken(signed)
		if err != nil {
			return err
		}
		if err := authentication.StoreTokens(creds); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		color.Yellow("⚠ development token stored for %s (%s), expires in %s", userID, role, ttl)
		return nil
	},
}

// init function to add auth commands to root command
func init() {
	authCmd.AddCommand(setTokenCmd)
	authCmd.AddCommand(whoamiCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(devTokenCmd)

	devTokenCmd.Flags().StringP("user", "u", "", "user id to put in the token")
	devTokenCmd.Flags().StringP("role", "r", "customer", "role claim (customer or admin)")
	devTokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	devTokenCmd.MarkFlagRequired("user")
}
