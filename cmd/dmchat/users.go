package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GetStream/direct-messaging/auth"
	"github.com/GetStream/direct-messaging/chat"
	"github.com/GetStream/direct-messaging/postgres"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create an account",
	Long: `Create an account with the given username. The password is read from
the first line of standard input.

Example usage:
  echo 's3cret-pass' | dmchat users create alice`,
	Args: cobra.ExactArgs(1),
	RunE: runUsersCreate,
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete an account with its messages, requests and friendships",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersDelete,
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersDeleteCmd)
}

// minPasswordLength is the shortest password accepted for new accounts.
const minPasswordLength = 6

func readPassword(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return password, nil
}

func runUsersCreate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	pg, err := postgres.Connect(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pg.Close()

	svc := &chat.Service{Logger: logger, DB: pg}
	u, err := svc.CreateUser(cmd.Context(), strings.TrimSpace(args[0]), hash)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), u.ID)
	return nil
}

func runUsersDelete(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	pg, err := postgres.Connect(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pg.Close()

	svc := &chat.Service{Logger: logger, DB: pg}
	u, err := svc.GetUserByUsername(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return svc.DeleteAccount(cmd.Context(), u.ID)
}
