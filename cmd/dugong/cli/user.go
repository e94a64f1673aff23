package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dugong-app/dugong/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create and list user accounts and change their passwords.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserPasswdCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Long:  "Register a user. With --admin the user's first API key is issued at the admin level and printed.",
		Example: `  dugong user create --email reader@example.com --password secret123
  dugong user create --email root@example.com --admin  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, password, admin)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "E-mail address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Issue an admin-level API key for the new user")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(email, password string, admin bool) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	// Prompt for password if not provided
	if password == "" {
		if password, err = readPassword("Password: "); err != nil {
			return err
		}
	}

	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()

	authSvc, err := newAuthService(store, settings, nil, quietLogger())
	if err != nil {
		return err
	}

	ctx := context.Background()
	user, err := authSvc.Register(ctx, email, password)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Printf("Created user %q (id %d)\n", user.Email, user.ID)

	if !admin {
		return nil
	}

	key, err := authSvc.IssueKey(ctx, user)
	if err != nil {
		return fmt.Errorf("issue key: %w", err)
	}
	key, err = authSvc.SetKeyLevel(ctx, key.ID, model.LevelAdmin)
	if err != nil {
		return fmt.Errorf("promote key: %w", err)
	}

	fmt.Println()
	fmt.Printf("  API key: %s\n", key.Key)
	fmt.Printf("  Level:   %s\n", key.Level)
	fmt.Println()
	fmt.Println("  Logging in with this account returns the same key until it is revoked.")
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	type userRow struct {
		ID     int64  `json:"id"`
		Email  string `json:"email"`
		Joined string `json:"creation_date"`
		Level  string `json:"level"`
	}

	rows := make([]userRow, len(users))
	for i, u := range users {
		level := "-"
		if key, err := store.LatestAPIKey(ctx, u.ID); err == nil && key.Active() {
			level = key.Level.String()
		}
		rows[i] = userRow{
			ID:     u.ID,
			Email:  u.Email,
			Joined: u.DateJoined.Format("2006-01-02 15:04"),
			Level:  level,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No users registered. Use 'dugong user create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-32s %-18s %-8s\n", "ID", "EMAIL", "JOINED", "LEVEL")
	fmt.Printf("%-6s %-32s %-18s %-8s\n", "--", "-----", "------", "-----")
	for _, u := range rows {
		fmt.Printf("%-6d %-32s %-18s %-8s\n", u.ID, u.Email, u.Joined, u.Level)
	}

	return nil
}

// ---------- user passwd ----------

func newUserPasswdCmd() *cobra.Command {
	var (
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change a user's password",
		Long:  "Set a new password for a user. The user's active API key is revoked; the next login issues a new one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserPasswd(email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "E-mail address (required)")
	cmd.Flags().StringVar(&password, "password", "", "New password (prompted if omitted)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserPasswd(email, password string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	user, err := store.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("find user %q: %w", email, err)
	}

	if password == "" {
		if password, err = readPassword("New password: "); err != nil {
			return err
		}
	}

	authSvc, err := newAuthService(store, settings, nil, quietLogger())
	if err != nil {
		return err
	}
	if err := authSvc.ChangePassword(ctx, user.ID, password); err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	fmt.Printf("Password changed for %q. Existing API keys were revoked.\n", user.Email)
	return nil
}
