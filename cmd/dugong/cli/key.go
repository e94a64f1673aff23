package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dugong-app/dugong/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "List, revoke and change the permission level of API keys issued at login.",
	}

	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyLevelCmd())

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list [email]",
		Aliases: []string{"ls"},
		Short:   "List API keys, optionally for one user",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := ""
			if len(args) > 0 {
				email = args[0]
			}
			return runKeyList(email, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(email string, jsonOutput bool) error {
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

	var keys []model.APIKey
	if email != "" {
		user, err := store.GetUserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("find user %q: %w", email, err)
		}
		keys, err = store.ListAPIKeysForUser(ctx, user.ID)
		if err != nil {
			return err
		}
	} else {
		if keys, err = store.ListAPIKeys(ctx); err != nil {
			return err
		}
	}

	// Build a user ID -> email map for display
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	emails := make(map[int64]string, len(users))
	for _, u := range users {
		emails[u.ID] = u.Email
	}

	type keyRow struct {
		ID      int64  `json:"id"`
		Prefix  string `json:"prefix"`
		User    string `json:"user"`
		Level   string `json:"level"`
		Active  bool   `json:"active"`
		Emitted string `json:"date_emitted"`
	}

	rows := make([]keyRow, len(keys))
	for i := range keys {
		k := &keys[i]
		rows[i] = keyRow{
			ID:      k.ID,
			Prefix:  k.Prefix(),
			User:    emails[k.UserID],
			Level:   k.Level.String(),
			Active:  k.Active(),
			Emitted: k.DateEmitted.Format("2006-01-02 15:04"),
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys issued. Keys are created when a user logs in.")
		return nil
	}

	fmt.Printf("%-6s %-16s %-28s %-8s %-7s %-16s\n", "ID", "PREFIX", "USER", "LEVEL", "ACTIVE", "EMITTED")
	fmt.Printf("%-6s %-16s %-28s %-8s %-7s %-16s\n", "--", "------", "----", "-----", "------", "-------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		fmt.Printf("%-6d %-16s %-28s %-8s %-7s %-16s\n", k.ID, k.Prefix, k.User, k.Level, active, k.Emitted)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Revoke an API key, preventing any further authenticated requests using that key. The user's next login issues a new key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(prefix string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
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
	key, err := authSvc.Keys().FindByPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("no API key found with prefix %q: %w", prefix, err)
	}
	if !key.Active() {
		fmt.Printf("API key %s is already revoked\n", key.Prefix())
		return nil
	}
	if err := authSvc.Logout(ctx, key); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key %s\n", key.Prefix())
	return nil
}

// ---------- key level ----------

func newKeyLevelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "level <prefix> <level>",
		Short: "Change an API key's permission level",
		Long:  "Set the permission level of an active key: read, review, edit, create or admin. Setting revoked revokes the key.",
		Example: `  dugong key level dugong_3fa9c1 edit
  dugong key level dugong_3fa9c1 admin`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyLevel(args[0], args[1])
		},
	}

	return cmd
}

func runKeyLevel(prefix, levelName string) error {
	level, err := model.ParsePermissionLevel(levelName)
	if err != nil {
		return err
	}

	settings, err := loadSettings()
	if err != nil {
		return err
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
	key, err := authSvc.Keys().FindByPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("no API key found with prefix %q: %w", prefix, err)
	}
	updated, err := authSvc.SetKeyLevel(ctx, key.ID, level)
	if err != nil {
		return fmt.Errorf("set level: %w", err)
	}

	fmt.Printf("API key %s: %s -> %s\n", updated.Prefix(), key.Level, updated.Level)
	return nil
}
