package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dugong-app/dugong/internal/config"
	"github.com/dugong-app/dugong/internal/security"
	"github.com/dugong-app/dugong/internal/service"
	"github.com/dugong-app/dugong/internal/telemetry"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// loadSettings returns the validated effective settings.
func loadSettings() (*config.Settings, error) {
	return config.LoadSettings(viper.GetViper())
}

// resolveDataDir returns the data directory from --data-dir flag, the
// database.data_dir setting (DUGONG_DATABASE_DATA_DIR), or ~/.dugong as
// fallback.
func resolveDataDir(s *config.Settings) string {
	if dataDir != "" {
		return dataDir
	}
	if s != nil && s.Database.DataDir != "" {
		return s.Database.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dugong")
}

// openStore opens the configured store. SQLite without an explicit DSN lives
// in the data directory.
func openStore(s *config.Settings) (*config.Store, error) {
	if s.Database.Driver == "sqlite" && s.Database.DSN == "" {
		store, err := config.NewStore(resolveDataDir(s))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return store, nil
	}
	store, err := config.Open(s.Database.Driver, s.Database.DSN, s.Database.Pool())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// newAuthService builds the authentication stack over an open store.
func newAuthService(store *config.Store, s *config.Settings, metrics *telemetry.Metrics, logger *slog.Logger) (*service.AuthService, error) {
	scheme, err := security.ParseScheme(s.HashScheme)
	if err != nil {
		return nil, err
	}
	hasher, err := security.NewHasher(s.SecretKey, scheme)
	if err != nil {
		return nil, err
	}
	keys := service.NewKeyStore(store, metrics, logger)
	return service.NewAuthService(store, keys, hasher, metrics, logger), nil
}

// newLogger builds the process logger from the logging settings. dev forces
// debug level.
func newLogger(w io.Writer, s config.LoggingSettings, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(s.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(s.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// quietLogger discards everything below warnings, for one-shot commands.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// readPassword prompts for a password twice on the terminal.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}
