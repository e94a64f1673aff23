package config

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// dialect captures the differences between the supported database engines
// that matter to the store: DDL types, ID retrieval and row locking.
type dialect struct {
	name       string
	driver     string
	serialPK   string
	timestamp  string
	boolean    string
	boolFalse  string
	lockSuffix string
	// returningID selects INSERT ... RETURNING id instead of LastInsertId.
	returningID bool
	// activeKeyFilter is the WHERE clause of the partial unique index that
	// allows one non-revoked key per user. Empty where partial indexes are
	// unsupported.
	activeKeyFilter string
	ifNotExistsIdx  bool
}

var dialects = map[string]dialect{
	"sqlite": {
		name:            "sqlite",
		driver:          "sqlite",
		serialPK:        "INTEGER PRIMARY KEY AUTOINCREMENT",
		timestamp:       "DATETIME",
		boolean:         "INTEGER",
		boolFalse:       "0",
		activeKeyFilter: "is_revoked = 0",
		ifNotExistsIdx:  true,
	},
	"postgres": {
		name:            "postgres",
		driver:          "pgx",
		serialPK:        "BIGSERIAL PRIMARY KEY",
		timestamp:       "TIMESTAMPTZ",
		boolean:         "BOOLEAN",
		boolFalse:       "FALSE",
		lockSuffix:      " FOR UPDATE",
		returningID:     true,
		activeKeyFilter: "NOT is_revoked",
		ifNotExistsIdx:  true,
	},
	"mysql": {
		name:       "mysql",
		driver:     "mysql",
		serialPK:   "BIGINT AUTO_INCREMENT PRIMARY KEY",
		timestamp:  "DATETIME(6)",
		boolean:    "BOOLEAN",
		boolFalse:  "FALSE",
		lockSuffix: " FOR UPDATE",
	},
}

func lookupDialect(name string) (dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return dialects["sqlite"], nil
	case "postgres", "postgresql", "pgx":
		return dialects["postgres"], nil
	case "mysql", "mariadb":
		return dialects["mysql"], nil
	}
	return dialect{}, fmt.Errorf("unsupported database driver %q", name)
}

// prepareDSN adjusts a DSN for the dialect. MySQL needs parseTime so that
// DATETIME columns scan into time.Time.
func (d dialect) prepareDSN(dsn string) (string, error) {
	if d.name != "mysql" {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func (d dialect) createIndex(name, table, columns string, unique bool, where string) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	ine := ""
	if d.ifNotExistsIdx {
		ine = "IF NOT EXISTS "
	}
	stmt := fmt.Sprintf("CREATE %s %s%s ON %s(%s)", kind, ine, name, table, columns)
	if where != "" {
		stmt += " WHERE " + where
	}
	return stmt
}

// isUniqueViolation recognises duplicate-key errors across the three drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry") ||
		strings.Contains(lower, "sqlstate 23505")
}
