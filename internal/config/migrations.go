package config

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	d := s.dialect

	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			email VARCHAR(320) NOT NULL UNIQUE,
			password_hash VARCHAR(128) NOT NULL,
			salt VARCHAR(128) NOT NULL,
			date_joined %s NOT NULL
		)`, d.serialPK, d.timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS api_keys (
			id %s,
			token VARCHAR(160) NOT NULL UNIQUE,
			level INTEGER NOT NULL DEFAULT 1,
			is_revoked %s NOT NULL DEFAULT %s,
			user_id BIGINT NOT NULL,
			date_emitted %s NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`, d.serialPK, d.boolean, d.boolFalse, d.timestamp),

		d.createIndex("idx_api_keys_user", "api_keys", "user_id, id", false, ""),
	}

	if d.activeKeyFilter != "" {
		migrations = append(migrations,
			d.createIndex("idx_api_keys_one_active", "api_keys", "user_id", true, d.activeKeyFilter))
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// MySQL has no CREATE INDEX IF NOT EXISTS; an existing index is a no-op.
			if strings.Contains(strings.ToLower(err.Error()), "duplicate key name") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
