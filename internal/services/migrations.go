package services

import (
	"database/sql"

	"github.com/resonate-home/resonate/internal/store"
)

// Migrations defines the registry schema. Applied by main (and by tests)
// under the "registry" component name.
var Migrations = []store.Migration{
	{
		Version:     1,
		Description: "create devices and sync_runs tables",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE devices (
					device_id        TEXT PRIMARY KEY,
					address          TEXT NOT NULL DEFAULT '',
					name             TEXT NOT NULL DEFAULT '',
					model            TEXT NOT NULL DEFAULT '',
					firmware_version TEXT NOT NULL DEFAULT '',
					capabilities     TEXT NOT NULL DEFAULT '',
					first_seen       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					last_seen        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_devices_last_seen ON devices(last_seen)`,
				`CREATE INDEX idx_devices_address ON devices(address)`,
				`CREATE TABLE sync_runs (
					id         TEXT PRIMARY KEY,
					started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					ended_at   DATETIME,
					status     TEXT NOT NULL DEFAULT 'running',
					discovered INTEGER NOT NULL DEFAULT 0,
					synced     INTEGER NOT NULL DEFAULT 0,
					failed     INTEGER NOT NULL DEFAULT 0,
					error_msg  TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_sync_runs_started_at ON sync_runs(started_at)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
