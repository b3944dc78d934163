package main

import "database/sql"

// migrate applies every schema migration in order. Each statement is
// written to be idempotent (CREATE TABLE IF NOT EXISTS, CREATE INDEX IF
// NOT EXISTS) so the same migration set can run again on every reconnect
// without tracking a schema-version table.
func migrate(db *sql.DB) error {
	for _, stmt := range migrationStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS job_updates (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp        TIMESTAMP NOT NULL,
		pool_name        TEXT NOT NULL,
		coinbase_tag     TEXT NOT NULL,
		prev_hash        TEXT NOT NULL,
		merkle_branches  TEXT NOT NULL,
		height           BIGINT NOT NULL,
		output_sum       BIGINT NOT NULL,
		header_version   BIGINT NOT NULL,
		header_bits      BIGINT NOT NULL,
		header_time      BIGINT NOT NULL,
		extranonce1      BLOB NOT NULL,
		extranonce2_size INTEGER NOT NULL,
		clean_jobs       BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_updates_pool_name ON job_updates (pool_name)`,
	`CREATE INDEX IF NOT EXISTS idx_job_updates_timestamp ON job_updates (timestamp)`,
}
