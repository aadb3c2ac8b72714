package sqlite

// migration is one schema change, applied in a transaction.
type migration struct {
	Name       string
	Version    string
	Statements []string
}

// migrations is ordered by Version.
var migrations = []migration{
	{
		Name:    "create_jobs_table",
		Version: "20260101120000",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS shepherd_jobs (
				id               TEXT PRIMARY KEY,
				version          INTEGER NOT NULL,
				signature        TEXT NOT NULL,
				recurring_job_id TEXT NOT NULL DEFAULT '',
				state            TEXT NOT NULL,
				scheduled_at     INTEGER,
				descriptor       BLOB NOT NULL,
				history          BLOB NOT NULL,
				created_at       INTEGER NOT NULL,
				updated_at       INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_shepherd_jobs_state_updated
				ON shepherd_jobs (state, updated_at)`,
			`CREATE INDEX IF NOT EXISTS idx_shepherd_jobs_scheduled
				ON shepherd_jobs (scheduled_at)
				WHERE state = 'SCHEDULED'`,
			`CREATE INDEX IF NOT EXISTS idx_shepherd_jobs_signature
				ON shepherd_jobs (signature, state)`,
		},
	},
	{
		Name:    "create_recurring_jobs_table",
		Version: "20260101120001",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS shepherd_recurring_jobs (
				id         TEXT PRIMARY KEY,
				descriptor BLOB NOT NULL,
				schedule   TEXT NOT NULL,
				timezone   TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
		},
	},
	{
		Name:    "create_servers_table",
		Version: "20260101120002",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS shepherd_servers (
				id               TEXT PRIMARY KEY,
				name             TEXT NOT NULL,
				worker_pool_size INTEGER NOT NULL,
				poll_interval    INTEGER NOT NULL,
				first_heartbeat  INTEGER NOT NULL,
				last_heartbeat   INTEGER NOT NULL,
				running          INTEGER NOT NULL,
				metrics          BLOB NOT NULL
			)`,
		},
	},
	{
		Name:    "create_metadata_table",
		Version: "20260101120003",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS shepherd_metadata (
				name       TEXT NOT NULL,
				owner      TEXT NOT NULL,
				value      TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (name, owner)
			)`,
		},
	},
}
