package postgres

// Schema holds the idempotent DDL applied by postgresql.Client.Migrate
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS quizzes (
		quiz_id    TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		questions  JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS job_records (
		job_id        TEXT PRIMARY KEY,
		kind          TEXT NOT NULL,
		subject_id    TEXT NOT NULL,
		status        TEXT NOT NULL,
		answers       INTEGER[],
		score         INTEGER,
		storage_key   TEXT,
		error_message TEXT,
		created_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS job_records_created_idx
		ON job_records (created_at DESC, job_id DESC)`,
	`CREATE INDEX IF NOT EXISTS job_records_pending_idx
		ON job_records (created_at) WHERE status = 'PENDING'`,
	`ALTER TABLE job_records
		ADD COLUMN IF NOT EXISTS requeue_count INTEGER NOT NULL DEFAULT 0,
		ADD COLUMN IF NOT EXISTS requeued_at   TIMESTAMPTZ`,
}
