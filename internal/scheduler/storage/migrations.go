package storage

import (
	"context"
	"fmt"
)

// Timestamps are millisecond epoch BIGINTs; updated_at drives stall
// detection, so every mutation must refresh it.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         BIGSERIAL PRIMARY KEY,
	status     TEXT   NOT NULL DEFAULT 'pending',
	worker_id  TEXT,
	comment    TEXT,
	payload    JSONB  NOT NULL DEFAULT '{}'::jsonb,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at);

CREATE TABLE IF NOT EXISTS workers (
	id             TEXT PRIMARY KEY,
	current_job_id BIGINT,
	last_poll      BIGINT NOT NULL DEFAULT 0,
	last_job       BIGINT NOT NULL DEFAULT 0,
	created_at     BIGINT NOT NULL,
	updated_at     BIGINT NOT NULL
);
`

// Migrate applies the schema. Statements are idempotent so the coordinator
// can run this on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Database schema applied")
	return nil
}
