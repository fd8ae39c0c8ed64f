// Package persistence implements the repository ports on PostgreSQL.
package persistence

import (
	"context"

	"github.com/jmoiron/sqlx"

	"mailbridge/pkg/apperr"
	"mailbridge/pkg/logger"
)

// migrations run in order at startup. Statements are idempotent so a
// restart replays them safely.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT,
		external_id   TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS mail_accounts (
		id                 BIGSERIAL PRIMARY KEY,
		user_id            UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		email              TEXT NOT NULL,
		provider           TEXT NOT NULL,
		encrypted_password TEXT,
		access_token       TEXT,
		refresh_token      TEXT,
		synced_folders     TEXT[] NOT NULL DEFAULT '{}',
		last_fetched_uid   BIGINT NOT NULL DEFAULT 0,
		last_synced_at     TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, email)
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id          BIGSERIAL PRIMARY KEY,
		account_id  BIGINT NOT NULL REFERENCES mail_accounts(id) ON DELETE CASCADE,
		uid         BIGINT NOT NULL,
		message_id  TEXT,
		from_addr   TEXT NOT NULL DEFAULT '',
		to_addrs    TEXT[] NOT NULL DEFAULT '{}',
		subject     TEXT NOT NULL DEFAULT '',
		body        TEXT NOT NULL DEFAULT '',
		html_body   TEXT,
		folder      TEXT NOT NULL,
		is_read     BOOLEAN NOT NULL DEFAULT FALSE,
		received_at TIMESTAMPTZ NOT NULL,
		fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at  TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (account_id, uid, folder)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_account_id ON messages (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages (received_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages (account_id, folder) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages (account_id, folder, message_id) WHERE message_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS attachments (
		id           BIGSERIAL PRIMARY KEY,
		message_id   BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		filename     TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
		size         BIGINT NOT NULL DEFAULT 0,
		storage_url  TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments (message_id)`,

	`CREATE TABLE IF NOT EXISTS email_fts (
		message_id BIGINT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
		lexemes    TSVECTOR NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_fts_lexemes ON email_fts USING GIN (lexemes)`,

	`CREATE OR REPLACE FUNCTION email_fts_refresh() RETURNS trigger AS $$
	BEGIN
		INSERT INTO email_fts (message_id, lexemes)
		VALUES (
			NEW.id,
			to_tsvector('english',
				coalesce(NEW.subject, '') || ' ' ||
				coalesce(NEW.body, '') || ' ' ||
				coalesce(NEW.from_addr, ''))
		)
		ON CONFLICT (message_id) DO UPDATE SET lexemes = EXCLUDED.lexemes;
		RETURN NEW;
	END
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS trg_email_fts ON messages`,
	`CREATE TRIGGER trg_email_fts
		AFTER INSERT OR UPDATE ON messages
		FOR EACH ROW EXECUTE FUNCTION email_fts_refresh()`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id          UUID PRIMARY KEY,
		hash        TEXT NOT NULL UNIQUE,
		user_id     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at  TIMESTAMPTZ NOT NULL,
		revoked     BOOLEAN NOT NULL DEFAULT FALSE,
		replaced_by UUID,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens (user_id)`,
}

// RunMigrations applies the schema. Must run before any repository is used.
func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return apperr.DatabaseError("migration", err)
		}
	}
	logger.Info("database schema up to date (%d statements)", len(migrations))
	return nil
}
