package postgres

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_email  TEXT NOT NULL,
	locale      TEXT NOT NULL DEFAULT 'en',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_email ON sessions (user_email);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions (created_at);

CREATE TABLE IF NOT EXISTS toasts (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	session_id    UUID NOT NULL,
	user_email    TEXT NOT NULL,
	title         TEXT NOT NULL,
	body          TEXT NOT NULL,
	alert_count   INTEGER NOT NULL,
	total_unseen  INTEGER NOT NULL,
	last_seen_id  BIGINT NOT NULL,
	is_read       BOOLEAN NOT NULL DEFAULT FALSE,
	read_at       TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_toasts_email_created ON toasts (user_email, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_toasts_unread ON toasts (user_email) WHERE is_read = FALSE;
`
