package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	provider            TEXT NOT NULL CHECK(provider IN ('gmail', 'imap')),
	email               TEXT NOT NULL,
	refresh_token       TEXT NOT NULL,
	access_token        TEXT,
	access_token_expiry DATETIME,
	active              INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1)),
	last_synced_at      DATETIME,
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(provider, email)
);

CREATE TABLE IF NOT EXISTS categories (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	UNIQUE(user_id, name)
);

CREATE TABLE IF NOT EXISTS messages (
	id                 TEXT PRIMARY KEY,
	account_id         TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	external_id        TEXT NOT NULL,
	subject            TEXT NOT NULL DEFAULT '',
	sender             TEXT NOT NULL DEFAULT '',
	body               TEXT NOT NULL DEFAULT '',
	truncated          INTEGER NOT NULL DEFAULT 0 CHECK(truncated IN (0, 1)),
	received_at        DATETIME NOT NULL,
	unsubscribe_target TEXT NOT NULL DEFAULT '',
	unsubscribe_method TEXT NOT NULL DEFAULT 'none' CHECK(unsubscribe_method IN ('header', 'link', 'none')),
	archived           INTEGER NOT NULL DEFAULT 0 CHECK(archived IN (0, 1)),
	category_id        TEXT REFERENCES categories(id) ON DELETE SET NULL,
	summary            TEXT,
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(account_id, external_id)
);

CREATE TABLE IF NOT EXISTS unsubscribe_attempts (
	id           TEXT PRIMARY KEY,
	message_id   TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	status       TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'success', 'failed')),
	method       TEXT NOT NULL DEFAULT '',
	error        TEXT,
	error_kind   TEXT,
	evidence     TEXT,
	artifacts    TEXT NOT NULL DEFAULT '[]',
	attempted_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS ingest_failures (
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	external_id TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY(account_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_accounts_active ON accounts(active);
CREATE INDEX IF NOT EXISTS idx_categories_user_id ON categories(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_account_id ON messages(account_id);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_attempts_message_id ON unsubscribe_attempts(message_id, attempted_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
