package database

const schema = `
CREATE TABLE IF NOT EXISTS mailbox_sync_state (
    mailbox TEXT PRIMARY KEY,
    last_uid INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS backfill_state (
    mailbox TEXT PRIMARY KEY,
    highest_uid_seen INTEGER NOT NULL DEFAULT 0,
    lowest_uid_processed INTEGER NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT false,
    started_at DATETIME,
    model_version TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS header_cache (
    mailbox TEXT NOT NULL,
    uid INTEGER NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    from_email TEXT NOT NULL DEFAULT '',
    date DATETIME NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    decision TEXT NOT NULL,
    score REAL NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    model_version TEXT NOT NULL DEFAULT '',
    promoted BOOLEAN NOT NULL DEFAULT false,
    promoted_pending BOOLEAN NOT NULL DEFAULT false,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (mailbox, uid)
);

CREATE TABLE IF NOT EXISTS emails (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id TEXT NOT NULL UNIQUE,
    uid INTEGER NOT NULL,
    mailbox TEXT NOT NULL,
    date DATETIME NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    from_email TEXT NOT NULL DEFAULT '',
    to_email TEXT NOT NULL DEFAULT '',
    vendor TEXT NOT NULL DEFAULT '',
    class TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    raw_headers TEXT NOT NULL DEFAULT '',
    raw_html TEXT NOT NULL DEFAULT '',
    parsed_json TEXT NOT NULL DEFAULT '',
    parse_status TEXT NOT NULL DEFAULT 'pending',
    parse_raw TEXT NOT NULL DEFAULT '',
    parse_error TEXT NOT NULL DEFAULT '',
    parse_attempts INTEGER NOT NULL DEFAULT 0,
    parsed_at DATETIME,
    openai_model TEXT NOT NULL DEFAULT '',
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    classification_confidence REAL NOT NULL DEFAULT 0,
    classification_reason TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS openai_calls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email_id INTEGER NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
    model TEXT NOT NULL DEFAULT '',
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    request_json TEXT NOT NULL DEFAULT '',
    response_json TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

-- no foreign keys: entries must outlive the emails they mention
CREATE TABLE IF NOT EXISTS ingestion_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at DATETIME NOT NULL,
    phase TEXT NOT NULL,
    status TEXT NOT NULL,
    uid INTEGER NOT NULL DEFAULT 0,
    message_id TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    class TEXT NOT NULL DEFAULT '',
    vendor TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ingest_runs (
    id TEXT PRIMARY KEY,
    mailbox TEXT NOT NULL,
    kind TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    ended_at DATETIME NOT NULL,
    status TEXT NOT NULL,
    stored INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    parsed INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(parse_status);
CREATE INDEX IF NOT EXISTS idx_emails_mailbox_uid ON emails(mailbox, uid);
CREATE INDEX IF NOT EXISTS idx_calls_email ON openai_calls(email_id);
CREATE INDEX IF NOT EXISTS idx_header_cache_decision ON header_cache(decision);
CREATE INDEX IF NOT EXISTS idx_log_status ON ingestion_log(phase, status);
CREATE INDEX IF NOT EXISTS idx_runs_started ON ingest_runs(started_at);
`

// addedColumns are applied to databases created before the column existed
var addedColumns = []struct {
	table  string
	column string
	ddl    string
}{
	{"header_cache", "promoted_pending", "BOOLEAN NOT NULL DEFAULT false"},
}
