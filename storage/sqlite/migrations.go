package sqlite

import "database/sql"

// schema mirrors db/migrations for the embedded backend. Amounts are decimal
// TEXT and timestamps are INTEGER unix nanoseconds.
const schema = `
CREATE TABLE IF NOT EXISTS counters (
    name TEXT PRIMARY KEY,
    value INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pacts (
    id TEXT PRIMARY KEY,
    creator TEXT NOT NULL,
    name TEXT NOT NULL,
    payer TEXT NOT NULL,
    payee TEXT NOT NULL,
    interval_seconds INTEGER NOT NULL CHECK (interval_seconds > 0),
    amount TEXT NOT NULL,
    denomination TEXT NOT NULL,
    external_ref TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL,
    payer_signed INTEGER NOT NULL DEFAULT 0,
    payee_signed INTEGER NOT NULL DEFAULT 0,
    stake TEXT NOT NULL DEFAULT '0',
    last_paid_at INTEGER,
    last_pay_amount TEXT NOT NULL DEFAULT '0',
    resumed_at INTEGER,
    active_seconds INTEGER NOT NULL DEFAULT 0,
    dispute_raised INTEGER NOT NULL DEFAULT 0,
    proposed_amount TEXT,
    proposer TEXT,
    panel_pending INTEGER NOT NULL DEFAULT 0,
    panel_accepted INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    CHECK (payer <> payee)
);

CREATE INDEX IF NOT EXISTS idx_pacts_payer ON pacts(payer, created_at);
CREATE INDEX IF NOT EXISTS idx_pacts_payee ON pacts(payee, created_at);
CREATE INDEX IF NOT EXISTS idx_pacts_creator ON pacts(creator, created_at);

CREATE TABLE IF NOT EXISTS arbitrators (
    pact_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    address TEXT NOT NULL,
    resolved INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (pact_id, position),
    UNIQUE (pact_id, address),
    FOREIGN KEY (pact_id) REFERENCES pacts(id)
);

CREATE TABLE IF NOT EXISTS delegations (
    pact_id TEXT NOT NULL,
    principal TEXT NOT NULL,
    delegate TEXT NOT NULL,
    authorized INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (pact_id, principal, delegate),
    FOREIGN KEY (pact_id) REFERENCES pacts(id)
);

CREATE TABLE IF NOT EXISTS balances (
    account TEXT NOT NULL,
    denomination TEXT NOT NULL,
    amount TEXT NOT NULL DEFAULT '0',
    PRIMARY KEY (account, denomination)
);

CREATE TABLE IF NOT EXISTS escrow_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pact_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    denomination TEXT NOT NULL,
    counterparty TEXT NOT NULL,
    amount TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (pact_id) REFERENCES pacts(id)
);

CREATE TABLE IF NOT EXISTS timeline_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pact_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    type TEXT NOT NULL,
    actor TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE (pact_id, seq),
    FOREIGN KEY (pact_id) REFERENCES pacts(id)
);

CREATE TRIGGER IF NOT EXISTS timeline_events_no_update
BEFORE UPDATE ON timeline_events
BEGIN
    SELECT RAISE(ABORT, 'timeline_events is append-only');
END;

CREATE TRIGGER IF NOT EXISTS timeline_events_no_delete
BEFORE DELETE ON timeline_events
BEGIN
    SELECT RAISE(ABORT, 'timeline_events is append-only');
END;

CREATE TABLE IF NOT EXISTS outbox (
    id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processed', 'dead')),
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at INTEGER NOT NULL,
    processed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status, created_at);

CREATE TABLE IF NOT EXISTS auth_challenges (
    address TEXT PRIMARY KEY,
    nonce TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
`

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
