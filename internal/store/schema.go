package store

// schema is applied with CREATE TABLE IF NOT EXISTS on every Open, so the
// store self-migrates on first run the way the teacher's SQLiteStore
// expects a pre-provisioned file (spec section 4.C: "Persistence Store").
const schema = `
CREATE TABLE IF NOT EXISTS intents (
	intent_id        TEXT PRIMARY KEY,
	cycle_id         TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	qty              TEXT NOT NULL,
	limit_price      TEXT,
	reason           TEXT,
	confidence       REAL,
	ttl_seconds      INTEGER,
	idempotency_key  TEXT NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	order_id          TEXT PRIMARY KEY,
	client_order_id   TEXT NOT NULL UNIQUE,
	exchange_order_id TEXT,
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	type              TEXT NOT NULL,
	price             TEXT NOT NULL,
	qty               TEXT NOT NULL,
	filled_qty        TEXT NOT NULL DEFAULT '0',
	avg_fill_price    TEXT,
	status            TEXT NOT NULL,
	last_update       TEXT NOT NULL,
	intent_hash       TEXT,
	mode              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders(symbol, status);

CREATE TABLE IF NOT EXISTS order_events (
	event_id        TEXT PRIMARY KEY,
	ts              TEXT NOT NULL,
	client_order_id TEXT NOT NULL,
	order_id        TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	payload         TEXT,
	cycle_id        TEXT
);
CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id);

CREATE TABLE IF NOT EXISTS ledger_events (
	event_id          TEXT PRIMARY KEY,
	unique_key        TEXT NOT NULL UNIQUE,
	ts                TEXT NOT NULL,
	symbol            TEXT NOT NULL,
	type              TEXT NOT NULL,
	side              TEXT,
	qty               TEXT NOT NULL,
	price             TEXT,
	fee               TEXT,
	fee_currency      TEXT,
	exchange_trade_id TEXT,
	client_order_id   TEXT,
	meta              TEXT
);

CREATE TABLE IF NOT EXISTS positions (
	symbol               TEXT PRIMARY KEY,
	qty                  TEXT NOT NULL,
	avg_cost_quote       TEXT NOT NULL,
	realized_pnl_quote   TEXT NOT NULL,
	unrealized_pnl_quote TEXT NOT NULL,
	fees_paid_quote      TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cycle_metrics (
	cycle_id                  TEXT PRIMARY KEY,
	ts_start                  TEXT NOT NULL,
	ts_end                    TEXT NOT NULL,
	mode                      TEXT NOT NULL,
	fills_count               INTEGER NOT NULL,
	orders_submitted          INTEGER NOT NULL,
	orders_canceled           INTEGER NOT NULL,
	rejects_count             INTEGER NOT NULL,
	fills_per_submitted_order REAL NOT NULL,
	slippage_bps_avg          REAL NOT NULL,
	fees_by_currency          TEXT,
	pnl                       TEXT,
	meta                      TEXT
);

CREATE TABLE IF NOT EXISTS cycle_audit (
	cycle_id   TEXT PRIMARY KEY,
	ts         TEXT NOT NULL,
	payload    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_decisions (
	cycle_id       TEXT PRIMARY KEY,
	mode           TEXT NOT NULL,
	reasons        TEXT,
	limits         TEXT,
	signals        TEXT,
	cooldown_until TEXT,
	decided_at     TEXT NOT NULL,
	inputs_hash    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_state_current (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	mode           TEXT NOT NULL,
	cooldown_until TEXT,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS idempotency_reservations (
	idempotency_key TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	client_order_id TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kill_switch (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	engaged    INTEGER NOT NULL,
	reason     TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS unknown_orders (
	exchange_order_id TEXT PRIMARY KEY,
	symbol            TEXT NOT NULL,
	raw_payload       TEXT,
	first_seen_at     TEXT NOT NULL,
	resolution        TEXT
);

CREATE TABLE IF NOT EXISTS replace_tx (
	tx_id              TEXT PRIMARY KEY,
	old_client_order_id TEXT NOT NULL,
	new_client_order_id TEXT NOT NULL,
	symbol             TEXT NOT NULL DEFAULT '',
	side               TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL,
	last_error         TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kill_chain (
	role              TEXT PRIMARY KEY,
	consecutive_fails INTEGER NOT NULL DEFAULT 0,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS capital_state (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	trading_capital     TEXT NOT NULL,
	treasury            TEXT NOT NULL,
	peak_equity         TEXT NOT NULL,
	consecutive_losses  INTEGER NOT NULL DEFAULT 0,
	total_realized_pnl  TEXT NOT NULL DEFAULT '0',
	updated_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS process_instances (
	process_id TEXT PRIMARY KEY,
	role       TEXT NOT NULL,
	pid        INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	heartbeat  TEXT NOT NULL
);
`
