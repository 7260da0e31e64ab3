package storage

// Schema for the SQLite backing. Collections mirror the entity families;
// complex fields are stored as JSON documents in TEXT columns. The declared
// indexes cover the filtered queries the router issues on its hot paths:
// eligible-key scans by (provider_id, state), recovery scans by
// (state, last_used_at), and audit reads by (key id, timestamp).
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id                 TEXT PRIMARY KEY,
	provider_id        TEXT NOT NULL,
	encrypted_material BLOB NOT NULL,
	state              TEXT NOT NULL,
	state_changed_at   INTEGER NOT NULL,
	created_at         INTEGER NOT NULL,
	last_used_at       INTEGER,
	usage_count        INTEGER NOT NULL DEFAULT 0,
	failure_count      INTEGER NOT NULL DEFAULT 0,
	cooldown_until     INTEGER,
	metadata           TEXT
);

CREATE INDEX IF NOT EXISTS idx_api_keys_provider_state
	ON api_keys(provider_id, state);

CREATE INDEX IF NOT EXISTS idx_api_keys_state_last_used
	ON api_keys(state, last_used_at DESC);

CREATE TABLE IF NOT EXISTS quota_states (
	id               TEXT NOT NULL,
	key_id           TEXT NOT NULL,
	capacity_state   TEXT NOT NULL,
	unit             TEXT NOT NULL,
	remaining        TEXT NOT NULL,
	total            INTEGER,
	used             INTEGER NOT NULL DEFAULT 0,
	tokens_remaining TEXT,
	tokens_total     INTEGER,
	tokens_used      INTEGER NOT NULL DEFAULT 0,
	window           TEXT NOT NULL,
	custom_window    INTEGER NOT NULL DEFAULT 0,
	reset_at         INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_quota_states_key_id
	ON quota_states(key_id);

CREATE TABLE IF NOT EXISTS routing_decisions (
	id                   TEXT PRIMARY KEY,
	request_id           TEXT NOT NULL,
	correlation_id       TEXT,
	selected_key_id      TEXT NOT NULL,
	selected_provider_id TEXT NOT NULL,
	timestamp            INTEGER NOT NULL,
	objective            TEXT NOT NULL,
	eligible_keys        TEXT NOT NULL,
	scores               TEXT NOT NULL,
	explanation          TEXT NOT NULL,
	confidence           REAL NOT NULL,
	alternatives         TEXT
);

CREATE INDEX IF NOT EXISTS idx_routing_decisions_key_ts
	ON routing_decisions(selected_key_id, timestamp DESC);

CREATE INDEX IF NOT EXISTS idx_routing_decisions_provider_ts
	ON routing_decisions(selected_provider_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS state_transitions (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	from_state  TEXT NOT NULL,
	to_state    TEXT NOT NULL,
	timestamp   INTEGER NOT NULL,
	trigger_tag TEXT NOT NULL,
	context     TEXT
);

CREATE INDEX IF NOT EXISTS idx_state_transitions_entity_ts
	ON state_transitions(entity_id, timestamp DESC);
`
