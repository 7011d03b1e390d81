package crdb

const Schema = `
CREATE TABLE IF NOT EXISTS hold_timers (
	booking_id   TEXT PRIMARY KEY,
	show_id      TEXT NOT NULL DEFAULT '',
	due_at       TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'DONE')),
	attempts     INT NOT NULL DEFAULT 0,
	lease_owner  TEXT NULL,
	lease_until  TIMESTAMPTZ NULL,
	outcome      TEXT NULL,
	last_error   TEXT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ NULL,
	INDEX hold_timers_due_idx (status, due_at)
);

CREATE TABLE IF NOT EXISTS outbox (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload_json   BYTES NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at   TIMESTAMPTZ NULL,
	status         TEXT NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key     TEXT NOT NULL,
	INDEX outbox_status_idx (status, created_at)
);
`
