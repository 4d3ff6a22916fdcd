package storage

import (
	"errors"

	"github.com/lib/pq"
)

// Postgres is the production dialect (lib/pq).
var Postgres Dialect = postgresDialect{}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Rebind(query string) string { return rebindDollar(query) }

func (postgresDialect) LockClause() string { return " FOR UPDATE" }

func (postgresDialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (postgresDialect) Schema() string { return postgresSchema }

const postgresSchema = `
CREATE TABLE IF NOT EXISTS family_groups (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	image_ref  TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id   TEXT NOT NULL REFERENCES family_groups(id),
	user_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS funds (
	id         TEXT PRIMARY KEY,
	group_id   TEXT NOT NULL UNIQUE REFERENCES family_groups(id),
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	currency   CHAR(3) NOT NULL,
	version    BIGINT NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS fund_transactions (
	id             TEXT PRIMARY KEY,
	fund_id        TEXT NOT NULL REFERENCES funds(id),
	seq            BIGINT NOT NULL,
	acting_user_id TEXT NOT NULL,
	type           TEXT NOT NULL CHECK (type IN ('deposit', 'payment', 'debit')),
	amount         BIGINT NOT NULL CHECK (amount > 0),
	description    TEXT NOT NULL,
	external_ref   TEXT,
	balance_after  BIGINT NOT NULL CHECK (balance_after >= 0),
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (fund_id, seq),
	UNIQUE (fund_id, external_ref)
);

CREATE TABLE IF NOT EXISTS recipients (
	id          TEXT PRIMARY KEY,
	group_id    TEXT NOT NULL REFERENCES family_groups(id),
	name        TEXT NOT NULL,
	address     TEXT NOT NULL,
	city        TEXT NOT NULL,
	postal_code TEXT,
	phone       TEXT,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS charge_attempts (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	state          TEXT NOT NULL,
	acting_user_id TEXT NOT NULL,
	group_id       TEXT,
	fund_id        TEXT,
	amount         BIGINT NOT NULL,
	currency       CHAR(3) NOT NULL,
	charge_seq     INTEGER NOT NULL DEFAULT 0,
	external_ref   TEXT,
	masked_card    TEXT,
	payload        JSONB,
	metadata       JSONB,
	failure_reason TEXT,
	commit_tries   INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fund_transactions_fund_seq ON fund_transactions(fund_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_charge_attempts_state ON charge_attempts(state, updated_at);
CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);

CREATE OR REPLACE FUNCTION forbid_fund_transaction_change() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'fund_transactions is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS fund_transactions_append_only ON fund_transactions;
CREATE TRIGGER fund_transactions_append_only
	BEFORE UPDATE OR DELETE ON fund_transactions
	FOR EACH ROW EXECUTE FUNCTION forbid_fund_transaction_change();
`
