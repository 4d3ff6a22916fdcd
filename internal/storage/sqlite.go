package storage

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is the local and test dialect (modernc.org/sqlite). Row locking is
// replaced by immediate write transactions on a single connection; see
// database.OpenSQLite.
var SQLite Dialect = sqliteDialect{}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) LockClause() string { return "" }

func (sqliteDialect) IsUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

func (sqliteDialect) Schema() string { return sqliteSchema }

// SQLiteDSN builds a modernc.org/sqlite DSN for path. Transactions begin
// IMMEDIATE so the write lock is taken before the fund row is read.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite&_txlock=immediate"
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS family_groups (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	image_ref  TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id   TEXT NOT NULL REFERENCES family_groups(id),
	user_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS funds (
	id         TEXT PRIMARY KEY,
	group_id   TEXT NOT NULL UNIQUE REFERENCES family_groups(id),
	balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	currency   TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS fund_transactions (
	id             TEXT PRIMARY KEY,
	fund_id        TEXT NOT NULL REFERENCES funds(id),
	seq            INTEGER NOT NULL,
	acting_user_id TEXT NOT NULL,
	type           TEXT NOT NULL CHECK (type IN ('deposit', 'payment', 'debit')),
	amount         INTEGER NOT NULL CHECK (amount > 0),
	description    TEXT NOT NULL,
	external_ref   TEXT,
	balance_after  INTEGER NOT NULL CHECK (balance_after >= 0),
	created_at     TIMESTAMP NOT NULL,
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
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS charge_attempts (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	state          TEXT NOT NULL,
	acting_user_id TEXT NOT NULL,
	group_id       TEXT,
	fund_id        TEXT,
	amount         INTEGER NOT NULL,
	currency       TEXT NOT NULL,
	charge_seq     INTEGER NOT NULL DEFAULT 0,
	external_ref   TEXT,
	masked_card    TEXT,
	payload        TEXT,
	metadata       TEXT,
	failure_reason TEXT,
	commit_tries   INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fund_transactions_fund_seq ON fund_transactions(fund_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_charge_attempts_state ON charge_attempts(state, updated_at);
CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);

CREATE TRIGGER IF NOT EXISTS fund_transactions_no_update
BEFORE UPDATE ON fund_transactions
BEGIN
	SELECT RAISE(ABORT, 'fund_transactions is append-only');
END;

CREATE TRIGGER IF NOT EXISTS fund_transactions_no_delete
BEFORE DELETE ON fund_transactions
BEGIN
	SELECT RAISE(ABORT, 'fund_transactions is append-only');
END;
`
