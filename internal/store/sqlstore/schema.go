package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// dialect hides the handful of differences between SQLite and Postgres.
type dialect struct {
	name      string
	serialPK  string
	timestamp string
	dollar    bool
}

var (
	sqliteDialect = dialect{
		name:      "sqlite3",
		serialPK:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		timestamp: "TIMESTAMP",
	}
	postgresDialect = dialect{
		name:      "pgx",
		serialPK:  "BIGSERIAL PRIMARY KEY",
		timestamp: "TIMESTAMPTZ",
		dollar:    true,
	}
)

// rebind rewrites ? placeholders to $n for Postgres.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// schema follows the FreeRADIUS rlm_sql layout for radcheck, radreply and
// radacct so a FreeRADIUS instance can authorize against the same tables.
func (d dialect) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS radcheck (
			id %s,
			username VARCHAR(64) NOT NULL,
			attribute VARCHAR(64) NOT NULL,
			op CHAR(2) NOT NULL DEFAULT ':=',
			value VARCHAR(253) NOT NULL,
			UNIQUE (username, attribute)
		)`, d.serialPK),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS radreply (
			id %s,
			username VARCHAR(64) NOT NULL,
			attribute VARCHAR(64) NOT NULL,
			op CHAR(2) NOT NULL DEFAULT ':=',
			value VARCHAR(253) NOT NULL,
			UNIQUE (username, attribute)
		)`, d.serialPK),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS radacct (
			radacctid %s,
			acctsessionid VARCHAR(64) NOT NULL UNIQUE,
			username VARCHAR(64) NOT NULL,
			nasipaddress VARCHAR(45) NOT NULL,
			nasportid VARCHAR(32),
			nasporttype VARCHAR(32),
			acctstatustype VARCHAR(32),
			acctstarttime %s NOT NULL,
			acctsessiontime BIGINT NOT NULL DEFAULT 0,
			acctinputoctets BIGINT NOT NULL DEFAULT 0,
			acctoutputoctets BIGINT NOT NULL DEFAULT 0,
			callingstationid VARCHAR(50),
			framedipaddress VARCHAR(45)
		)`, d.serialPK, d.timestamp),
		`CREATE INDEX IF NOT EXISTS radacct_username_idx ON radacct (username)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vouchers (
			code VARCHAR(64) PRIMARY KEY,
			duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
			is_used BOOLEAN NOT NULL DEFAULT FALSE,
			created_at %[1]s NOT NULL,
			used_at %[1]s,
			used_by_mac VARCHAR(17),
			sms_recipient VARCHAR(20)
		)`, d.timestamp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS payments (
			transaction_id VARCHAR(64) PRIMARY KEY,
			amount BIGINT NOT NULL,
			currency VARCHAR(8) NOT NULL,
			status VARCHAR(16) NOT NULL,
			mac_address VARCHAR(17) NOT NULL,
			plan_name VARCHAR(64) NOT NULL,
			payment_method VARCHAR(16) NOT NULL,
			phone_number VARCHAR(20),
			created_at %[1]s NOT NULL,
			refunded_at %[1]s,
			refund_reason TEXT
		)`, d.timestamp),
	}
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}
