package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mohit83k/hotspot/internal/model"
	"github.com/mohit83k/hotspot/internal/store"
)

type tx struct {
	tx *sql.Tx
	d  dialect
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.d.rebind(query), args...)
}

func (t *tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.rebind(query), args...)
}

func table(attr model.Attribute) string {
	return tableFor(attr.Kind())
}

func tableFor(kind model.EntryKind) string {
	return "rad" + kind.String()
}

func (t *tx) Put(ctx context.Context, username string, e model.Entry) error {
	if e.Op == model.OpAdd {
		return t.accumulate(ctx, username, e)
	}
	query := `INSERT INTO ` + table(e.Attribute) + ` (username, attribute, op, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username, attribute) DO UPDATE SET op = excluded.op, value = excluded.value`
	if _, err := t.exec(ctx, query, username, e.Attribute.String(), string(model.OpSet), e.Value); err != nil {
		return fmt.Errorf("put %s: %w", e.Attribute, err)
	}
	return nil
}

func (t *tx) accumulate(ctx context.Context, username string, e model.Entry) error {
	if e.Attribute != model.SessionTimeout {
		return fmt.Errorf("accumulate %s: only %s is numeric", e.Attribute, model.SessionTimeout)
	}
	delta, err := strconv.ParseInt(e.Value, 10, 64)
	if err != nil {
		return fmt.Errorf("accumulate %s: %w", e.Attribute, err)
	}
	query := `UPDATE ` + table(e.Attribute) + `
		SET value = CAST(CAST(value AS BIGINT) + ? AS TEXT)
		WHERE username = ? AND attribute = ?`
	res, err := t.exec(ctx, query, delta, username, e.Attribute.String())
	if err != nil {
		return fmt.Errorf("accumulate %s: %w", e.Attribute, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("accumulate %s: %w", e.Attribute, err)
	}
	if n == 0 {
		return fmt.Errorf("accumulate %s for %s: %w", e.Attribute, username, store.ErrNotFound)
	}
	return nil
}

func (t *tx) Create(ctx context.Context, username string, e model.Entry) (bool, error) {
	query := `INSERT INTO ` + table(e.Attribute) + ` (username, attribute, op, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username, attribute) DO NOTHING`
	res, err := t.exec(ctx, query, username, e.Attribute.String(), string(model.OpSet), e.Value)
	if err != nil {
		return false, fmt.Errorf("create %s: %w", e.Attribute, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create %s: %w", e.Attribute, err)
	}
	return n == 1, nil
}

func (t *tx) Get(ctx context.Context, username string, attr model.Attribute) (model.Entry, error) {
	query := `SELECT op, value FROM ` + table(attr) + ` WHERE username = ? AND attribute = ?`
	var op, value string
	if err := t.queryRow(ctx, query, username, attr.String()).Scan(&op, &value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Entry{}, store.ErrNotFound
		}
		return model.Entry{}, fmt.Errorf("get %s: %w", attr, err)
	}
	return model.Entry{Attribute: attr, Op: model.Op(op), Value: value}, nil
}

func (t *tx) Entries(ctx context.Context, username string) ([]model.Entry, error) {
	var entries []model.Entry
	for _, kind := range []model.EntryKind{model.Check, model.Reply} {
		rows, err := t.tx.QueryContext(ctx,
			t.d.rebind(`SELECT attribute, op, value FROM `+tableFor(kind)+` WHERE username = ? ORDER BY attribute`), username)
		if err != nil {
			return nil, fmt.Errorf("list %s entries: %w", kind, err)
		}
		for rows.Next() {
			var name, op, value string
			if err := rows.Scan(&name, &op, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s entry: %w", kind, err)
			}
			attr, err := model.ParseAttribute(name)
			if err != nil || attr.Kind() != kind {
				continue
			}
			entries = append(entries, model.Entry{Attribute: attr, Op: model.Op(op), Value: value})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("list %s entries: %w", kind, err)
		}
	}
	return entries, nil
}

func (t *tx) DeleteAll(ctx context.Context, username string) (int64, error) {
	var total int64
	for _, tbl := range []string{tableFor(model.Check), tableFor(model.Reply)} {
		res, err := t.exec(ctx, `DELETE FROM `+tbl+` WHERE username = ?`, username)
		if err != nil {
			return 0, fmt.Errorf("delete from %s: %w", tbl, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete from %s: %w", tbl, err)
		}
		total += n
	}
	return total, nil
}

func (t *tx) AppendAccounting(ctx context.Context, rec model.AccountingRecord) error {
	const query = `INSERT INTO radacct (
		acctsessionid, username, nasipaddress, nasportid, nasporttype, acctstatustype,
		acctstarttime, acctsessiontime, acctinputoctets, acctoutputoctets,
		callingstationid, framedipaddress
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.exec(ctx, query,
		rec.AcctSessionID, rec.Username, rec.NASIPAddress, rec.NASPortID, rec.NASPortType, rec.AcctStatusType,
		rec.StartTime.UTC(), rec.SessionTime, rec.InputOctets, rec.OutputOctets,
		rec.CallingStationID, nullString(rec.FramedIPAddress),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("accounting session %s: %w", rec.AcctSessionID, store.ErrAlreadyExists)
		}
		return fmt.Errorf("append accounting: %w", err)
	}
	return nil
}

func (t *tx) Voucher(ctx context.Context, code string) (model.Voucher, error) {
	const query = `SELECT code, duration_minutes, is_used, created_at, used_at, used_by_mac, sms_recipient
		FROM vouchers WHERE code = ?`
	var (
		v         model.Voucher
		usedAt    sql.NullTime
		usedBy    sql.NullString
		recipient sql.NullString
	)
	err := t.queryRow(ctx, query, code).Scan(&v.Code, &v.DurationMinutes, &v.IsUsed, &v.CreatedAt, &usedAt, &usedBy, &recipient)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Voucher{}, store.ErrNotFound
		}
		return model.Voucher{}, fmt.Errorf("get voucher: %w", err)
	}
	if usedAt.Valid {
		at := usedAt.Time
		v.UsedAt = &at
	}
	v.UsedByMAC = usedBy.String
	v.SMSRecipient = recipient.String
	return v, nil
}

func (t *tx) InsertVoucher(ctx context.Context, v model.Voucher) error {
	const query = `INSERT INTO vouchers (code, duration_minutes, is_used, created_at, sms_recipient)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING`
	res, err := t.exec(ctx, query, v.Code, v.DurationMinutes, false, v.CreatedAt.UTC(), nullString(v.SMSRecipient))
	if err != nil {
		return fmt.Errorf("insert voucher: %w", err)
	}
	return inserted(res, "voucher "+v.Code)
}

// inserted reports ErrAlreadyExists when an ON CONFLICT DO NOTHING insert
// skipped the row. The transaction stays usable on Postgres, so callers can
// retry with another key.
func inserted(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrAlreadyExists)
	}
	return nil
}

func (t *tx) MarkVoucherUsed(ctx context.Context, code, mac string, at time.Time) error {
	const query = `UPDATE vouchers SET is_used = ?, used_at = ?, used_by_mac = ?
		WHERE code = ? AND is_used = ?`
	res, err := t.exec(ctx, query, true, at.UTC(), mac, code, false)
	if err != nil {
		return fmt.Errorf("mark voucher used: %w", err)
	}
	return t.casResult(ctx, res, `SELECT 1 FROM vouchers WHERE code = ?`, code)
}

func (t *tx) Payment(ctx context.Context, transactionID string) (model.Payment, error) {
	const query = `SELECT transaction_id, amount, currency, status, mac_address, plan_name, payment_method,
		phone_number, created_at, refunded_at, refund_reason
		FROM payments WHERE transaction_id = ?`
	var (
		p          model.Payment
		status     string
		phone      sql.NullString
		refundedAt sql.NullTime
		reason     sql.NullString
	)
	err := t.queryRow(ctx, query, transactionID).Scan(&p.TransactionID, &p.Amount, &p.Currency, &status,
		&p.MACAddress, &p.PlanName, &p.Method, &phone, &p.CreatedAt, &refundedAt, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Payment{}, store.ErrNotFound
		}
		return model.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	p.Status = model.PaymentStatus(status)
	p.PhoneNumber = phone.String
	if refundedAt.Valid {
		at := refundedAt.Time
		p.RefundedAt = &at
	}
	p.RefundReason = reason.String
	return p, nil
}

func (t *tx) InsertPayment(ctx context.Context, p model.Payment) error {
	const query = `INSERT INTO payments (transaction_id, amount, currency, status, mac_address, plan_name,
		payment_method, phone_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO NOTHING`
	res, err := t.exec(ctx, query, p.TransactionID, p.Amount, p.Currency, string(p.Status), p.MACAddress,
		p.PlanName, p.Method, nullString(p.PhoneNumber), p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return inserted(res, "payment "+p.TransactionID)
}

func (t *tx) TransitionPayment(ctx context.Context, transactionID string, from, to model.PaymentStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("payment %s: illegal transition %s -> %s", transactionID, from, to)
	}
	const query = `UPDATE payments SET status = ? WHERE transaction_id = ? AND status = ?`
	res, err := t.exec(ctx, query, string(to), transactionID, string(from))
	if err != nil {
		return fmt.Errorf("transition payment: %w", err)
	}
	return t.casResult(ctx, res, `SELECT 1 FROM payments WHERE transaction_id = ?`, transactionID)
}

func (t *tx) RefundPayment(ctx context.Context, transactionID, reason string, at time.Time) error {
	const query = `UPDATE payments SET status = ?, refunded_at = ?, refund_reason = ?
		WHERE transaction_id = ? AND status = ?`
	res, err := t.exec(ctx, query, string(model.PaymentRefunded), at.UTC(), reason,
		transactionID, string(model.PaymentCompleted))
	if err != nil {
		return fmt.Errorf("refund payment: %w", err)
	}
	return t.casResult(ctx, res, `SELECT 1 FROM payments WHERE transaction_id = ?`, transactionID)
}

// casResult turns a zero-row conditional update into ErrNotFound or ErrConflict.
func (t *tx) casResult(ctx context.Context, res sql.Result, existsQuery string, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var one int
	if err := t.queryRow(ctx, existsQuery, key).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("check existence: %w", err)
	}
	return store.ErrConflict
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
