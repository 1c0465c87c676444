package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"outreach-platform/internal/touch"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This repository assumes the following table exists:
// - usage_ledger (immutable append-only)
//
// with the idempotency constraint:
// UNIQUE (account_id, channel, provider, ref_id)

// Repo is the Postgres-backed ledger store.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

const ledgerColumns = `id, account_id, lead_id, channel, provider, ref_id, source, units, unit_cost_cents, amount_cents, occurred_at, meta, created_at`

func (r *Repo) Insert(ctx context.Context, e UsageLedgerEntry) error {
	const q = `
INSERT INTO usage_ledger (` + ledgerColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`
	meta, err := marshalMeta(e.Meta)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		e.ID,
		e.AccountID,
		nullString(e.LeadID),
		e.Channel,
		e.Provider,
		e.RefID,
		e.Source,
		e.Units,
		e.UnitCostCents,
		e.AmountCents,
		e.OccurredAt,
		meta,
		e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEntry
	}
	return err
}

func (r *Repo) FindByNaturalKey(ctx context.Context, accountID string, channel touch.Channel, provider, refID string) (UsageLedgerEntry, error) {
	const q = `
SELECT ` + ledgerColumns + `
FROM usage_ledger
WHERE account_id = $1 AND channel = $2 AND provider = $3 AND ref_id = $4
`
	return scanEntry(r.db.QueryRowContext(ctx, q, accountID, string(channel), provider, refID))
}

func (r *Repo) ListForPeriod(ctx context.Context, accountID string, start, end time.Time) ([]UsageLedgerEntry, error) {
	const q = `
SELECT ` + ledgerColumns + `
FROM usage_ledger
WHERE account_id = $1 AND occurred_at >= $2 AND occurred_at < $3
ORDER BY occurred_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, accountID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageLedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique-constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (UsageLedgerEntry, error) {
	var (
		e      UsageLedgerEntry
		leadID sql.NullString
		meta   []byte
	)
	err := row.Scan(
		&e.ID,
		&e.AccountID,
		&leadID,
		&e.Channel,
		&e.Provider,
		&e.RefID,
		&e.Source,
		&e.Units,
		&e.UnitCostCents,
		&e.AmountCents,
		&e.OccurredAt,
		&meta,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UsageLedgerEntry{}, ErrNotFound
		}
		return UsageLedgerEntry{}, err
	}
	e.LeadID = leadID.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Meta); err != nil {
			return UsageLedgerEntry{}, err
		}
	}
	return e, nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
