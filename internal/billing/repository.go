package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// NOTE: This repository assumes the following table exists:
// - billing_statements
//
// with the period constraint:
// UNIQUE (account_id, period_start, period_end)

// Repo is the Postgres-backed statement store.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) FindByPeriod(ctx context.Context, accountID string, start, end time.Time) (BillingStatement, error) {
	const q = `
SELECT id, account_id, period_start, period_end, totals, by_channel, by_source, status, finalized_at, created_at, updated_at
FROM billing_statements
WHERE account_id = $1 AND period_start = $2 AND period_end = $3
`
	var (
		st          BillingStatement
		totals      []byte
		byChannel   []byte
		bySource    []byte
		finalizedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, accountID, start, end).Scan(
		&st.ID,
		&st.AccountID,
		&st.PeriodStart,
		&st.PeriodEnd,
		&totals,
		&byChannel,
		&bySource,
		&st.Status,
		&finalizedAt,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BillingStatement{}, ErrNotFound
		}
		return BillingStatement{}, err
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		st.FinalizedAt = &t
	}
	if err := json.Unmarshal(totals, &st.Totals); err != nil {
		return BillingStatement{}, err
	}
	if err := json.Unmarshal(byChannel, &st.ByChannel); err != nil {
		return BillingStatement{}, err
	}
	if err := json.Unmarshal(bySource, &st.BySource); err != nil {
		return BillingStatement{}, err
	}
	return st, nil
}

func (r *Repo) Upsert(ctx context.Context, st BillingStatement) error {
	const q = `
INSERT INTO billing_statements (id, account_id, period_start, period_end, totals, by_channel, by_source, status, finalized_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (account_id, period_start, period_end) DO UPDATE SET
  totals = EXCLUDED.totals,
  by_channel = EXCLUDED.by_channel,
  by_source = EXCLUDED.by_source,
  status = EXCLUDED.status,
  finalized_at = EXCLUDED.finalized_at,
  updated_at = EXCLUDED.updated_at
`
	totals, err := json.Marshal(st.Totals)
	if err != nil {
		return err
	}
	byChannel, err := json.Marshal(st.ByChannel)
	if err != nil {
		return err
	}
	bySource, err := json.Marshal(st.BySource)
	if err != nil {
		return err
	}
	var finalizedAt sql.NullTime
	if st.FinalizedAt != nil {
		finalizedAt = sql.NullTime{Time: *st.FinalizedAt, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, q,
		st.ID,
		st.AccountID,
		st.PeriodStart,
		st.PeriodEnd,
		totals,
		byChannel,
		bySource,
		st.Status,
		finalizedAt,
		st.CreatedAt,
		st.UpdatedAt,
	)
	return err
}
