package touch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NOTE: This repository assumes the following table exists:
//
//   touch_runs (
//     id TEXT PRIMARY KEY,
//     account_id TEXT NOT NULL,
//     lead_id TEXT NOT NULL,
//     campaign_id TEXT NULL,
//     channel TEXT NOT NULL,
//     step INT NOT NULL,
//     message_class TEXT NOT NULL,
//     scheduled_at TIMESTAMPTZ NOT NULL,
//     executed_at TIMESTAMPTZ NULL,
//     sent_at TIMESTAMPTZ NULL,
//     execution_ms BIGINT NOT NULL DEFAULT 0,
//     status TEXT NOT NULL,
//     retry_count INT NOT NULL DEFAULT 0,
//     max_retries INT NOT NULL DEFAULT 0,
//     error TEXT NULL,
//     payload JSONB NOT NULL,
//     meta JSONB NULL,
//     created_at TIMESTAMPTZ NOT NULL,
//     updated_at TIMESTAMPTZ NOT NULL
//   )
//
// with an index on (status, scheduled_at) to make FetchDue cheap.

var ErrNotFound = errors.New("touch run not found")

// Repo is the Postgres-backed touch queue.
//
// Claim is the concurrency linchpin of the dispatch subsystem: it is a single
// conditional UPDATE, so when multiple dispatcher instances race on the same
// due rows, the database guarantees each row transitions to executing exactly
// once. No application-level lock exists anywhere in this path.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

const touchRunColumns = `
id, account_id, lead_id, campaign_id, channel, step, message_class,
scheduled_at, executed_at, sent_at, execution_ms,
status, retry_count, max_retries, error, payload, meta, created_at, updated_at`

// Insert persists a pre-built queued run. Payload is immutable after this point.
func (r *Repo) Insert(ctx context.Context, run TouchRun) error {
	if run.ID == "" || run.AccountID == "" || run.LeadID == "" {
		return errors.New("touch: id, account_id and lead_id are required")
	}
	payloadJSON, err := json.Marshal(run.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	metaJSON, err := marshalMeta(run.Meta)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO touch_runs (
  id, account_id, lead_id, campaign_id, channel, step, message_class,
  scheduled_at, executed_at, sent_at, execution_ms,
  status, retry_count, max_retries, error, payload, meta, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
)
`
	_, err = r.db.ExecContext(ctx, q,
		run.ID,
		run.AccountID,
		run.LeadID,
		nullString(run.CampaignID),
		string(run.Channel),
		run.Step,
		run.MessageClass,
		run.ScheduledAt,
		run.ExecutedAt,
		run.SentAt,
		run.ExecutionMS,
		string(run.Status),
		run.RetryCount,
		run.MaxRetries,
		nullString(run.Error),
		payloadJSON,
		metaJSON,
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

// FetchDue returns up to limit queued runs with scheduled_at <= now,
// oldest due first. The returned rows are candidates only; ownership is
// established by Claim.
func (r *Repo) FetchDue(ctx context.Context, now time.Time, limit int) ([]TouchRun, error) {
	const q = `
SELECT ` + touchRunColumns + `
FROM touch_runs
WHERE status = 'queued' AND scheduled_at <= $1
ORDER BY scheduled_at ASC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTouchRuns(rows)
}

// Claim transitions the given ids from queued to executing in one conditional
// update and returns only the rows that actually transitioned. Rows claimed by
// a concurrent dispatcher, or not yet due, are silently absent from the result.
func (r *Repo) Claim(ctx context.Context, ids []string, now time.Time) ([]TouchRun, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
UPDATE touch_runs
SET status = 'executing', executed_at = $2, updated_at = $2
WHERE id = ANY($1) AND status = 'queued' AND scheduled_at <= $2
RETURNING ` + touchRunColumns + `
`
	rows, err := r.db.QueryContext(ctx, q, ids, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTouchRuns(rows)
}

// MarkSent records a live provider-accepted send.
func (r *Repo) MarkSent(ctx context.Context, id string, sentAt time.Time, execMS int64, meta map[string]any) error {
	const q = `
UPDATE touch_runs
SET status = 'sent', sent_at = $2, execution_ms = $3,
    meta = COALESCE(meta, '{}'::jsonb) || $4::jsonb,
    updated_at = $5
WHERE id = $1
`
	return r.markTerminal(ctx, q, id, meta, sentAt, execMS)
}

// MarkCanceled records a simulated (dry-run) send. sent_at stays NULL so
// dry runs are never observable as real sends downstream.
func (r *Repo) MarkCanceled(ctx context.Context, id string, execMS int64, meta map[string]any) error {
	const q = `
UPDATE touch_runs
SET status = 'canceled', execution_ms = $2,
    meta = COALESCE(meta, '{}'::jsonb) || $3::jsonb,
    updated_at = $4
WHERE id = $1
`
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, id, execMS, metaJSON, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkFailed records a terminal sender failure with its error text.
func (r *Repo) MarkFailed(ctx context.Context, id string, errMsg string, execMS int64, meta map[string]any) error {
	const q = `
UPDATE touch_runs
SET status = 'failed', error = $2, execution_ms = $3,
    meta = COALESCE(meta, '{}'::jsonb) || $4::jsonb,
    updated_at = $5
WHERE id = $1
`
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, id, errMsg, execMS, metaJSON, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Get fetches a run by id.
func (r *Repo) Get(ctx context.Context, id string) (TouchRun, error) {
	const q = `
SELECT ` + touchRunColumns + `
FROM touch_runs
WHERE id = $1
`
	run, err := scanTouchRun(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TouchRun{}, ErrNotFound
		}
		return TouchRun{}, err
	}
	return run, nil
}

func (r *Repo) markTerminal(ctx context.Context, q, id string, meta map[string]any, sentAt time.Time, execMS int64) error {
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, id, sentAt, execMS, metaJSON, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTouchRun(row rowScanner) (TouchRun, error) {
	var (
		run         TouchRun
		campaignID  sql.NullString
		executedAt  sql.NullTime
		sentAt      sql.NullTime
		errText     sql.NullString
		payloadJSON []byte
		metaJSON    []byte
		channel     string
		status      string
	)
	if err := row.Scan(
		&run.ID,
		&run.AccountID,
		&run.LeadID,
		&campaignID,
		&channel,
		&run.Step,
		&run.MessageClass,
		&run.ScheduledAt,
		&executedAt,
		&sentAt,
		&run.ExecutionMS,
		&status,
		&run.RetryCount,
		&run.MaxRetries,
		&errText,
		&payloadJSON,
		&metaJSON,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return TouchRun{}, err
	}

	run.Channel = Channel(channel)
	run.Status = Status(status)
	run.CampaignID = campaignID.String
	run.Error = errText.String
	if executedAt.Valid {
		t := executedAt.Time
		run.ExecutedAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		run.SentAt = &t
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &run.Payload); err != nil {
			return TouchRun{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &run.Meta); err != nil {
			return TouchRun{}, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	return run, nil
}

func scanTouchRuns(rows *sql.Rows) ([]TouchRun, error) {
	var out []TouchRun
	for rows.Next() {
		run, err := scanTouchRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
