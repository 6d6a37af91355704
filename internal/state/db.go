package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chameleoncloud/doni/internal/db"
)

const workerStateColumns = `hardware_id, worker_type, state::text, state_details, generation,
	in_progress, claimed_by, claimed_from, lease_expires_at,
	attempt_count, next_eligible_at, backoff_delay_ms, created_at, last_updated_at`

type dbStore struct {
	conn db.DBTX
}

// NewDBStore creates a Postgres-backed Store on the worker_state table.
func NewDBStore(conn db.DBTX) Store {
	return &dbStore{conn: conn}
}

func (d *dbStore) Get(ctx context.Context, key Key) (*WorkerState, error) {
	row := d.conn.QueryRow(ctx,
		`SELECT `+workerStateColumns+` FROM worker_state WHERE hardware_id = $1 AND worker_type = $2`,
		key.HardwareID, key.WorkerType,
	)
	ws, err := scanWorkerState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get worker state %s: %w", key, err)
	}
	return ws, nil
}

func (d *dbStore) List(ctx context.Context) ([]*WorkerState, error) {
	return d.query(ctx,
		`SELECT `+workerStateColumns+` FROM worker_state ORDER BY hardware_id, worker_type`)
}

func (d *dbStore) ListByHardware(ctx context.Context, hardwareID uuid.UUID) ([]*WorkerState, error) {
	return d.query(ctx,
		`SELECT `+workerStateColumns+` FROM worker_state WHERE hardware_id = $1 ORDER BY worker_type`,
		hardwareID,
	)
}

func (d *dbStore) query(ctx context.Context, sql string, args ...any) ([]*WorkerState, error) {
	rows, err := d.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list worker states: %w", err)
	}
	defer rows.Close()

	var out []*WorkerState
	for rows.Next() {
		ws, err := scanWorkerState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker state: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (d *dbStore) Create(ctx context.Context, ws *WorkerState) error {
	tag, err := d.conn.Exec(ctx, `
		INSERT INTO worker_state (
			hardware_id, worker_type, state, state_details, generation,
			in_progress, claimed_by, claimed_from, lease_expires_at,
			attempt_count, next_eligible_at, backoff_delay_ms, created_at, last_updated_at
		) VALUES ($1, $2, $3::text::worker_state_type, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (hardware_id, worker_type) DO NOTHING`,
		ws.HardwareID, ws.WorkerType, string(ws.State), detailsOrEmpty(ws.Details), ws.Generation,
		ws.InProgress, ws.ClaimedBy, string(ws.ClaimedFrom), ws.LeaseExpiresAt,
		ws.AttemptCount, ws.NextEligibleAt, ws.BackoffDelay.Milliseconds(), ws.CreatedAt, ws.LastUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert worker state %s: %w", ws.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (d *dbStore) CompareAndSwap(ctx context.Context, next *WorkerState, expected int64) error {
	tag, err := d.conn.Exec(ctx, `
		UPDATE worker_state SET
			state = $3::text::worker_state_type,
			state_details = $4,
			generation = $5,
			in_progress = $6,
			claimed_by = $7,
			claimed_from = $8,
			lease_expires_at = $9,
			attempt_count = $10,
			next_eligible_at = $11,
			backoff_delay_ms = $12,
			last_updated_at = $13
		WHERE hardware_id = $1 AND worker_type = $2 AND generation = $14`,
		next.HardwareID, next.WorkerType, string(next.State), detailsOrEmpty(next.Details), next.Generation,
		next.InProgress, next.ClaimedBy, string(next.ClaimedFrom), next.LeaseExpiresAt,
		next.AttemptCount, next.NextEligibleAt, next.BackoffDelay.Milliseconds(), next.LastUpdatedAt,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update worker state %s: %w", next.Key(), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := d.Get(ctx, next.Key()); err != nil {
		return err
	}
	return ErrConflict
}

func (d *dbStore) Delete(ctx context.Context, key Key) error {
	tag, err := d.conn.Exec(ctx,
		`DELETE FROM worker_state WHERE hardware_id = $1 AND worker_type = $2`,
		key.HardwareID, key.WorkerType,
	)
	if err != nil {
		return fmt.Errorf("failed to delete worker state %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *dbStore) DeleteRemovedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := d.conn.Exec(ctx,
		`DELETE FROM worker_state WHERE state = 'REMOVED' AND last_updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge removed worker states: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanWorkerState(row pgx.Row) (*WorkerState, error) {
	var (
		ws          WorkerState
		state       string
		claimedFrom string
		backoffMs   int64
	)
	err := row.Scan(
		&ws.HardwareID, &ws.WorkerType, &state, &ws.Details, &ws.Generation,
		&ws.InProgress, &ws.ClaimedBy, &claimedFrom, &ws.LeaseExpiresAt,
		&ws.AttemptCount, &ws.NextEligibleAt, &backoffMs, &ws.CreatedAt, &ws.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ws.State, err = ParseState(state); err != nil {
		return nil, err
	}
	ws.ClaimedFrom = State(claimedFrom)
	ws.BackoffDelay = time.Duration(backoffMs) * time.Millisecond
	return &ws, nil
}

func detailsOrEmpty(d map[string]any) map[string]any {
	if d == nil {
		return map[string]any{}
	}
	return d
}
