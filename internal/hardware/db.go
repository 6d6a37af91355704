package hardware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chameleoncloud/doni/internal/db"
)

const (
	pgUniqueViolation = "23505"
	nameConstraint    = "hardware_name_live_uniq"
)

const hardwareColumns = `uuid, name, hardware_type, project_id, properties, workers,
	created_at, updated_at, deleted_at`

type dbStore struct {
	conn db.DBTX
}

// NewDBStore creates a Postgres-backed hardware store.
func NewDBStore(conn db.DBTX) Store {
	return &dbStore{conn: conn}
}

func (d *dbStore) Create(ctx context.Context, hw *Hardware) error {
	_, err := d.conn.Exec(ctx, `
		INSERT INTO hardware (`+hardwareColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		hw.ID, hw.Name, hw.Type, hw.ProjectID, propertiesOrEmpty(hw.Properties), workersOrEmpty(hw.Workers),
		hw.CreatedAt, hw.UpdatedAt, hw.DeletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if pgErr.ConstraintName == nameConstraint {
				return ErrDuplicateName
			}
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert hardware %s: %w", hw.ID, err)
	}
	return nil
}

func (d *dbStore) Get(ctx context.Context, id uuid.UUID) (*Hardware, error) {
	row := d.conn.QueryRow(ctx, `SELECT `+hardwareColumns+` FROM hardware WHERE uuid = $1`, id)
	hw, err := scanHardware(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get hardware %s: %w", id, err)
	}
	return hw, nil
}

func (d *dbStore) List(ctx context.Context, opts ListOptions) ([]*Hardware, error) {
	rows, err := d.conn.Query(ctx, `
		SELECT `+hardwareColumns+` FROM hardware
		WHERE ($1 OR deleted_at IS NULL)
		  AND ($2 = '' OR project_id = $2)
		ORDER BY created_at, uuid`,
		opts.IncludeDeleted, opts.ProjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list hardware: %w", err)
	}
	defer rows.Close()

	var out []*Hardware
	for rows.Next() {
		hw, err := scanHardware(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hardware: %w", err)
		}
		out = append(out, hw)
	}
	return out, rows.Err()
}

func (d *dbStore) Update(ctx context.Context, hw *Hardware) error {
	tag, err := d.conn.Exec(ctx, `
		UPDATE hardware
		SET name = $2, project_id = $3, properties = $4, workers = $5, updated_at = $6
		WHERE uuid = $1`,
		hw.ID, hw.Name, hw.ProjectID, propertiesOrEmpty(hw.Properties), workersOrEmpty(hw.Workers), hw.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == nameConstraint {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to update hardware %s: %w", hw.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *dbStore) Delete(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := d.conn.Exec(ctx, `
		UPDATE hardware
		SET deleted_at = COALESCE(deleted_at, $2), updated_at = $2
		WHERE uuid = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to delete hardware %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanHardware(row pgx.Row) (*Hardware, error) {
	var hw Hardware
	err := row.Scan(
		&hw.ID, &hw.Name, &hw.Type, &hw.ProjectID, &hw.Properties, &hw.Workers,
		&hw.CreatedAt, &hw.UpdatedAt, &hw.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(hw.Workers) == 0 {
		hw.Workers = nil
	}
	return &hw, nil
}

func propertiesOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

func workersOrEmpty(w []string) []string {
	if w == nil {
		return []string{}
	}
	return w
}
