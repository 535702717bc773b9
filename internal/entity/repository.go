package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is the persisted form of a registered entity. It survives
// restarts so entity IDs stay stable and the last projected state can
// be served before the first fresh update.
type Record struct {
	EntityID  string    `json:"entity_id"`
	Domain    string    `json:"domain"`
	UniqueID  string    `json:"unique_id"`
	Name      string    `json:"name"`
	Available bool      `json:"available"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository defines the interface for entity persistence operations.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// Save inserts or replaces a record by entity ID.
	Save(ctx context.Context, rec *Record) error

	// Get retrieves a record by entity ID.
	// Returns ErrEntityNotFound if it does not exist.
	Get(ctx context.Context, entityID string) (*Record, error)

	// GetByUniqueID retrieves a record by its domain and unique ID.
	// Used to keep entity IDs stable across restarts.
	// Returns ErrEntityNotFound if it does not exist.
	GetByUniqueID(ctx context.Context, domain, uniqueID string) (*Record, error)

	// List retrieves all records, optionally filtered by domain.
	// An empty domain returns everything.
	List(ctx context.Context, domain string) ([]Record, error)

	// UpdateState replaces only the state and availability of a record.
	// This is the hot path, called after every entity update.
	UpdateState(ctx context.Context, entityID string, st State, available bool) error

	// Delete removes a record by entity ID. Deleting a record that does
	// not exist is not an error.
	Delete(ctx context.Context, entityID string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save inserts or replaces a record by entity ID.
func (r *SQLiteRepository) Save(ctx context.Context, rec *Record) error {
	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := `
		INSERT INTO entities (entity_id, domain, unique_id, name, available, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			name = excluded.name,
			available = excluded.available,
			state = excluded.state,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		rec.EntityID, rec.Domain, rec.UniqueID, rec.Name,
		boolToInt(rec.Available), string(stateJSON),
		created.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateUniqueID, rec.Domain, rec.UniqueID)
		}
		return fmt.Errorf("saving entity: %w", err)
	}
	return nil
}

// Get retrieves a record by entity ID.
func (r *SQLiteRepository) Get(ctx context.Context, entityID string) (*Record, error) {
	query := `
		SELECT entity_id, domain, unique_id, name, available, state, created_at, updated_at
		FROM entities
		WHERE entity_id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity by id: %w", err)
	}
	return rec, nil
}

// GetByUniqueID retrieves a record by its domain and unique ID.
func (r *SQLiteRepository) GetByUniqueID(ctx context.Context, domain, uniqueID string) (*Record, error) {
	query := `
		SELECT entity_id, domain, unique_id, name, available, state, created_at, updated_at
		FROM entities
		WHERE domain = ? AND unique_id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, domain, uniqueID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity by unique id: %w", err)
	}
	return rec, nil
}

// List retrieves all records, optionally filtered by domain.
func (r *SQLiteRepository) List(ctx context.Context, domain string) ([]Record, error) {
	query := `
		SELECT entity_id, domain, unique_id, name, available, state, created_at, updated_at
		FROM entities`
	args := []any{}
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY entity_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity rows: %w", err)
	}
	return records, nil
}

// UpdateState replaces only the state and availability of a record.
func (r *SQLiteRepository) UpdateState(ctx context.Context, entityID string, st State, available bool) error {
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	query := `
		UPDATE entities
		SET state = ?, available = ?, updated_at = ?
		WHERE entity_id = ?`

	res, err := r.db.ExecContext(ctx, query,
		string(stateJSON), boolToInt(available),
		time.Now().UTC().Format(time.RFC3339), entityID,
	)
	if err != nil {
		return fmt.Errorf("updating entity state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// Delete removes a record by entity ID.
func (r *SQLiteRepository) Delete(ctx context.Context, entityID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE entity_id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one entity row.
func scanRecord(s scanner) (*Record, error) {
	var (
		rec       Record
		available int
		stateJSON string
		createdAt string
		updatedAt string
	)

	if err := s.Scan(
		&rec.EntityID, &rec.Domain, &rec.UniqueID, &rec.Name,
		&available, &stateJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	rec.Available = available != 0

	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
			return nil, fmt.Errorf("unmarshaling state: %w", err)
		}
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
