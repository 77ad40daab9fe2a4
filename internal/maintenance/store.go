package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/printwatch/pkg/plugin"
)

// Record is one completed maintenance visit.
type Record struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	PerformedAt time.Time `json:"performed_at"`
	Technician  string    `json:"technician,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Migrations returns the schema for the maintenance log.
func Migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create maintenance_log table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE maintenance_log (
						id           TEXT PRIMARY KEY,
						device_id    TEXT NOT NULL,
						performed_at DATETIME NOT NULL,
						technician   TEXT NOT NULL DEFAULT '',
						notes        TEXT NOT NULL DEFAULT ''
					);
					CREATE INDEX idx_maintenance_log_device ON maintenance_log(device_id, performed_at DESC);
				`)
				return err
			},
		},
	}
}

// Store persists maintenance visits.
type Store struct {
	db *sql.DB
}

// NewStore wraps db. The maintenance migrations must already be applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert records a visit, assigning an ID when empty.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO maintenance_log (id, device_id, performed_at, technician, notes)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.DeviceID, r.PerformedAt.UTC(), r.Technician, r.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert maintenance record: %w", err)
	}
	return nil
}

// List returns a device's visits, newest first.
func (s *Store) List(ctx context.Context, deviceID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, performed_at, technician, notes
		 FROM maintenance_log WHERE device_id = ? ORDER BY performed_at DESC`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list maintenance records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.PerformedAt, &r.Technician, &r.Notes); err != nil {
			return nil, fmt.Errorf("scan maintenance record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Dates returns the visit times of a device, newest first.
func (s *Store) Dates(ctx context.Context, deviceID string) ([]time.Time, error) {
	records, err := s.List(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(records))
	for i, r := range records {
		out[i] = r.PerformedAt
	}
	return out, nil
}
