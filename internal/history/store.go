package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HerbHall/printwatch/pkg/models"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

// StatusRecord is one persisted status snapshot.
type StatusRecord struct {
	ID           int64                   `json:"id"`
	DeviceID     string                  `json:"device_id"`
	State        models.OperationalState `json:"state"`
	Stale        bool                    `json:"stale"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	Supplies     []models.Supply         `json:"supplies"`
	TotalPages   int64                   `json:"total_pages"`
	RecordedAt   time.Time               `json:"recorded_at"`
}

// ErrorRecord is one persisted device error event.
type ErrorRecord struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id"`
	Message      string    `json:"message"`
	Severity     string    `json:"severity"`
	FailureCount int       `json:"failure_count"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create history_status and history_errors tables",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE history_status (
						id            INTEGER PRIMARY KEY AUTOINCREMENT,
						device_id     TEXT NOT NULL,
						state         TEXT NOT NULL,
						stale         INTEGER NOT NULL DEFAULT 0,
						error_message TEXT NOT NULL DEFAULT '',
						supplies      TEXT NOT NULL DEFAULT '[]',
						total_pages   INTEGER NOT NULL DEFAULT 0,
						recorded_at   DATETIME NOT NULL
					);
					CREATE INDEX idx_history_status_device ON history_status(device_id, recorded_at DESC);

					CREATE TABLE history_errors (
						id            INTEGER PRIMARY KEY AUTOINCREMENT,
						device_id     TEXT NOT NULL,
						message       TEXT NOT NULL,
						severity      TEXT NOT NULL,
						failure_count INTEGER NOT NULL,
						occurred_at   DATETIME NOT NULL
					);
					CREATE INDEX idx_history_errors_device ON history_errors(device_id, occurred_at DESC);
				`)
				return err
			},
		},
	}
}

// Store persists status and error history.
type Store struct {
	db *sql.DB
}

// NewStore wraps db. The history migrations must already be applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertStatus appends a status snapshot and sets r.ID.
func (s *Store) InsertStatus(ctx context.Context, r *StatusRecord) error {
	supplies, err := json.Marshal(nonNilSupplies(r.Supplies))
	if err != nil {
		return fmt.Errorf("encode supplies: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history_status (device_id, state, stale, error_message, supplies, total_pages, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.DeviceID, string(r.State), r.Stale, r.ErrorMessage, string(supplies), r.TotalPages, r.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// InsertError appends an error event and sets r.ID.
func (s *Store) InsertError(ctx context.Context, r *ErrorRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history_errors (device_id, message, severity, failure_count, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.DeviceID, r.Message, r.Severity, r.FailureCount, r.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert error history: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// Recent returns up to limit status snapshots of a device, newest first.
func (s *Store) Recent(ctx context.Context, deviceID string, limit int) ([]StatusRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, state, stale, error_message, supplies, total_pages, recorded_at
		 FROM history_status WHERE device_id = ?
		 ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var out []StatusRecord
	for rows.Next() {
		var (
			r        StatusRecord
			state    string
			supplies string
		)
		if err := rows.Scan(&r.ID, &r.DeviceID, &state, &r.Stale, &r.ErrorMessage, &supplies, &r.TotalPages, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		r.State = models.OperationalState(state)
		if err := json.Unmarshal([]byte(supplies), &r.Supplies); err != nil {
			return nil, fmt.Errorf("decode supplies: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Errors returns up to limit error events of a device, newest first.
func (s *Store) Errors(ctx context.Context, deviceID string, limit int) ([]ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, message, severity, failure_count, occurred_at
		 FROM history_errors WHERE device_id = ?
		 ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query error history: %w", err)
	}
	defer rows.Close()

	var out []ErrorRecord
	for rows.Next() {
		var r ErrorRecord
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Message, &r.Severity, &r.FailureCount, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan error history: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes history older than before and returns the rows removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM history_status WHERE recorded_at < ?`,
		`DELETE FROM history_errors WHERE occurred_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, before.UTC())
		if err != nil {
			return total, fmt.Errorf("prune history: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func nonNilSupplies(s []models.Supply) []models.Supply {
	if s == nil {
		return []models.Supply{}
	}
	return s
}
