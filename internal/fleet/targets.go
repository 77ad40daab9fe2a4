package fleet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/printwatch/internal/maintenance"
	"github.com/HerbHall/printwatch/internal/source"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

// ErrNotFound is returned when a persisted target or setting does not exist.
var ErrNotFound = errors.New("not found")

const settingPollInterval = "default_poll_interval"

// TargetRepository persists devices registered at runtime and fleet
// settings changed through the API, so both survive a restart.
type TargetRepository interface {
	// List returns every saved target ordered by registration time.
	List(ctx context.Context) ([]source.Target, error)

	// Save creates or replaces a target.
	Save(ctx context.Context, t source.Target) error

	// Delete removes a target by id.
	Delete(ctx context.Context, id string) error

	// Setting returns a single setting value by key.
	Setting(ctx context.Context, key string) (string, error)

	// SetSetting creates or updates a setting.
	SetSetting(ctx context.Context, key, value string) error
}

var _ TargetRepository = (*SQLiteTargetRepository)(nil)

// SQLiteTargetRepository implements TargetRepository using SQLite.
type SQLiteTargetRepository struct {
	db *sql.DB
}

// storedTarget carries the credentials that Target omits from JSON.
type storedTarget struct {
	source.Target
	Community string `json:"community,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
}

// migrations returns every schema change owned by the fleet plugin.
func migrations() []plugin.Migration {
	out := maintenance.Migrations()
	next := len(out) + 1
	return append(out,
		plugin.Migration{
			Version:     next,
			Description: "create fleet_targets and fleet_settings tables",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE fleet_targets (
						id         TEXT PRIMARY KEY,
						body       TEXT NOT NULL,
						created_at DATETIME NOT NULL,
						updated_at DATETIME NOT NULL
					);
					CREATE TABLE fleet_settings (
						key        TEXT PRIMARY KEY,
						value      TEXT NOT NULL,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					);
				`)
				return err
			},
		},
	)
}

// NewSQLiteTargetRepository wraps db. The fleet migrations must already be
// applied.
func NewSQLiteTargetRepository(db *sql.DB) *SQLiteTargetRepository {
	return &SQLiteTargetRepository{db: db}
}

func (r *SQLiteTargetRepository) List(ctx context.Context) ([]source.Target, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM fleet_targets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []source.Target
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan target row: %w", err)
		}
		var st storedTarget
		if err := json.Unmarshal([]byte(body), &st); err != nil {
			return nil, fmt.Errorf("decode target: %w", err)
		}
		t := st.Target
		t.Community = st.Community
		t.APIKey = st.APIKey
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (r *SQLiteTargetRepository) Save(ctx context.Context, t source.Target) error {
	body, err := json.Marshal(storedTarget{Target: t, Community: t.Community, APIKey: t.APIKey})
	if err != nil {
		return fmt.Errorf("encode target %q: %w", t.ID, err)
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO fleet_targets (id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		t.ID, string(body), now, now,
	)
	if err != nil {
		return fmt.Errorf("save target %q: %w", t.ID, err)
	}
	return nil
}

func (r *SQLiteTargetRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM fleet_targets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete target %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteTargetRepository) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM fleet_settings WHERE key = ?`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteTargetRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fleet_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}
