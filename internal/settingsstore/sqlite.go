package settingsstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/experiment-core/internal/infrastructure/database"
)

// SQLiteStore persists records in the slot_selections and slot_settings
// tables created by the embedded migrations.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store on a migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save replaces the selection and every settings field of key.
func (s *SQLiteStore) Save(ctx context.Context, key string, rec Record) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO slot_selections (slot_key, implementation, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(slot_key) DO UPDATE SET
				implementation = excluded.implementation,
				updated_at = excluded.updated_at`,
			key, rec.Implementation, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("saving selection %s: %w", key, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM slot_settings WHERE slot_key = ?", key); err != nil {
			return fmt.Errorf("clearing settings %s: %w", key, err)
		}
		for field, value := range rec.Settings {
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encoding %s.%s: %w", key, field, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO slot_settings (slot_key, field, value) VALUES (?, ?, ?)",
				key, field, string(encoded),
			); err != nil {
				return fmt.Errorf("saving %s.%s: %w", key, field, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		"SELECT implementation FROM slot_selections WHERE slot_key = ?", key,
	).Scan(&rec.Implementation)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("loading selection %s: %w", key, err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT field, value FROM slot_settings WHERE slot_key = ?", key)
	if err != nil {
		return Record{}, false, fmt.Errorf("loading settings %s: %w", key, err)
	}
	defer rows.Close()

	rec.Settings = map[string]any{}
	for rows.Next() {
		var field, encoded string
		if err := rows.Scan(&field, &encoded); err != nil {
			return Record{}, false, fmt.Errorf("scanning settings %s: %w", key, err)
		}
		var value any
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			// An undecodable field falls back to its default on expand.
			continue
		}
		rec.Settings[field] = value
	}
	if err := rows.Err(); err != nil {
		return Record{}, false, fmt.Errorf("iterating settings %s: %w", key, err)
	}
	return rec, true, nil
}

// Delete removes the selection of key; its settings cascade.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM slot_selections WHERE slot_key = ?", key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
