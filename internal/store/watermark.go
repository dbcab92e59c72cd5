package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var relayMigrations = []Migration{
	{
		Version:     1,
		Description: "create relay_watermark",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE relay_watermark (
					id          INTEGER  PRIMARY KEY CHECK (id = 1),
					event_id    INTEGER  NOT NULL,
					updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)
			`)
			return err
		},
	},
}

// LoadWatermark returns the saved watermark. ok is false when none has been
// saved yet.
func (s *Store) LoadWatermark(ctx context.Context) (id int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT event_id FROM relay_watermark WHERE id = 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load watermark: %w", err)
	}
	return id, true, nil
}

// SaveWatermark replaces the saved watermark.
func (s *Store) SaveWatermark(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_watermark (id, event_id, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET event_id = excluded.event_id, updated_at = CURRENT_TIMESTAMP
	`, id)
	if err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}
