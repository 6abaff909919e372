package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PanelSnapshotKey is the fixed key the panel state is stored under.
const PanelSnapshotKey = "genlab.panel"

// SnapshotStore keeps small JSON documents under string keys.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a SnapshotStore.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save encodes v and stores it under key, replacing any previous value.
func (s *SnapshotStore) Save(key string, v any, at time.Time) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", key, err)
	}
	query := `
		INSERT INTO genlab_snapshots (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(query, key, string(data), formatTime(at))
		return err
	})
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", key, err)
	}
	return nil
}

// Load decodes the value stored under key into v. It reports false when no
// value is stored.
func (s *SnapshotStore) Load(key string, v any) (bool, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM genlab_snapshots WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading snapshot %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("decoding snapshot %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the value stored under key. Deleting a missing key is not
// an error.
func (s *SnapshotStore) Delete(key string) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM genlab_snapshots WHERE key = ?`, key)
		return err
	})
}
