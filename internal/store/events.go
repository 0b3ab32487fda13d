package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Thaura644/llm-conduit/internal/events"
	"github.com/Thaura644/llm-conduit/internal/logging"
)

// AppendEvent durably persists one event. The event's id and timestamp
// must already be assigned by the event log.
func (s *Store) AppendEvent(ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event %s: %w", ev.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT INTO events (id, run_id, type, timestamp, data) VALUES (?, ?, ?, ?, ?)",
		ev.ID, ev.RunID, string(ev.Kind()), ev.Timestamp, string(data),
	)
	if err != nil {
		logging.StoreError("AppendEvent %s failed: %v", ev.ID, err)
		return fmt.Errorf("failed to persist event %s: %w", ev.ID, err)
	}
	return nil
}

// Events returns events ordered by timestamp, ties broken by insertion
// order. An empty runID returns events across all runs.
func (s *Store) Events(runID string) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT data FROM events ORDER BY timestamp ASC, rowid ASC"
	args := []any{}
	if runID != "" {
		query = "SELECT data FROM events WHERE run_id = ? ORDER BY timestamp ASC, rowid ASC"
		args = append(args, runID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode stored event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteRun removes all events for a run. Irreversible.
func (s *Store) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM events WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		logging.Store("Deleted run %s (%d events)", runID, n)
	}
	return nil
}

// nowMillis is the store's single clock source (Unix milliseconds).
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
