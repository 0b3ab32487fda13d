package store

import (
	"fmt"
	"time"
)

// Record is one organizational knowledge entry.
type Record struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Content   string `json:"content"`
	UpdatedAt string `json:"updated_at"`
}

// AddRecord inserts or replaces a knowledge record.
func (s *Store) AddRecord(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.UpdatedAt == "" {
		rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO records (id, category, content, updated_at) VALUES (?, ?, ?, ?)",
		rec.ID, rec.Category, rec.Content, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.ID, err)
	}
	return nil
}

// Records returns all knowledge records, newest first.
func (s *Store) Records() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, category, content, updated_at FROM records ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.Content, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteRecord removes a knowledge record by id.
func (s *Store) DeleteRecord(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM records WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}
