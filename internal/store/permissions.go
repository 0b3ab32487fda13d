package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// PermissionStatus is the persisted state of one resource grant.
type PermissionStatus string

const (
	StatusGranted PermissionStatus = "GRANTED"
	StatusDenied  PermissionStatus = "DENIED"
	StatusPending PermissionStatus = "PENDING"
)

// Permission is one persisted capability record, keyed by a file path or
// a "cmd:" prefixed command string.
type Permission struct {
	Path        string           `json:"path"`
	AccessLevel string           `json:"access_level"`
	Status      PermissionStatus `json:"status"`
	UpdatedAt   int64            `json:"updated_at"`
}

// SetPermission inserts or replaces a permission record.
func (s *Store) SetPermission(path, accessLevel string, status PermissionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO security_permissions (path, access_level, status, updated_at) VALUES (?, ?, ?, ?)",
		path, accessLevel, string(status), nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("failed to save permission for %s: %w", path, err)
	}
	return nil
}

// Permission returns the persisted record for a resource key, or
// (nil, nil) when no record exists.
func (s *Store) Permission(path string) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p Permission
	var status string
	err := s.db.QueryRow(
		"SELECT path, access_level, status, updated_at FROM security_permissions WHERE path = ?", path,
	).Scan(&p.Path, &p.AccessLevel, &status, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query permission for %s: %w", path, err)
	}
	p.Status = PermissionStatus(status)
	return &p, nil
}
