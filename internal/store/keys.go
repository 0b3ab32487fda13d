package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// APIKey holds credentials for one inference provider.
type APIKey struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
	BaseURL  string `json:"base_url,omitempty"`
}

// SaveAPIKey inserts or replaces a provider's credentials.
func (s *Store) SaveAPIKey(provider, key, baseURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO api_keys (provider, key, base_url) VALUES (?, ?, ?)",
		provider, key, baseURL,
	)
	if err != nil {
		return fmt.Errorf("failed to save api key for %s: %w", provider, err)
	}
	return nil
}

// APIKey returns the credentials for a provider, or (nil, nil) when none
// are configured.
func (s *Store) APIKey(provider string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var k APIKey
	var baseURL sql.NullString
	err := s.db.QueryRow(
		"SELECT provider, key, base_url FROM api_keys WHERE provider = ?", provider,
	).Scan(&k.Provider, &k.Key, &baseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query api key for %s: %w", provider, err)
	}
	k.BaseURL = baseURL.String
	return &k, nil
}

// APIKeys returns all configured provider credentials.
func (s *Store) APIKeys() ([]APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT provider, key, base_url FROM api_keys")
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		var k APIKey
		var baseURL sql.NullString
		if err := rows.Scan(&k.Provider, &k.Key, &baseURL); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		k.BaseURL = baseURL.String
		out = append(out, k)
	}
	return out, rows.Err()
}
