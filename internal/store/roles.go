package store

import (
	"encoding/json"
	"fmt"
)

// Role is one configured actor: its model, granted powers, behavioral
// prompt, and usable tools. Provider is optional; when empty the engine
// falls back to inferring the provider from the model identifier.
type Role struct {
	Role     string   `json:"role" yaml:"role"`
	Model    string   `json:"model" yaml:"model"`
	Provider string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	Powers   []string `json:"powers" yaml:"powers"`
	Prompt   string   `json:"prompt" yaml:"prompt"`
	Tools    []string `json:"tools" yaml:"tools"`
}

// SaveRole inserts or replaces a team role.
func (s *Store) SaveRole(role Role) error {
	powers, err := json.Marshal(role.Powers)
	if err != nil {
		return fmt.Errorf("failed to serialize powers for %s: %w", role.Role, err)
	}
	tools, err := json.Marshal(role.Tools)
	if err != nil {
		return fmt.Errorf("failed to serialize tools for %s: %w", role.Role, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO team_roles (role, model, provider, powers, prompt, tools) VALUES (?, ?, ?, ?, ?, ?)",
		role.Role, role.Model, role.Provider, string(powers), role.Prompt, string(tools),
	)
	if err != nil {
		return fmt.Errorf("failed to save role %s: %w", role.Role, err)
	}
	return nil
}

// Roles returns all configured team roles.
func (s *Store) Roles() ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT role, model, provider, powers, prompt, tools FROM team_roles")
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var r Role
		var powers, tools string
		if err := rows.Scan(&r.Role, &r.Model, &r.Provider, &powers, &r.Prompt, &tools); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if err := json.Unmarshal([]byte(powers), &r.Powers); err != nil {
			return nil, fmt.Errorf("corrupt powers for role %s: %w", r.Role, err)
		}
		if err := json.Unmarshal([]byte(tools), &r.Tools); err != nil {
			return nil, fmt.Errorf("corrupt tools for role %s: %w", r.Role, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRole removes a team role by name.
func (s *Store) DeleteRole(role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM team_roles WHERE role = ?", role); err != nil {
		return fmt.Errorf("failed to delete role %s: %w", role, err)
	}
	return nil
}
