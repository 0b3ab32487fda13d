// Package config loads the orgfile: the YAML bootstrap that seeds team
// roles, provider credentials, and engine settings into the store.
package config

import (
	"fmt"
	"os"

	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/Thaura644/llm-conduit/internal/store"
	"gopkg.in/yaml.v3"
)

// DefaultOrgfileName is looked up in the working directory when no path
// is given.
const DefaultOrgfileName = "orgfile.yaml"

// RoleSet decodes team roles from either the sequence form
// ([{role: CEO, ...}]) or the mapping form ({CEO: {...}}). Legacy
// orgfiles use both.
type RoleSet []store.Role

func (r *RoleSet) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var roles []store.Role
		if err := node.Decode(&roles); err != nil {
			return err
		}
		*r = roles
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			var role store.Role
			if err := node.Content[i+1].Decode(&role); err != nil {
				return fmt.Errorf("role %s: %w", node.Content[i].Value, err)
			}
			if role.Role == "" {
				role.Role = node.Content[i].Value
			}
			*r = append(*r, role)
		}
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		return fmt.Errorf("team roles must be a sequence or a mapping")
	default:
		return fmt.Errorf("team roles must be a sequence or a mapping")
	}
	return nil
}

// APIKeyEntry is one provider credential in the orgfile.
type APIKeyEntry struct {
	Key     string `yaml:"key"`
	BaseURL string `yaml:"base_url"`
}

// Settings are the engine tunables an orgfile may carry.
type Settings struct {
	WindowTimeoutMS int      `yaml:"window_timeout_ms"`
	Authority       []string `yaml:"authority"`
	AutoApprove     *bool    `yaml:"auto_approve"`
	ChairmanModel   string   `yaml:"chairman_model"`
}

// Orgfile is the parsed bootstrap configuration. team_roles and team
// are aliases; team_roles wins when both are present.
type Orgfile struct {
	TeamRoles RoleSet                `yaml:"team_roles"`
	Team      RoleSet                `yaml:"team"`
	APIKeys   map[string]APIKeyEntry `yaml:"api_keys"`
	Settings  Settings               `yaml:"settings"`
}

// Roles returns the effective role list.
func (o *Orgfile) Roles() []store.Role {
	if len(o.TeamRoles) > 0 {
		return o.TeamRoles
	}
	return o.Team
}

// Parse reads and decodes an orgfile.
func Parse(path string) (*Orgfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read orgfile: %w", err)
	}
	var org Orgfile
	if err := yaml.Unmarshal(raw, &org); err != nil {
		return nil, fmt.Errorf("parse orgfile %s: %w", path, err)
	}
	return &org, nil
}

// Store is the slice of the store the orgfile loader writes to.
type Store interface {
	SaveRole(role store.Role) error
	SaveAPIKey(provider, key, baseURL string) error
	SetSetting(key, value string) error
}

// Apply writes an orgfile's roles, credentials, and settings into the
// store. Existing rows for the same keys are replaced.
func Apply(org *Orgfile, st Store) error {
	for _, role := range org.Roles() {
		if role.Role == "" {
			return fmt.Errorf("orgfile role missing name")
		}
		if err := st.SaveRole(role); err != nil {
			return err
		}
	}
	for provider, entry := range org.APIKeys {
		if err := st.SaveAPIKey(provider, entry.Key, entry.BaseURL); err != nil {
			return err
		}
	}
	if org.Settings.AutoApprove != nil {
		value := "false"
		if *org.Settings.AutoApprove {
			value = "true"
		}
		if err := st.SetSetting("auto_approve", value); err != nil {
			return err
		}
	}

	logging.Boot("orgfile applied: %d roles, %d providers", len(org.Roles()), len(org.APIKeys))
	return nil
}

// Load parses an orgfile and applies it. A missing file is not an
// error; the store may already hold configuration from earlier runs.
func Load(path string, st Store) (*Orgfile, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.BootDebug("no orgfile at %s", path)
		return nil, nil
	}
	org, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if err := Apply(org, st); err != nil {
		return nil, err
	}
	return org, nil
}
