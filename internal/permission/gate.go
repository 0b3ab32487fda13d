// Package permission implements the capability gate for sensitive
// actions. Resource keys are literal file paths, or "cmd:" plus the
// literal command text for shell execution.
//
// Grants live in two tiers: a session-scoped in-memory set cleared at
// run start, and persistent records that survive restarts. The session
// set is a convenience cache; a persistent GRANTED record always
// satisfies a check on its own.
package permission

import (
	"fmt"
	"sync"

	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/Thaura644/llm-conduit/internal/store"
)

// Scope selects the grant tier.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeAlways  Scope = "always"
)

// PermStore is the slice of the store the gate needs.
type PermStore interface {
	Permission(path string) (*store.Permission, error)
	SetPermission(path, accessLevel string, status store.PermissionStatus) error
}

// Gate answers permission checks for sensitive actions.
type Gate struct {
	mu      sync.RWMutex
	session map[string]struct{}
	perms   PermStore
}

// NewGate creates a gate over the given permission store.
func NewGate(perms PermStore) *Gate {
	return &Gate{
		session: make(map[string]struct{}),
		perms:   perms,
	}
}

// Check resolves a resource key: session grant first, else the
// persisted record's status, else PENDING.
func (g *Gate) Check(resourceKey string) (store.PermissionStatus, error) {
	g.mu.RLock()
	_, inSession := g.session[resourceKey]
	g.mu.RUnlock()
	if inSession {
		return store.StatusGranted, nil
	}

	rec, err := g.perms.Permission(resourceKey)
	if err != nil {
		return "", fmt.Errorf("permission lookup for %s: %w", resourceKey, err)
	}
	if rec != nil {
		return rec.Status, nil
	}
	return store.StatusPending, nil
}

// Set applies a permission decision. Session scope touches only the
// in-memory set; always scope writes through to persistent storage and
// updates the in-memory set so the grant is immediately effective.
func (g *Gate) Set(resourceKey, accessLevel string, status store.PermissionStatus, scope Scope) error {
	if scope == ScopeSession {
		g.mu.Lock()
		if status == store.StatusGranted {
			g.session[resourceKey] = struct{}{}
		} else {
			delete(g.session, resourceKey)
		}
		g.mu.Unlock()
		logging.Permission("session %s for %s", status, resourceKey)
		return nil
	}

	if accessLevel == "" {
		accessLevel = "READ"
	}
	if err := g.perms.SetPermission(resourceKey, accessLevel, status); err != nil {
		return err
	}

	g.mu.Lock()
	if status == store.StatusGranted {
		g.session[resourceKey] = struct{}{}
	} else {
		delete(g.session, resourceKey)
	}
	g.mu.Unlock()

	logging.Permission("persisted %s for %s", status, resourceKey)
	return nil
}

// Grant is shorthand for Set(..., GRANTED, scope).
func (g *Gate) Grant(resourceKey string, scope Scope) error {
	return g.Set(resourceKey, "READ", store.StatusGranted, scope)
}

// ResetSession drops all session-scoped grants. Called when a new run
// starts.
func (g *Gate) ResetSession() {
	g.mu.Lock()
	g.session = make(map[string]struct{})
	g.mu.Unlock()
	logging.PermissionDebug("session grants cleared")
}
