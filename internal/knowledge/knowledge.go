// Package knowledge exposes the organizational record set as the
// context blob appended to every agent and chairman prompt.
package knowledge

import (
	"fmt"
	"strings"

	"github.com/Thaura644/llm-conduit/internal/store"
	"github.com/google/uuid"
)

// RecordStore is the slice of the store the knowledge base needs.
type RecordStore interface {
	AddRecord(rec store.Record) error
	Records() ([]store.Record, error)
	DeleteRecord(id string) error
}

// Base reads and writes organizational knowledge records.
type Base struct {
	records RecordStore
}

// NewBase creates a knowledge base over the given record store.
func NewBase(records RecordStore) *Base {
	return &Base{records: records}
}

// AddRecord stores a new knowledge entry under a category.
func (b *Base) AddRecord(category, content string) (store.Record, error) {
	rec := store.Record{
		ID:       "kb-" + uuid.NewString(),
		Category: category,
		Content:  content,
	}
	if err := b.records.AddRecord(rec); err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

// Records returns all knowledge entries, newest first.
func (b *Base) Records() ([]store.Record, error) {
	return b.records.Records()
}

// DeleteRecord removes a knowledge entry.
func (b *Base) DeleteRecord(id string) error {
	return b.records.DeleteRecord(id)
}

// Context renders all records into the prompt context blob.
func (b *Base) Context() (string, error) {
	records, err := b.records.Records()
	if err != nil {
		return "", fmt.Errorf("failed to load knowledge records: %w", err)
	}
	if len(records) == 0 {
		return "No organizational knowledge records available.", nil
	}

	parts := make([]string, 0, len(records))
	for _, r := range records {
		parts = append(parts, fmt.Sprintf("[%s]\n%s", r.Category, r.Content))
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}
