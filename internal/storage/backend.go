// Package storage persists the host simulator's data contexts.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a context is not stored.
var ErrNotFound = errors.New("not found")

// ContextData is one stored data context. Data holds the host's JSON document
// for the context, including its collections and cases.
type ContextData struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// Backend defines the interface for storage backends.
type Backend interface {
	// Store persists a context, replacing any previous version.
	Store(d *ContextData) error

	// Load retrieves a context by name.
	Load(name string) (*ContextData, error)

	// Delete removes a context. Deleting a missing context is not an error.
	Delete(name string) error

	// List returns the stored context names, sorted.
	List() ([]string, error)

	// Exists checks if a context is stored.
	Exists(name string) bool

	// NextID returns the next unused entity id, 0 if none was saved.
	NextID() (int64, error)

	// Clear removes all data.
	Clear() error

	// BeginTransaction starts an atomic operation.
	BeginTransaction() (Transaction, error)

	// Close closes the storage backend.
	Close() error
}

// Transaction represents an atomic storage operation.
type Transaction interface {
	Store(d *ContextData) error
	Delete(name string) error
	SetNextID(id int64) error
	Commit() error
	Rollback() error
}

// Open creates the backend named by kind: "memory", "sqlite" or
// "postgresql".
func Open(kind, path, url string) (Backend, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		return NewSQLiteStorage(path)
	case "postgresql", "postgres":
		if url == "" {
			return nil, fmt.Errorf("postgresql storage requires a url")
		}
		return NewPostgresStorage(url)
	default:
		return nil, fmt.Errorf("unknown storage type %q", kind)
	}
}

func notFound(name string) error {
	return fmt.Errorf("context %q: %w", name, ErrNotFound)
}
