package storage

import (
	"fmt"
	"slices"
	"sync"
)

// MemoryStorage is an in-memory storage backend.
type MemoryStorage struct {
	contexts map[string][]byte
	nextID   int64
	mu       sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{contexts: make(map[string][]byte)}
}

// Store keeps a copy of the context document.
func (m *MemoryStorage) Store(d *ContextData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[d.Name] = slices.Clone(d.Data)
	return nil
}

// Load returns a copy of a stored context.
func (m *MemoryStorage) Load(name string) (*ContextData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.contexts[name]
	if !ok {
		return nil, notFound(name)
	}
	return &ContextData{Name: name, Data: slices.Clone(data)}, nil
}

func (m *MemoryStorage) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, name)
	return nil
}

func (m *MemoryStorage) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.contexts))
	for name := range m.contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (m *MemoryStorage) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.contexts[name]
	return ok
}

func (m *MemoryStorage) NextID() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextID, nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts = make(map[string][]byte)
	m.nextID = 0
	return nil
}

// BeginTransaction queues changes until Commit applies them under one lock.
func (m *MemoryStorage) BeginTransaction() (Transaction, error) {
	return &memoryTransaction{storage: m}, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// Count returns the number of stored contexts.
func (m *MemoryStorage) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}

type memoryOp struct {
	store  *ContextData
	delete string
}

// memoryTransaction implements Transaction for MemoryStorage.
type memoryTransaction struct {
	storage   *MemoryStorage
	ops       []memoryOp
	nextID    int64
	setNextID bool
	done      bool
}

func (tx *memoryTransaction) Store(d *ContextData) error {
	if tx.done {
		return fmt.Errorf("transaction already committed")
	}
	tx.ops = append(tx.ops, memoryOp{store: &ContextData{Name: d.Name, Data: slices.Clone(d.Data)}})
	return nil
}

func (tx *memoryTransaction) Delete(name string) error {
	if tx.done {
		return fmt.Errorf("transaction already committed")
	}
	tx.ops = append(tx.ops, memoryOp{delete: name})
	return nil
}

func (tx *memoryTransaction) SetNextID(id int64) error {
	if tx.done {
		return fmt.Errorf("transaction already committed")
	}
	tx.nextID = id
	tx.setNextID = true
	return nil
}

// Commit applies the queued operations in order.
func (tx *memoryTransaction) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already committed")
	}
	tx.done = true

	m := tx.storage
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range tx.ops {
		if op.store != nil {
			m.contexts[op.store.Name] = op.store.Data
		} else {
			delete(m.contexts, op.delete)
		}
	}
	if tx.setNextID {
		m.nextID = tx.nextID
	}
	return nil
}

// Rollback discards all queued operations.
func (tx *memoryTransaction) Rollback() error {
	tx.done = true
	tx.ops = nil
	return nil
}
