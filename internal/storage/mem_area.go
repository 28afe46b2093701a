package storage

import "sync"

// MemArea is a SessionScoped area held in process memory.
type MemArea struct {
	mu       sync.Mutex
	items    map[string]string
	used     int64
	maxBytes int64
	closed   bool
}

// NewMemArea returns an empty session area limited to maxBytes
// (DefaultMaxBytes when maxBytes <= 0). Usage counts key and value bytes.
func NewMemArea(maxBytes int64) *MemArea {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &MemArea{items: make(map[string]string), maxBytes: maxBytes}
}

func (m *MemArea) Kind() Kind { return SessionScoped }

func (m *MemArea) GetItem(key string) (string, bool, error) {
	if err := validKey(key); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemArea) SetItem(key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	used := m.used
	if old, ok := m.items[key]; ok {
		used -= int64(len(key) + len(old))
	}
	used += int64(len(key) + len(value))
	if used > m.maxBytes {
		return ErrQuotaExceeded
	}
	m.items[key] = value
	m.used = used
	return nil
}

func (m *MemArea) RemoveItem(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if old, ok := m.items[key]; ok {
		m.used -= int64(len(key) + len(old))
		delete(m.items, key)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemArea) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close drops all items; the area cannot be used afterwards.
func (m *MemArea) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	m.used = 0
	return nil
}

var _ Area = (*MemArea)(nil)
