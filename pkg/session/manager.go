package session

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("call not found")

// Manager tracks the active calls of the process.
type Manager struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

func NewManager() *Manager {
	return &Manager{calls: make(map[string]*Call)}
}

func (m *Manager) Add(c *Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID()] = c
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calls, id)
}

func (m *Manager) Get(id string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Count returns the number of active calls.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// CloseAll closes every active call and waits until they are removed or ctx
// ends.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.RLock()
	calls := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		calls = append(calls, c)
	}
	m.mu.RUnlock()

	for _, c := range calls {
		c.Close()
	}
	for _, c := range calls {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
