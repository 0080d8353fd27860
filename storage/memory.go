package storage

import (
	"context"
	"sync"

	"example.org/distpow/wire"
)

// MemoryStore keeps everything in process. It backs tests and the
// coordinator's --memory mode.
type MemoryStore struct {
	mu       sync.Mutex
	blocks   map[wire.Hash]wire.Word
	services map[string]ServiceAccount
	clients  map[PublicKey]ClientAccount
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:   make(map[wire.Hash]wire.Word),
		services: make(map[string]ServiceAccount),
		clients:  make(map[PublicKey]ClientAccount),
	}
}

func (m *MemoryStore) FindCachedWork(_ context.Context, hash wire.Hash) (wire.Word, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wire.Word{}, false, ErrClosed
	}
	work, ok := m.blocks[hash]
	return work, ok, nil
}

func (m *MemoryStore) InsertCachedWork(_ context.Context, hash wire.Hash, work wire.Word) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.blocks[hash]; !ok {
		m.blocks[hash] = work
	}
	return nil
}

func (m *MemoryStore) FindCredential(_ context.Context, serviceID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	acct, ok := m.services[serviceID]
	return acct.APIKey, ok, nil
}

func (m *MemoryStore) PutCredential(_ context.Context, serviceID, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	acct := m.services[serviceID]
	acct.APIKey = apiKey
	m.services[serviceID] = acct
	return nil
}

func (m *MemoryStore) UpsertClientAccount(_ context.Context, key PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.clients[key]; !ok {
		m.clients[key] = ClientAccount{}
	}
	return nil
}

func (m *MemoryStore) IncrementClientCounters(_ context.Context, key PublicKey, d ClientDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	acct, ok := m.clients[key]
	if !ok {
		return nil
	}
	acct.apply(d)
	m.clients[key] = acct
	return nil
}

func (m *MemoryStore) IncrementServiceCounters(_ context.Context, serviceID string, d ServiceDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	acct, ok := m.services[serviceID]
	if !ok {
		return nil
	}
	acct.apply(d)
	m.services[serviceID] = acct
	return nil
}

func (m *MemoryStore) ClientAccount(_ context.Context, key PublicKey) (ClientAccount, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ClientAccount{}, false, ErrClosed
	}
	acct, ok := m.clients[key]
	return acct, ok, nil
}

func (m *MemoryStore) ServiceAccount(_ context.Context, serviceID string) (ServiceAccount, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ServiceAccount{}, false, ErrClosed
	}
	acct, ok := m.services[serviceID]
	return acct, ok, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
