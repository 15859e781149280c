package state

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is a process-local Store. Ledgers are copied in and out so
// callers never share slices with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*ConversationState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*ConversationState)}
}

func (m *MemoryStore) Load(_ context.Context, conversationID string) (*ConversationState, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return nil, ErrInvalidConversation
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.items[id]
	if !ok {
		return nil, ErrStateNotFound
	}
	return st.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, st *ConversationState) error {
	if st == nil {
		return ErrNilState
	}
	if err := st.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[strings.TrimSpace(st.ConversationID)] = st.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, strings.TrimSpace(conversationID))
	return nil
}
