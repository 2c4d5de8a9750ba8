package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store for local play and tests.
// Subscribers are called synchronously, in write order, by the writer.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	subs   map[string]map[int]ChangeFunc
	nextID int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string][]byte),
		subs: make(map[string]map[int]ChangeFunc),
	}
}

func (m *MemoryStore) Get(ctx context.Context, id string) ([]byte, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidArgs
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

func (m *MemoryStore) Set(ctx context.Context, id string, doc []byte) error {
	if strings.TrimSpace(id) == "" || len(doc) == 0 {
		return ErrInvalidArgs
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[id] = append([]byte(nil), doc...)
	fns := m.listeners(id)
	m.mu.Unlock()
	m.notify(fns, doc)
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, id string, doc []byte) error {
	if strings.TrimSpace(id) == "" || len(doc) == 0 {
		return ErrInvalidArgs
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if _, ok := m.docs[id]; ok {
		m.mu.Unlock()
		return ErrExists
	}
	m.docs[id] = append([]byte(nil), doc...)
	fns := m.listeners(id)
	m.mu.Unlock()
	m.notify(fns, doc)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, id, field string, value []byte) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(field) == "" || !json.Valid(value) {
		return ErrInvalidArgs
	}
	m.mu.Lock()
	raw, ok := m.docs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("stored document %s: %w", id, err)
	}
	fields[field] = json.RawMessage(value)
	doc, err := json.Marshal(fields)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.docs[id] = doc
	fns := m.listeners(id)
	m.mu.Unlock()
	m.notify(fns, doc)
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, id string, fn ChangeFunc) (Subscription, error) {
	if strings.TrimSpace(id) == "" || fn == nil {
		return nil, ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if m.subs[id] == nil {
		m.subs[id] = make(map[int]ChangeFunc)
	}
	m.subs[id][m.nextID] = fn
	return &memSub{m: m, id: id, n: m.nextID}, nil
}

// Subscribers reports how many feeds are open for id.
func (m *MemoryStore) Subscribers(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[id])
}

func (m *MemoryStore) listeners(id string) []ChangeFunc {
	out := make([]ChangeFunc, 0, len(m.subs[id]))
	for _, fn := range m.subs[id] {
		out = append(out, fn)
	}
	return out
}

func (m *MemoryStore) notify(fns []ChangeFunc, doc []byte) {
	for _, fn := range fns {
		fn(append([]byte(nil), doc...), nil)
	}
}

type memSub struct {
	m  *MemoryStore
	id string
	n  int
}

func (s *memSub) Unsubscribe() error {
	s.m.mu.Lock()
	delete(s.m.subs[s.id], s.n)
	if len(s.m.subs[s.id]) == 0 {
		delete(s.m.subs, s.id)
	}
	s.m.mu.Unlock()
	return nil
}
