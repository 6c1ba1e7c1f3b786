package controller

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ChuLiYu/colony/internal/memory"
)

// InMemoryStore keeps the aggregate as encoded bytes so every Load hands out
// a fresh copy, the same as a process restart would.
type InMemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Load() (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return memory.New(), nil
	}
	mem := &memory.Memory{}
	if err := json.Unmarshal(s.data, mem); err != nil {
		return nil, fmt.Errorf("decode memory: %w", err)
	}
	if mem.SchemaVer != memory.SchemaVersion {
		return memory.New(), fmt.Errorf("%w: got %d, want %d", memory.ErrSchemaMismatch, mem.SchemaVer, memory.SchemaVersion)
	}
	mem.Normalize()
	return mem, nil
}

func (s *InMemoryStore) Save(mem *memory.Memory) error {
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.saves++
	return nil
}

// Saves counts successful saves.
func (s *InMemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
