package repository

import (
	"context"
	"sync"

	"ai-tutor/internal/domain"
)

// MemoryStore keeps threads in process memory. Documents are stored encoded so
// callers never share slices with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Create(_ context.Context, thread domain.Thread) error {
	doc, err := encodeThread(thread)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[thread.ID]; ok {
		return alreadyExists(thread.ID)
	}
	s.docs[thread.ID] = doc
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (domain.Thread, error) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Thread{}, notFound(id)
	}
	return decodeThread(id, doc)
}

func (s *MemoryStore) Save(_ context.Context, thread domain.Thread) error {
	doc, err := encodeThread(thread)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[thread.ID]; !ok {
		return notFound(thread.ID)
	}
	s.docs[thread.ID] = doc
	return nil
}
