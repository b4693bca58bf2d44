package node

import (
	"context"
	"sync"

	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// Storage is the opaque blob store the Node Service uses for file-like
// node bodies. Keys are chosen by the Node Service, typically the node's
// uuid. Persistent adapters (filesystem, S3, …) are out of scope; this
// package ships only the in-memory reference implementation.
type Storage interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStorage is a goroutine-safe in-memory Storage implementation.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory blob store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

func (s *MemoryStorage) Put(ctx context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	s.blobs[key] = cp
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.blobs[key]
	if !ok {
		return nil, antboxerrors.New(antboxerrors.CodeNodeNotFound, "blob not found: "+key, 404)
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	return cp, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}
