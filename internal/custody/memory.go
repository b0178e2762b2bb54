package custody

import (
	"context"
	"sync"
)

// MemoryVault is an in-memory Vault for tests and single-process use.
type MemoryVault struct {
	mu        sync.RWMutex
	records   map[string]Record
	artifacts map[string][]byte
}

// NewMemoryVault creates an empty MemoryVault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		records:   make(map[string]Record),
		artifacts: make(map[string][]byte),
	}
}

// Put implements Vault.
func (v *MemoryVault) Put(_ context.Context, rec *Record, content []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.artifacts[rec.ArtifactRef]; ok {
		return ErrArtifactExists
	}
	v.artifacts[rec.ArtifactRef] = append([]byte(nil), content...)
	v.records[rec.ID] = *rec
	return nil
}

// Record implements RecordSource.
func (v *MemoryVault) Record(_ context.Context, id string) (*Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

// Content implements ContentSource.
func (v *MemoryVault) Content(_ context.Context, ref string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	b, ok := v.artifacts[ref]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	return append([]byte(nil), b...), nil
}
