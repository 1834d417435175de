// Package memory implements a volatile snapshot gateway for tests and
// ephemeral devices.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

var _ driven.AtomicSnapshotStore = (*Store)(nil)

type entry struct {
	isBlob bool
	val    int32
	blob   []byte
}

// Store keeps snapshot entries in a map.
type Store struct {
	mu      sync.RWMutex
	entries map[uint32]entry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[uint32]entry)}
}

// Exists reports whether key holds a value of either kind.
func (s *Store) Exists(_ context.Context, key uint32) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[key]
	return ok, nil
}

// ReadInt returns the integer stored under key.
func (s *Store) ReadInt(_ context.Context, key uint32) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.isBlob {
		return 0, fmt.Errorf("read int %d: %w", key, driven.ErrKeyNotFound)
	}
	return e.val, nil
}

// WriteInt stores val under key, replacing any previous value.
func (s *Store) WriteInt(_ context.Context, key uint32, val int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{val: val}
	return nil
}

// ReadBlob copies the blob stored under key into buf.
func (s *Store) ReadBlob(_ context.Context, key uint32, buf []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || !e.isBlob {
		return 0, fmt.Errorf("read blob %d: %w", key, driven.ErrKeyNotFound)
	}
	if len(e.blob) > len(buf) {
		return 0, fmt.Errorf("read blob %d: %w: %d bytes, buffer %d", key, driven.ErrBlobTooLarge, len(e.blob), len(buf))
	}
	return copy(buf, e.blob), nil
}

// WriteBlob stores a copy of data under key, replacing any previous value.
func (s *Store) WriteBlob(_ context.Context, key uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{isBlob: true, blob: append([]byte(nil), data...)}
	return nil
}

// WithinTx stages fn's writes in a copy of the entries and swaps it in only
// when fn succeeds. Concurrent writers are blocked for the duration.
func (s *Store) WithinTx(_ context.Context, fn func(tx driven.SnapshotStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &Store{entries: maps.Clone(s.entries)}
	if err := fn(staged); err != nil {
		return err
	}
	s.entries = staged.entries
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
