package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"sync"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Outbox ---

type sentRecord struct {
	msg  model.Message
	done func(error)
}

type mockOutbox struct {
	mu      sync.Mutex
	sent    []sentRecord
	sendErr error
}

func (m *mockOutbox) Send(msg model.Message, done func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentRecord{msg: msg, done: done})
	return nil
}

func (m *mockOutbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockOutbox) at(i int) sentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[i]
}

func (m *mockOutbox) last() sentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

// --- Display ---

type mockDisplay struct {
	mu     sync.Mutex
	frames []model.DisplayFrame
}

func (m *mockDisplay) Render(frame model.DisplayFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
}

func (m *mockDisplay) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *mockDisplay) lastFrame() model.DisplayFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames[len(m.frames)-1]
}

// --- Snapshot gateway ---

type gatewayEntry struct {
	isBlob bool
	val    int32
	blob   []byte
}

type mockGateway struct {
	entries map[uint32]gatewayEntry
	writes  int
	// failOnKey makes writes to this key fail when non-zero.
	failOnKey uint32
}

var errWriteFailed = errors.New("write failed")

func newMockGateway() *mockGateway {
	return &mockGateway{entries: make(map[uint32]gatewayEntry)}
}

func (m *mockGateway) Exists(_ context.Context, key uint32) (bool, error) {
	_, ok := m.entries[key]
	return ok, nil
}

func (m *mockGateway) ReadInt(_ context.Context, key uint32) (int32, error) {
	e, ok := m.entries[key]
	if !ok || e.isBlob {
		return 0, driven.ErrKeyNotFound
	}
	return e.val, nil
}

func (m *mockGateway) WriteInt(_ context.Context, key uint32, val int32) error {
	if m.failOnKey != 0 && key == m.failOnKey {
		return errWriteFailed
	}
	m.writes++
	m.entries[key] = gatewayEntry{val: val}
	return nil
}

func (m *mockGateway) ReadBlob(_ context.Context, key uint32, buf []byte) (int, error) {
	e, ok := m.entries[key]
	if !ok || !e.isBlob {
		return 0, driven.ErrKeyNotFound
	}
	if len(e.blob) > len(buf) {
		return 0, driven.ErrBlobTooLarge
	}
	return copy(buf, e.blob), nil
}

func (m *mockGateway) WriteBlob(_ context.Context, key uint32, data []byte) error {
	if m.failOnKey != 0 && key == m.failOnKey {
		return errWriteFailed
	}
	m.writes++
	m.entries[key] = gatewayEntry{isBlob: true, blob: append([]byte(nil), data...)}
	return nil
}

// mockAtomicGateway stages writes in a copy and commits only when fn succeeds.
type mockAtomicGateway struct {
	*mockGateway
	txCount int
}

func (m *mockAtomicGateway) WithinTx(_ context.Context, fn func(tx driven.SnapshotStore) error) error {
	m.txCount++
	staged := &mockGateway{entries: maps.Clone(m.entries), failOnKey: m.failOnKey}
	if err := fn(staged); err != nil {
		return err
	}
	m.entries = staged.entries
	m.writes += staged.writes
	return nil
}
