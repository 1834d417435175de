package driven

import (
	"context"
	"errors"
)

// Sentinel errors returned by SnapshotStore implementations.
var (
	// ErrKeyNotFound indicates the requested key has never been written.
	ErrKeyNotFound = errors.New("snapshot key not found")

	// ErrEncryptionKeyNotSet is returned when an encrypted blob is read by an
	// adapter constructed without an encryption key.
	ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set MYTOTP_SECRET_KEY")

	// ErrBlobTooLarge is returned by ReadBlob when the stored blob does not
	// fit in the caller's buffer. Nothing is copied.
	ErrBlobTooLarge = errors.New("stored blob larger than buffer")
)

// SnapshotStore is the driven port for the persistence gateway: durable
// key-indexed storage of integers and fixed-size blobs. A key holds either an
// integer or a blob; writing one kind replaces the other.
type SnapshotStore interface {
	// Exists reports whether anything has been written under key.
	Exists(ctx context.Context, key uint32) (bool, error)

	// ReadInt returns the integer stored under key, or ErrKeyNotFound.
	ReadInt(ctx context.Context, key uint32) (int32, error)

	// WriteInt stores val under key.
	WriteInt(ctx context.Context, key uint32, val int32) error

	// ReadBlob copies the blob stored under key into buf and returns the
	// number of bytes copied. It returns ErrKeyNotFound for an unknown key
	// and ErrBlobTooLarge when the blob exceeds len(buf).
	ReadBlob(ctx context.Context, key uint32, buf []byte) (int, error)

	// WriteBlob stores a copy of data under key.
	WriteBlob(ctx context.Context, key uint32, data []byte) error
}

// AtomicSnapshotStore is implemented by gateways that can group several
// writes so they either all land or none do. fn receives a store scoped to the
// transaction; if fn returns an error nothing is committed.
type AtomicSnapshotStore interface {
	SnapshotStore
	WithinTx(ctx context.Context, fn func(tx SnapshotStore) error) error
}
